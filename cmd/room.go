package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/whiteboard-tutor/internal/adapters/render/status"
	"github.com/bnema/whiteboard-tutor/internal/domain"
)

func newRoomCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Inspect rooms",
	}

	cmd.AddCommand(newRoomStatusCmd(load))

	return cmd
}

func newRoomStatusCmd(load appLoader) *cobra.Command {
	var roomID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a room's session phase and roadmap progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			status, err := app.queries.RoomStatus(cmd.Context(), domain.RoomID(roomID))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			rendered, err := app.roomRender(status, statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render room status: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "Room ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}
