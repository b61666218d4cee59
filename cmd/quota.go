package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/whiteboard-tutor/internal/adapters/render/status"
	"github.com/bnema/whiteboard-tutor/internal/domain"
)

func newQuotaCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and manage monthly token quotas",
	}

	cmd.AddCommand(newQuotaShowCmd(load), newQuotaSetPlanCmd(load))

	return cmd
}

func newQuotaShowCmd(load appLoader) *cobra.Command {
	var userID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a user's plan and remaining tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			status, err := app.queries.Quota(cmd.Context(), domain.UserID(userID))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			rendered, err := app.quotaRender(status, statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render quota: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newQuotaSetPlanCmd(load appLoader) *cobra.Command {
	var userID string
	var plan string

	cmd := &cobra.Command{
		Use:   "set-plan",
		Short: "Move a user to another plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			name := domain.PlanName(strings.ToLower(strings.TrimSpace(plan)))
			if err := app.quota.SetPlan(cmd.Context(), domain.UserID(userID), name); err != nil {
				if errors.Is(err, domain.ErrPlanNotFound) {
					return fmt.Errorf("%w (configured: %s)", err, strings.Join(app.cfg.PlanNames(), ", "))
				}
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is now on plan %s\n", userID, name)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().StringVar(&plan, "plan", "", "Plan name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}
