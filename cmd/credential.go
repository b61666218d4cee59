package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/whiteboard-tutor/internal/adapters/secrets/file"
)

func newCredentialCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the generator credential in the local secret store",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store the generator API key read from stdin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := load(cmd)
				if err != nil {
					return err
				}
				defer func() { _ = app.Close() }()

				value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read api key: %w", err)
				}
				value = strings.TrimSpace(value)
				if value == "" {
					return errors.New("api key is empty")
				}

				if err := app.secretStore.Put(cmd.Context(), file.GeneratorAPIKey, value); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "generator credential stored")
				return err
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored generator API key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := load(cmd)
				if err != nil {
					return err
				}
				defer func() { _ = app.Close() }()

				if err := app.secretStore.Delete(cmd.Context(), file.GeneratorAPIKey); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "generator credential removed")
				return err
			},
		},
	)

	return cmd
}
