package cmd

import "github.com/spf13/cobra"

// appLoader wires the application for commands that need local storage.
type appLoader func(cmd *cobra.Command) (*app, error)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "tutor",
		Short:         "Whiteboard tutor: guided learning sessions over a shared board",
		Long:          "tutor serves the whiteboard tutoring API, inspects rooms and token quotas, and streams chat replies from a running server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.tutor/config.toml)")

	// Commands that touch local storage wire the app on demand so that
	// --config is already parsed.
	load := appLoader(func(cmd *cobra.Command) (*app, error) {
		return wireApp(configFile, cmd.ErrOrStderr())
	})

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(load),
		newQuotaCmd(load),
		newRoomCmd(load),
		newCredentialCmd(load),
		newChatCmd(),
	)

	return rootCmd
}
