package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "genbalink",
		Short:         "Remote-guidance link between a control console and a field terminal",
		Long:          "genbalink connects one control console and one field terminal peer to peer through a rendezvous relay, and carries chat, alerts, audio/video calls, and an annotated screen share over the link.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newConsoleCmd(),
		newFieldCmd(),
		newRendezvousCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
