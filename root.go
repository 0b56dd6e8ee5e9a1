package main

import (
	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/cloud-session/pkg/mfa"
)

func newRootCommand() *cobra.Command {
	return buildRootCommand(nil)
}

// buildRootCommand assembles the command tree. A nil prompter reads MFA
// codes from the terminal.
func buildRootCommand(prompter mfa.Prompter) *cobra.Command {
	var configFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &verbose)
	ctx.prompter = prompter

	rootCmd := &cobra.Command{
		Use:           "cloud-session",
		Short:         "Manage cloud credential sessions through the local credential daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	for _, cmd := range newSessionCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newMFADevicesCommand(ctx))
	rootCmd.AddCommand(newListenCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))

	return rootCmd
}
