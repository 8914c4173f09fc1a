package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "formrelay",
		Short:         "Relay form submissions as HTML email",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (JSON or YAML)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newTestCommand(ctx))
	rootCmd.AddCommand(newTriggersCommand(ctx))
	rootCmd.AddCommand(newPropsCommand(ctx))
	rootCmd.AddCommand(newSheetsCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
