package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"formrelay/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.configPath()
			cfg, err := config.NewManager(path).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d recipients, sheets driver %s)\n", path, len(cfg.Relay.Recipients), cfg.Sheets.Driver)
			return nil
		},
	})
	return cmd
}
