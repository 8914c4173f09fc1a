package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"formrelay/internal/app"
)

func newPropsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "props",
		Short: "Read and write script properties such as the data-source id",
	}
	cmd.AddCommand(newPropsGetCommand(ctx))
	cmd.AddCommand(newPropsSetCommand(ctx))
	cmd.AddCommand(newPropsUnsetCommand(ctx))
	return cmd
}

// propKey returns args[0] or the configured data-source property.
func propKey(a *app.App, args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return a.PropertyKey()
}

func newPropsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print a property",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				key := propKey(a, args)
				v, ok, err := a.Property(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("property %s is not set", key)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func newPropsSetCommand(ctx *commandContext) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "set <value>",
		Short: "Set a property (default: the data-source id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				w, err := a.Properties()
				if err != nil {
					return err
				}
				k := propKey(a, []string{key})
				value := strings.TrimSpace(args[0])
				if value == "" {
					return fmt.Errorf("value must not be blank (use props unset)")
				}
				if err := w.Set(cmd.Context(), k, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", k)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Property name (default: properties.key)")
	return cmd
}

func newPropsUnsetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unset [key]",
		Short: "Remove a property",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				w, err := a.Properties()
				if err != nil {
					return err
				}
				k := propKey(a, args)
				if err := w.Unset(cmd.Context(), k); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", k)
				return nil
			})
		},
	}
}
