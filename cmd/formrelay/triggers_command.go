package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"formrelay/internal/app"
	"formrelay/internal/trigger"
)

func newTriggersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Manage form-submit triggers",
	}
	cmd.AddCommand(newTriggersRegisterCommand(ctx))
	cmd.AddCommand(newTriggersListCommand(ctx))
	cmd.AddCommand(newTriggersDeleteCommand(ctx))
	return cmd
}

func newTriggersRegisterCommand(ctx *commandContext) *cobra.Command {
	var sourceID string
	var delivery string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Bind new responses on the data source to the notification handler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				reg, err := a.Triggers()
				if err != nil {
					return err
				}
				t, created, err := reg.Register(cmd.Context(), sourceID, delivery)
				if err != nil {
					return err
				}
				verb := "Already registered"
				if created {
					verb = "Registered"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s trigger %s (%s) on %s\n", verb, t.ID, t.Delivery, t.SourceID)
				if t.Delivery == trigger.DeliveryWebhook {
					fmt.Fprintf(cmd.OutOrStdout(), "POST responses to /v1/hooks/%s\n", t.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "Data-source identifier (default: the configured property)")
	cmd.Flags().StringVar(&delivery, "delivery", trigger.DeliveryPoll, "How responses arrive: poll or webhook")
	return cmd
}

func newTriggersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				reg, err := a.Triggers()
				if err != nil {
					return err
				}
				ts, err := reg.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(ts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No triggers registered")
					return nil
				}
				rows := make([][]string, 0, len(ts))
				for _, t := range ts {
					rows = append(rows, []string{t.ID, t.SourceID, t.Event, t.Handler, t.Delivery, strconv.Itoa(t.Cursor)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Source", "Event", "Handler", "Delivery", "Cursor"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newTriggersDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				reg, err := a.Triggers()
				if err != nil {
					return err
				}
				if err := reg.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted trigger %s\n", args[0])
				return nil
			})
		},
	}
}
