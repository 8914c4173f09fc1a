package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"formrelay/internal/app"
	"formrelay/internal/relay"
)

func newTestCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send the latest response to every recipient as a test email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				out := cmd.OutOrStdout()
				if dryRun {
					rep, msg, err := a.Relay().Preview(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Subject: %s\n", rep.Subject)
					fmt.Fprintf(out, "To: %s\n", strings.Join(a.Relay().Config().Recipients, ", "))
					if strings.TrimSpace(outPath) != "" {
						if err := os.WriteFile(outPath, []byte(msg.HTML), 0o644); err != nil {
							return fmt.Errorf("write preview: %w", err)
						}
						fmt.Fprintf(out, "HTML written to %s\n", outPath)
						return nil
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, msg.HTML)
					return nil
				}

				var rep relay.Report
				err := a.Audited(cmd.Context(), func() error {
					var err error
					rep, err = a.Relay().NotifyTest(cmd.Context())
					return err
				})
				printReport(out, rep)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Render the email without sending it")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "With --dry-run, write the HTML body to this file")
	return cmd
}

func printReport(w io.Writer, rep relay.Report) {
	if rep.Subject == "" {
		return
	}
	if rep.Empty {
		fmt.Fprintf(w, "%s (no responses yet)\n", rep.Subject)
	} else {
		fmt.Fprintln(w, rep.Subject)
	}
	rows := make([][]string, 0, len(rep.Deliveries))
	for _, d := range rep.Deliveries {
		status := "sent"
		if d.Err != nil {
			status = "failed: " + d.Err.Error()
		}
		rows = append(rows, []string{d.To, status, d.Took.Round(time.Millisecond).String()})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable([]string{"Recipient", "Status", "Took"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	}
}
