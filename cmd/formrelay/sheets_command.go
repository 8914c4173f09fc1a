package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"formrelay/internal/app"
	"formrelay/internal/sheets"
)

var errNotLocal = errors.New("sheets commands need sheets.driver=sqlite")

func newSheetsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Feed the local response sheet (sqlite driver)",
	}
	cmd.AddCommand(newSheetsCreateCommand(ctx))
	cmd.AddCommand(newSheetsAppendCommand(ctx))
	return cmd
}

func localSheets(a *app.App) (*sheets.SQLite, error) {
	sq, ok := a.Sheets().(*sheets.SQLite)
	if !ok {
		return nil, errNotLocal
	}
	return sq, nil
}

func newSheetsCreateCommand(ctx *commandContext) *cobra.Command {
	var id string
	var title string
	var headers []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a spreadsheet with a header row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				sq, err := localSheets(a)
				if err != nil {
					return err
				}
				sid := strings.TrimSpace(id)
				if sid == "" {
					sid = uuid.NewString()
				}
				if strings.TrimSpace(title) == "" {
					return fmt.Errorf("--title is required")
				}
				if err := sq.CreateSpreadsheet(cmd.Context(), sid, title, headers); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Spreadsheet id (default: random)")
	cmd.Flags().StringVar(&title, "title", "", "Spreadsheet title, used in the email subject")
	cmd.Flags().StringSliceVar(&headers, "headers", nil, "Comma-separated question titles")
	return cmd
}

func newSheetsAppendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "append <id> [value...]",
		Short: "Append one response row",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.App) error {
				sq, err := localSheets(a)
				if err != nil {
					return err
				}
				cells := make([]any, 0, len(args)-1)
				for _, v := range args[1:] {
					cells = append(cells, v)
				}
				row, err := sq.AppendRow(cmd.Context(), args[0], cells)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appended row %d\n", row)
				return nil
			})
		},
	}
}
