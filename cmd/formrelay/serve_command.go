package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"formrelay/internal/app"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the HTTP server until interrupted (SIGHUP reloads config)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigCh)

			if err := a.Start(cmd.Context()); err != nil {
				_ = a.Close()
				return err
			}

			var reason app.StopReason
		wait:
			for {
				select {
				case sig := <-sigCh:
					switch sig {
					case syscall.SIGHUP:
						_ = a.Reload(cmd.Context())
						continue
					case syscall.SIGINT:
						reason = app.StopSIGINT
					default:
						reason = app.StopSIGTERM
					}
					break wait
				case <-a.Done():
					reason = app.StopFatalError
					break wait
				}
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.Stop(stopCtx, reason)
		},
	}
}
