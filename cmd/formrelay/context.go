package main

import (
	"context"
	"os"
	"strings"

	"formrelay/internal/app"
)

const (
	defaultConfigPath = "./config.json"
	configEnv         = "FORMRELAY_CONFIG"
)

type commandContext struct {
	configFlag *string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// configPath resolves --config, then $FORMRELAY_CONFIG, then ./config.json.
func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if p := strings.TrimSpace(*c.configFlag); p != "" {
			return p
		}
	}
	if p := strings.TrimSpace(os.Getenv(configEnv)); p != "" {
		return p
	}
	return defaultConfigPath
}

func (c *commandContext) openApp(ctx context.Context) (*app.App, error) {
	return app.NewApp(ctx, c.configPath())
}

// withApp runs fn against a wired app that is not started.
func (c *commandContext) withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := c.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
