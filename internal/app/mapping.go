package app

import (
	"fmt"
	"strings"
	"time"

	"formrelay/internal/config"
	"formrelay/internal/httpapi"
	"formrelay/internal/mailer"
	"formrelay/internal/relay"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	"formrelay/internal/trigger"
	logx "formrelay/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSheetsConfig(cfg *config.Config) (sheets.Config, error) {
	busy, err := config.ParseDurationOrDefault("sheets.busy_timeout", cfg.Sheets.BusyTimeout, time.Second)
	if err != nil {
		return sheets.Config{}, err
	}
	return sheets.Config{
		Driver:          cfg.Sheets.Driver,
		Path:            strings.TrimSpace(cfg.Sheets.Path),
		CredentialsFile: strings.TrimSpace(cfg.Sheets.CredentialsFile),
		BusyTimeout:     busy,
	}, nil
}

func mapMailConfig(cfg *config.Config) (mailer.Config, error) {
	timeout, err := config.ParseDurationField("mail.send_timeout", cfg.Mail.SendTimeout)
	if err != nil {
		return mailer.Config{}, err
	}
	s := cfg.Mail.SMTP
	return mailer.Config{
		Transport: cfg.Mail.Transport,
		SMTP: mailer.SMTPConfig{
			Host:               strings.TrimSpace(s.Host),
			Port:               s.Port,
			Username:           s.Username,
			Password:           s.Password,
			From:               strings.TrimSpace(s.From),
			TLSMode:            s.TLSMode,
			InsecureSkipVerify: s.InsecureSkipVerify,
		},
		RatePerSec:  cfg.Mail.RatePerSec,
		SendTimeout: timeout,
	}, nil
}

// mapRelayConfig is applied on every reload; branding falls back to the
// built-in logo.
func mapRelayConfig(cfg *config.Config) relay.Config {
	out := relay.Config{
		Recipients: append([]string(nil), cfg.Relay.Recipients...),
		LogoURL:    strings.TrimSpace(cfg.Relay.LogoURL),
		LogoAlt:    strings.TrimSpace(cfg.Relay.LogoAlt),
		RawHTML:    cfg.Relay.RawHTML,
	}
	if out.LogoURL == "" {
		out.LogoURL = config.DefaultLogoURL
	}
	if out.LogoAlt == "" {
		out.LogoAlt = config.DefaultLogoAlt
	}
	return out
}

func mapPollConfig(cfg *config.Config) (trigger.PollConfig, error) {
	raw := strings.TrimSpace(cfg.Triggers.Poll.Schedule)
	if raw == "" {
		raw = config.DefaultPollSpec
	}
	spec, err := trigger.ParseSchedule(raw)
	if err != nil {
		return trigger.PollConfig{}, fmt.Errorf("triggers.poll.schedule: %w", err)
	}
	return trigger.PollConfig{
		Schedule: spec,
		Timezone: strings.TrimSpace(cfg.Triggers.Poll.Timezone),
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	out := httpapi.Config{
		Addr:  strings.TrimSpace(h.Addr),
		Token: strings.TrimSpace(h.Token),
		Pprof: h.Pprof,
	}
	if out.Addr == "" {
		out.Addr = config.DefaultHTTPAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", h.ReadTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("http.idle_timeout", h.IdleTimeout); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}
