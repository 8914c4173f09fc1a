package config

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	DefaultPropertyKey = "SHEET_ID"
	DefaultLogoURL     = "https://drive.google.com/uc?export=view&id=1R00SE5d8MehiJlzcghO2vBQ8QfuZ6K11"
	DefaultLogoAlt     = "PETE Logo"
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultPollSpec    = "1m"
)

// PropertyKey returns the configured property name holding the data-source id.
func (c *Config) PropertyKey() string {
	if k := strings.TrimSpace(c.Properties.Key); k != "" {
		return k
	}
	return DefaultPropertyKey
}

// Validate rejects configs that would fail later at runtime. It is used on
// load and as the hot-reload gate, so it must not touch external systems.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown %q (use text or json)", cfg.Logging.Format)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Properties.Source)) {
	case "", "store", "env":
	default:
		return fmt.Errorf("properties.source: unknown %q (use store or env)", cfg.Properties.Source)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Sheets.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Sheets.Path) == "" {
			return fmt.Errorf("sheets.path is required when sheets.driver=sqlite")
		}
	case "gsheets", "google":
		if strings.TrimSpace(cfg.Sheets.CredentialsFile) == "" {
			return fmt.Errorf("sheets.credentials_file is required when sheets.driver=gsheets")
		}
	case "":
		return fmt.Errorf("sheets.driver is required")
	default:
		return fmt.Errorf("sheets.driver: unknown %q", cfg.Sheets.Driver)
	}
	if _, err := ParseDurationField("sheets.busy_timeout", cfg.Sheets.BusyTimeout); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mail.Transport)) {
	case "smtp":
		if strings.TrimSpace(cfg.Mail.SMTP.Host) == "" {
			return fmt.Errorf("mail.smtp.host is required when mail.transport=smtp")
		}
		if cfg.Mail.SMTP.Port <= 0 || cfg.Mail.SMTP.Port > 65535 {
			return fmt.Errorf("mail.smtp.port: invalid %d", cfg.Mail.SMTP.Port)
		}
		if _, err := mail.ParseAddress(cfg.Mail.SMTP.From); err != nil {
			return fmt.Errorf("mail.smtp.from: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Mail.SMTP.TLSMode)) {
		case "", "auto", "starttls", "ssl", "none":
		default:
			return fmt.Errorf("mail.smtp.tls_mode: unknown %q", cfg.Mail.SMTP.TLSMode)
		}
	case "log", "":
	default:
		return fmt.Errorf("mail.transport: unknown %q", cfg.Mail.Transport)
	}
	if cfg.Mail.RatePerSec < 0 {
		return fmt.Errorf("mail.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("mail.send_timeout", cfg.Mail.SendTimeout); err != nil {
		return err
	}

	if len(cfg.Relay.Recipients) == 0 {
		return fmt.Errorf("relay.recipients must not be empty")
	}
	for i, r := range cfg.Relay.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("relay.recipients[%d]: %w", i, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Triggers.Poll.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("triggers.poll.timezone: invalid %q: %w", tz, err)
		}
	}

	for path, raw := range map[string]string{
		"http.read_timeout":  cfg.HTTP.ReadTimeout,
		"http.write_timeout": cfg.HTTP.WriteTimeout,
		"http.idle_timeout":  cfg.HTTP.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
