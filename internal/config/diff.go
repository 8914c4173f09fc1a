package config

import (
	"reflect"
	"strings"

	logx "formrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (SMTP password, HTTP token) are
// reported only as "set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if !reflect.DeepEqual(oldCfg.Properties, newCfg.Properties) {
		changed = append(changed, "properties")
		attrs = append(attrs,
			logx.String("properties.source", newCfg.Properties.Source),
			logx.String("properties.key", newCfg.PropertyKey()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sheets, newCfg.Sheets) {
		changed = append(changed, "sheets")
		attrs = append(attrs, logx.String("sheets.driver", newCfg.Sheets.Driver))
	}

	om, nm := oldCfg.Mail, newCfg.Mail
	if om.Transport != nm.Transport || om.RatePerSec != nm.RatePerSec ||
		strings.TrimSpace(om.SendTimeout) != strings.TrimSpace(nm.SendTimeout) ||
		om.SMTP.Host != nm.SMTP.Host || om.SMTP.Port != nm.SMTP.Port ||
		om.SMTP.Username != nm.SMTP.Username || om.SMTP.From != nm.SMTP.From ||
		om.SMTP.TLSMode != nm.SMTP.TLSMode || om.SMTP.InsecureSkipVerify != nm.SMTP.InsecureSkipVerify ||
		om.SMTP.Password != nm.SMTP.Password {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.transport", nm.Transport),
			logx.String("mail.smtp.host", nm.SMTP.Host),
			logx.Int("mail.rate_per_sec", nm.RatePerSec),
			logx.Bool("mail.smtp.password_set", nm.SMTP.Password != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Int("relay.recipient_count", len(newCfg.Relay.Recipients)),
			logx.Bool("relay.raw_html", newCfg.Relay.RawHTML),
		)
	}

	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) {
		changed = append(changed, "triggers")
		attrs = append(attrs,
			logx.Bool("triggers.poll.enabled", newCfg.Triggers.Poll.Enabled),
			logx.String("triggers.poll.schedule", newCfg.Triggers.Poll.Schedule),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oh.Token, nh.Token = "", ""
	if !reflect.DeepEqual(oh, nh) || oldCfg.HTTP.Token != newCfg.HTTP.Token {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}

	return changed, attrs
}

// RestartRequired reports sections whose changes only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "properties", "sheets", "mail", "triggers", "http":
			out = append(out, s)
		}
	}
	return out
}
