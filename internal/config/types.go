package config

// Config is the on-disk configuration (JSON or YAML).
//
// Unknown keys are rejected so typos surface on load and on hot reload.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Properties PropertiesConfig `json:"properties"`
	Sheets     SheetsConfig     `json:"sheets"`
	Mail       MailConfig       `json:"mail"`
	Relay      RelayConfig      `json:"relay"`
	Triggers   TriggersConfig   `json:"triggers"`
	HTTP       HTTPConfig       `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console output: "text" (default) | "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer (properties, triggers, audit).
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/formrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PropertiesConfig selects where the data-source identifier is read from.
//
// Source values:
//   - "store" (default): the storage backend, written with `formrelay props set`
//   - "env": process environment, optionally primed from dotenv files
type PropertiesConfig struct {
	Source string   `json:"source,omitempty"`
	Key    string   `json:"key,omitempty"` // default: "SHEET_ID"
	Dotenv []string `json:"dotenv,omitempty"`
}

// SheetsConfig selects the spreadsheet backend.
//
// Driver values:
//   - "sqlite": local database fed by a form backend (path required)
//   - "gsheets": Google Sheets API v4 (credentials_file required)
type SheetsConfig struct {
	Driver          string `json:"driver"`
	Path            string `json:"path,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	BusyTimeout     string `json:"busy_timeout,omitempty"`
}

// MailConfig controls outbound delivery.
//
// Transport values:
//   - "smtp": deliver through an SMTP relay
//   - "log": dry-run, messages are only logged
type MailConfig struct {
	Transport   string     `json:"transport"`
	SMTP        SMTPConfig `json:"smtp"`
	RatePerSec  int        `json:"rate_per_sec,omitempty"`
	SendTimeout string     `json:"send_timeout,omitempty"`
}

type SMTPConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Username           string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"` // never logged
	From               string `json:"from"`
	TLSMode            string `json:"tls_mode,omitempty"` // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// RelayConfig carries what used to be hardcoded: recipients and branding.
type RelayConfig struct {
	Recipients []string `json:"recipients"`
	LogoURL    string   `json:"logo_url,omitempty"`
	LogoAlt    string   `json:"logo_alt,omitempty"`
	// RawHTML disables escaping of titles, headers and cell values.
	RawHTML bool `json:"raw_html,omitempty"`
}

type TriggersConfig struct {
	Poll PollConfig `json:"poll"`
}

// PollConfig controls the new-row poller.
//
// Schedule accepts a cron expression ("*/1 * * * *", "@every 30s"),
// a Go duration ("30s") or HH:MM ("00:05").
type PollConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// HTTPConfig controls the webhook/ops HTTP server.
//
// Security note: prefer binding to localhost and fronting with a proxy.
// If Token is set, /v1 routes require "Authorization: Bearer <token>".
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token        string `json:"token,omitempty"` // never logged
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
