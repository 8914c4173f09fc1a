package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + JSON Lines audit log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Trigger binds an event on a data source to a handler.
// (SourceID, Event, Handler) is unique.
type Trigger struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Event     string    `json:"event"`
	Handler   string    `json:"handler"`
	Delivery  string    `json:"delivery"`
	Cursor    int       `json:"cursor"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry records one delivery attempt.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"` // "submission" | "test"
	TriggerID string    `json:"trigger_id,omitempty"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
