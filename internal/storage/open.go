package storage

import (
	"context"
	"errors"
	"strings"

	logx "formrelay/pkg/logx"
)

// Store is the persistence API used by the relay services.
type Store interface {
	GetProperty(ctx context.Context, key string) (value string, ok bool, err error)
	SetProperty(ctx context.Context, key, value string) error
	DeleteProperty(ctx context.Context, key string) error

	// PutTrigger inserts t, or returns the existing trigger with the same
	// (SourceID, Event, Handler). When the delivery mode differs, the
	// existing trigger takes t.Delivery and t.Cursor so rows already
	// handled under the old mode are not sent again.
	// created reports whether a new row was inserted.
	PutTrigger(ctx context.Context, t Trigger) (out Trigger, created bool, err error)
	GetTrigger(ctx context.Context, id string) (Trigger, error)
	ListTriggers(ctx context.Context) ([]Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	SetCursor(ctx context.Context, id string, cursor int) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
