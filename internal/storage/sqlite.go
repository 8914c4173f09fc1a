package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "formrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetProperty(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM properties WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetProperty(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) DeleteProperty(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM properties WHERE key = ?`, key)
	return err
}

const triggerColumns = `id, source_id, event, handler, delivery, cursor, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(r rowScanner) (Trigger, error) {
	var (
		t                Trigger
		created, updated string
	)
	if err := r.Scan(&t.ID, &t.SourceID, &t.Event, &t.Handler, &t.Delivery, &t.Cursor, &created, &updated); err != nil {
		return Trigger{}, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return t, nil
}

func (s *sqliteStore) PutTrigger(ctx context.Context, t Trigger) (Trigger, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Trigger{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	cur, err := scanTrigger(tx.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE source_id = ? AND event = ? AND handler = ?`,
		t.SourceID, t.Event, t.Handler,
	))
	switch {
	case err == nil:
		if cur.Delivery != t.Delivery {
			if _, err := tx.ExecContext(ctx,
				`UPDATE triggers SET delivery = ?, cursor = ?, updated_at = ? WHERE id = ?`,
				t.Delivery, t.Cursor, now.Format(time.RFC3339Nano), cur.ID,
			); err != nil {
				return Trigger{}, false, err
			}
			cur.Delivery = t.Delivery
			cur.Cursor = t.Cursor
			cur.UpdatedAt = now
		}
		return cur, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return Trigger{}, false, err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO triggers(`+triggerColumns+`) VALUES(?,?,?,?,?,?,?,?)`,
		t.ID, t.SourceID, t.Event, t.Handler, t.Delivery, t.Cursor,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	); err != nil {
		return Trigger{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Trigger{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	t, err := scanTrigger(s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Trigger{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) ListTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetCursor(ctx context.Context, id string, cursor int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET cursor = ?, updated_at = ? WHERE id = ?`,
		cursor, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, kind, trigger_id, recipient, subject, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Kind, nullStr(e.TriggerID), e.Recipient, e.Subject,
		e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
