package sheets

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "formrelay/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// SQLite serves spreadsheets from a local database. A form backend (or the
// `formrelay sheets` commands) appends rows; the relay only reads them.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
}

func OpenSQLite(path string, busy time.Duration, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sheets.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sheets schema: %w", err)
	}
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Open(ctx context.Context, id string) (Spreadsheet, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM spreadsheets WHERE id = ?`, id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spreadsheet %q: %w", id, ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %q: %w", id, err)
	}
	return &sqliteBook{db: s.db, id: id, title: title}, nil
}

// CreateSpreadsheet creates (or renames) a spreadsheet with a single sheet
// whose first row holds headers.
func (s *SQLite) CreateSpreadsheet(ctx context.Context, id, title string, headers []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO spreadsheets(id, title) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`, id, title); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sheets(spreadsheet_id, position, name) VALUES(?, 0, 'Form Responses 1')`, id); err != nil {
		return err
	}
	if len(headers) > 0 {
		cells := make([]any, len(headers))
		for i, h := range headers {
			cells[i] = h
		}
		b, err := json.Marshal(cells)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sheet_rows(spreadsheet_id, position, row_num, cells) VALUES(?, 0, 1, ?)
			 ON CONFLICT(spreadsheet_id, position, row_num) DO UPDATE SET cells = excluded.cells`, id, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendRow appends one row to the first sheet and returns its row number.
func (s *SQLite) AppendRow(ctx context.Context, id string, cells []any) (int, error) {
	b, err := json.Marshal(cells)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	pos, err := firstPosition(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_num), 0) FROM sheet_rows WHERE spreadsheet_id = ? AND position = ?`, id, pos).Scan(&last); err != nil {
		return 0, err
	}
	row := last + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sheet_rows(spreadsheet_id, position, row_num, cells) VALUES(?, ?, ?, ?)`, id, pos, row, string(b)); err != nil {
		return 0, err
	}
	return row, tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func firstPosition(ctx context.Context, q queryer, id string) (int, error) {
	var pos sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MIN(position) FROM sheets WHERE spreadsheet_id = ?`, id).Scan(&pos); err != nil {
		return 0, err
	}
	if !pos.Valid {
		return 0, fmt.Errorf("spreadsheet %q has no sheets: %w", id, ErrResourceNotFound)
	}
	return int(pos.Int64), nil
}

type sqliteBook struct {
	db    *sql.DB
	id    string
	title string
}

func (b *sqliteBook) ID() string    { return b.id }
func (b *sqliteBook) Title() string { return b.title }

func (b *sqliteBook) FirstSheet(ctx context.Context) (Sheet, error) {
	pos, err := firstPosition(ctx, b.db, b.id)
	if err != nil {
		return nil, err
	}
	return &sqliteSheet{db: b.db, id: b.id, pos: pos}, nil
}

type sqliteSheet struct {
	db  *sql.DB
	id  string
	pos int
}

func (s *sqliteSheet) lastColumn(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(json_array_length(cells)), 0) FROM sheet_rows WHERE spreadsheet_id = ? AND position = ?`,
		s.id, s.pos).Scan(&n)
	return n, err
}

func (s *sqliteSheet) readRow(ctx context.Context, i int) ([]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT cells FROM sheet_rows WHERE spreadsheet_id = ? AND position = ? AND row_num = ?`,
		s.id, s.pos, i).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cells []any
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, fmt.Errorf("row %d: %w", i, err)
	}
	return cells, nil
}

func (s *sqliteSheet) Headers(ctx context.Context) ([]string, error) {
	row, err := s.Row(ctx, 1)
	if err != nil {
		return nil, err
	}
	return headerStrings(row), nil
}

func (s *sqliteSheet) LastRow(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_num), 0) FROM sheet_rows WHERE spreadsheet_id = ? AND position = ?`,
		s.id, s.pos).Scan(&n)
	return n, err
}

func (s *sqliteSheet) Row(ctx context.Context, i int) ([]any, error) {
	if i < 1 {
		return nil, fmt.Errorf("row index %d out of range", i)
	}
	n, err := s.lastColumn(ctx)
	if err != nil {
		return nil, err
	}
	cells, err := s.readRow(ctx, i)
	if err != nil {
		return nil, err
	}
	return pad(cells, n), nil
}
