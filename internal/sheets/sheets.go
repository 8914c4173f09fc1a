package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "formrelay/pkg/logx"
)

// ErrResourceNotFound is returned when an identifier does not resolve to an
// accessible spreadsheet (or the spreadsheet has no sheets).
var ErrResourceNotFound = errors.New("resource not found")

// Opener opens spreadsheets by identifier.
type Opener interface {
	Open(ctx context.Context, id string) (Spreadsheet, error)
	Close() error
}

// Spreadsheet is an opened spreadsheet.
type Spreadsheet interface {
	ID() string
	Title() string
	FirstSheet(ctx context.Context) (Sheet, error)
}

// Sheet is one tab of a spreadsheet.
type Sheet interface {
	// Headers returns row 1 across columns 1..N, N being the last populated column.
	Headers(ctx context.Context) ([]string, error)
	// LastRow returns the number of populated rows; < 2 means headers only.
	LastRow(ctx context.Context) (int, error)
	// Row returns row i (1-based) across columns 1..N.
	Row(ctx context.Context, i int) ([]any, error)
}

// Config selects and configures a driver.
type Config struct {
	Driver          string
	Path            string
	CredentialsFile string
	BusyTimeout     time.Duration
}

// Open builds the configured Opener.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Opener, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		s, err := OpenSQLite(cfg.Path, cfg.BusyTimeout, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gsheets", "google":
		g, err := OpenGoogle(ctx, cfg.CredentialsFile, log)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown sheets driver: %q", cfg.Driver)
	}
}

// OpenFirstSheet opens the spreadsheet id and returns it with its first sheet.
func OpenFirstSheet(ctx context.Context, o Opener, id string) (Spreadsheet, Sheet, error) {
	ss, err := o.Open(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sh, err := ss.FirstSheet(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ss, sh, nil
}

// lastColumn returns the widest row length, matching a spreadsheet's notion
// of "last populated column".
func lastColumn(rows [][]any) int {
	n := 0
	for _, r := range rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

// pad returns row resized to n cells; missing cells become "".
func pad(row []any, n int) []any {
	out := make([]any, n)
	for i := range out {
		if i < len(row) && row[i] != nil {
			out[i] = row[i]
		} else {
			out[i] = ""
		}
	}
	return out
}

func headerStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch x := v.(type) {
		case string:
			out[i] = x
		case nil:
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}
