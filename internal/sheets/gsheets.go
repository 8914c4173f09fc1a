package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gs "google.golang.org/api/sheets/v4"

	logx "formrelay/pkg/logx"
)

// Google reads spreadsheets through the Sheets API v4.
type Google struct {
	srv *gs.Service
	log logx.Logger
}

// OpenGoogle connects with credentialsFile, or application default
// credentials when it is empty. extra options are appended last.
func OpenGoogle(ctx context.Context, credentialsFile string, log logx.Logger, extra ...option.ClientOption) (*Google, error) {
	opts := []option.ClientOption{option.WithScopes(gs.SpreadsheetsReadonlyScope)}
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, extra...)
	srv, err := gs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets api: %w", err)
	}
	return &Google{srv: srv, log: log}, nil
}

func (g *Google) Close() error { return nil }

func (g *Google) Open(ctx context.Context, id string) (Spreadsheet, error) {
	resp, err := g.srv.Spreadsheets.Get(id).
		Fields("spreadsheetId,properties.title,sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleErr(id, err)
	}
	book := &googleBook{srv: g.srv, id: id}
	if resp.Properties != nil {
		book.title = resp.Properties.Title
	}
	for _, sh := range resp.Sheets {
		if sh != nil && sh.Properties != nil {
			book.tabs = append(book.tabs, sh.Properties.Title)
		}
	}
	return book, nil
}

func mapGoogleErr(id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusForbidden:
			return fmt.Errorf("spreadsheet %q: %w", id, ErrResourceNotFound)
		}
	}
	return fmt.Errorf("open spreadsheet %q: %w", id, err)
}

type googleBook struct {
	srv   *gs.Service
	id    string
	title string
	tabs  []string
}

func (b *googleBook) ID() string    { return b.id }
func (b *googleBook) Title() string { return b.title }

func (b *googleBook) FirstSheet(ctx context.Context) (Sheet, error) {
	if len(b.tabs) == 0 {
		return nil, fmt.Errorf("spreadsheet %q has no sheets: %w", b.id, ErrResourceNotFound)
	}
	return &googleSheet{srv: b.srv, id: b.id, a1: quoteSheetName(b.tabs[0])}, nil
}

// googleSheet reads single rows through bounded A1 ranges. Rows are padded
// to the width seen by the last full read of the sheet.
type googleSheet struct {
	srv *gs.Service
	id  string
	a1  string

	mu    sync.Mutex
	width int
	known bool
}

func quoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func (s *googleSheet) values(ctx context.Context, rng string) ([][]any, error) {
	vr, err := s.srv.Spreadsheets.Values.Get(s.id, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleErr(s.id, err)
	}
	return vr.Values, nil
}

// scan reads the whole sheet and records its width.
func (s *googleSheet) scan(ctx context.Context) (rows, width int, err error) {
	all, err := s.values(ctx, s.a1)
	if err != nil {
		return 0, 0, err
	}
	width = lastColumn(all)
	s.mu.Lock()
	s.width, s.known = width, true
	s.mu.Unlock()
	return len(all), width, nil
}

func (s *googleSheet) Headers(ctx context.Context) ([]string, error) {
	row, err := s.Row(ctx, 1)
	if err != nil {
		return nil, err
	}
	return headerStrings(row), nil
}

func (s *googleSheet) LastRow(ctx context.Context) (int, error) {
	n, _, err := s.scan(ctx)
	return n, err
}

func (s *googleSheet) Row(ctx context.Context, i int) ([]any, error) {
	if i < 1 {
		return nil, fmt.Errorf("row index %d out of range", i)
	}
	s.mu.Lock()
	width, known := s.width, s.known
	s.mu.Unlock()
	if !known {
		var err error
		if _, width, err = s.scan(ctx); err != nil {
			return nil, err
		}
	}

	rows, err := s.values(ctx, fmt.Sprintf("%s!%d:%d", s.a1, i, i))
	if err != nil {
		return nil, err
	}
	var row []any
	if len(rows) > 0 {
		row = rows[0]
	}
	if len(row) > width {
		width = len(row)
		s.mu.Lock()
		s.width = max(s.width, width)
		s.mu.Unlock()
	}
	return pad(row, width), nil
}
