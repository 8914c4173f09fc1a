package sheets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "formrelay/pkg/logx"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sheets.db"), 0, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteReadsFirstSheet(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	require.NoError(t, s.CreateSpreadsheet(ctx, "sheet-1", "Intake", []string{"Name", "Email"}))
	row, err := s.AppendRow(ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)
	assert.Equal(t, 2, row)
	row, err = s.AppendRow(ctx, "sheet-1", []any{"Bob", "b@x.io", 42})
	require.NoError(t, err)
	assert.Equal(t, 3, row)

	ss, sh, err := OpenFirstSheet(ctx, s, "sheet-1")
	require.NoError(t, err)
	assert.Equal(t, "Intake", ss.Title())
	assert.Equal(t, "sheet-1", ss.ID())

	last, err := sh.LastRow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, last)

	headers, err := sh.Headers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Email", ""}, headers)

	values, err := sh.Row(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"Ann", "a@x.io", ""}, values)

	values, err = sh.Row(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{"Bob", "b@x.io", float64(42)}, values)

	values, err = sh.Row(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []any{"", "", ""}, values)

	_, err = sh.Row(ctx, 0)
	assert.Error(t, err)
}

func TestSQLiteHeadersOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	require.NoError(t, s.CreateSpreadsheet(ctx, "empty", "Empty Form", []string{"Name"}))

	_, sh, err := OpenFirstSheet(ctx, s, "empty")
	require.NoError(t, err)
	last, err := sh.LastRow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, last)
}

func TestSQLiteUnknownSpreadsheet(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	_, err := s.Open(ctx, "nope")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	_, err = s.AppendRow(ctx, "nope", []any{"x"})
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestSQLiteReadsAreNotCached(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	require.NoError(t, s.CreateSpreadsheet(ctx, "live", "Live", []string{"A"}))

	_, sh, err := OpenFirstSheet(ctx, s, "live")
	require.NoError(t, err)
	last, err := sh.LastRow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	_, err = s.AppendRow(ctx, "live", []any{"1"})
	require.NoError(t, err)
	last, err = sh.LastRow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, last)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "csv"}, logx.Nop())
	assert.Error(t, err)
}

func TestPadAndQuote(t *testing.T) {
	assert.Equal(t, []any{"a", "", ""}, pad([]any{"a", nil}, 3))
	assert.Equal(t, []any{"a"}, pad([]any{"a", "b"}, 1))
	assert.Equal(t, "'Form Responses 1'", quoteSheetName("Form Responses 1"))
	assert.Equal(t, "'Bob''s'", quoteSheetName("Bob's"))
	assert.Equal(t, 3, lastColumn([][]any{{1}, {1, 2, 3}, {}}))
}
