package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formrelay/internal/props"
	"formrelay/internal/relay"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	logx "formrelay/pkg/logx"
)

type recorder struct {
	mu      sync.Mutex
	calls   [][]any
	trigger []string
	err     func(values []any) error
}

func (r *recorder) NotifySubmission(ctx context.Context, values []any) (relay.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, values)
	r.trigger = append(r.trigger, relay.TriggerFrom(ctx))
	if r.err != nil {
		return relay.Report{}, r.err(values)
	}
	return relay.Report{}, nil
}

type fixture struct {
	ctx   context.Context
	store storage.Store
	db    *sheets.SQLite
	reg   *Registrar
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	db, err := sheets.OpenSQLite(filepath.Join(dir, "sheets.db"), 0, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.CreateSpreadsheet(ctx, "sheet-1", "Intake", []string{"Name", "Email"}))

	ids := props.NewResolver(props.MapSource{"SHEET_ID": "sheet-1"}, "SHEET_ID")
	return fixture{ctx: ctx, store: st, db: db, reg: NewRegistrar(st, db, ids, logx.Nop())}
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.AppendRow(f.ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)

	first, created, err := f.reg.Register(f.ctx, "", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sheet-1", first.SourceID)
	assert.Equal(t, DeliveryPoll, first.Delivery)
	assert.Equal(t, 2, first.Cursor)

	second, created, err := f.reg.Register(f.ctx, "sheet-1", DeliveryWebhook)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, DeliveryWebhook, second.Delivery)

	all, err := f.reg.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, f.reg.Remove(f.ctx, first.ID))
	assert.ErrorIs(t, f.reg.Remove(f.ctx, first.ID), storage.ErrNotFound)
}

func TestRegisterErrors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.reg.Register(f.ctx, "missing", DeliveryPoll)
	assert.ErrorIs(t, err, sheets.ErrResourceNotFound)

	_, _, err = f.reg.Register(f.ctx, "sheet-1", "carrier-pigeon")
	assert.ErrorIs(t, err, ErrInvalidDelivery)

	noProp := NewRegistrar(f.store, f.db, props.NewResolver(props.MapSource{}, "SHEET_ID"), logx.Nop())
	_, _, err = noProp.Register(f.ctx, "", DeliveryPoll)
	assert.ErrorIs(t, err, props.ErrConfigurationMissing)

	disabled := NewRegistrar(nil, f.db, nil, logx.Nop())
	_, _, err = disabled.Register(f.ctx, "sheet-1", DeliveryPoll)
	assert.ErrorIs(t, err, storage.ErrDisabled)
}

func TestPollSendsRowsAfterCursor(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.AppendRow(f.ctx, "sheet-1", []any{"Old", "old@x.io"})
	require.NoError(t, err)

	trg, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)

	rec := &recorder{}
	p := NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil)

	require.NoError(t, p.Poll(f.ctx))
	assert.Empty(t, rec.calls)

	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)
	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Bob", "b@x.io"})
	require.NoError(t, err)

	require.NoError(t, p.Poll(f.ctx))
	require.Len(t, rec.calls, 2)
	assert.Equal(t, []any{"Ann", "a@x.io"}, rec.calls[0])
	assert.Equal(t, []any{"Bob", "b@x.io"}, rec.calls[1])

	got, err := f.store.GetTrigger(f.ctx, trg.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Cursor)

	require.NoError(t, p.Poll(f.ctx))
	assert.Len(t, rec.calls, 2)
}

func TestPollAdvancesPastDeliveryFailures(t *testing.T) {
	f := newFixture(t)
	trg, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)
	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)

	rec := &recorder{err: func([]any) error { return relay.ErrDelivery }}
	p := NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil)
	require.NoError(t, p.Poll(f.ctx))
	require.NoError(t, p.Poll(f.ctx))
	assert.Len(t, rec.calls, 1)

	got, err := f.store.GetTrigger(f.ctx, trg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Cursor)
}

func TestPollKeepsCursorOnAbort(t *testing.T) {
	f := newFixture(t)
	trg, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)
	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)

	rec := &recorder{err: func([]any) error { return props.ErrConfigurationMissing }}
	p := NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil)
	err = p.Poll(f.ctx)
	assert.ErrorIs(t, err, props.ErrConfigurationMissing)

	got, err := f.store.GetTrigger(f.ctx, trg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor)
}

func TestPollKeepsCursorWhenCanceledMidSend(t *testing.T) {
	f := newFixture(t)
	trg, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)
	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	rec := &recorder{err: func([]any) error {
		cancel()
		return fmt.Errorf("%w: %w", relay.ErrDelivery, context.Canceled)
	}}
	p := NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil)
	assert.ErrorIs(t, p.Poll(ctx), context.Canceled)

	got, err := f.store.GetTrigger(f.ctx, trg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor)

	rec.err = nil
	require.NoError(t, p.Poll(f.ctx))
	require.Len(t, rec.calls, 2)
	assert.Equal(t, rec.calls[0], rec.calls[1])
}

func TestSwitchToPollSkipsRowsSentByWebhook(t *testing.T) {
	f := newFixture(t)
	hook, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryWebhook)
	require.NoError(t, err)

	rec := &recorder{}
	w := NewWebhook(f.reg, rec)
	for _, v := range [][]any{{"Ann", "a@x.io"}, {"Bob", "b@x.io"}} {
		_, err = f.db.AppendRow(f.ctx, "sheet-1", v)
		require.NoError(t, err)
		_, err = w.Fire(f.ctx, hook.ID, v)
		require.NoError(t, err)
	}

	polled, created, err := f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 3, polled.Cursor)

	p := NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil)
	require.NoError(t, p.Poll(f.ctx))
	assert.Len(t, rec.calls, 2)

	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Cy", "c@x.io"})
	require.NoError(t, err)
	require.NoError(t, p.Poll(f.ctx))
	require.Len(t, rec.calls, 3)
	assert.Equal(t, []any{"Cy", "c@x.io"}, rec.calls[2])
}

func TestPollResetsCursorWhenSheetShrinks(t *testing.T) {
	f := newFixture(t)
	trg, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)
	require.NoError(t, f.store.SetCursor(f.ctx, trg.ID, 10))

	rec := &recorder{}
	p := NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil)
	require.NoError(t, p.Poll(f.ctx))
	assert.Empty(t, rec.calls)

	got, err := f.store.GetTrigger(f.ctx, trg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor)
}

func TestPollIgnoresWebhookTriggers(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryWebhook)
	require.NoError(t, err)
	_, err = f.db.AppendRow(f.ctx, "sheet-1", []any{"Ann", "a@x.io"})
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, NewPoller(PollConfig{}, f.store, f.db, rec, logx.Nop(), nil, nil).Poll(f.ctx))
	assert.Empty(t, rec.calls)
}

func TestPollerStartStop(t *testing.T) {
	f := newFixture(t)
	p := NewPoller(PollConfig{Schedule: "1h", Timezone: "UTC"}, f.store, f.db, &recorder{}, logx.Nop(), nil, nil)
	require.NoError(t, p.Start(f.ctx))
	require.NoError(t, p.Start(f.ctx))
	p.Stop(f.ctx)
	p.Stop(f.ctx)

	bad := NewPoller(PollConfig{Schedule: "whenever"}, f.store, f.db, &recorder{}, logx.Nop(), nil, nil)
	assert.Error(t, bad.Start(f.ctx))
}

func TestWebhookFire(t *testing.T) {
	f := newFixture(t)
	hook, _, err := f.reg.Register(f.ctx, "sheet-1", DeliveryWebhook)
	require.NoError(t, err)

	rec := &recorder{}
	w := NewWebhook(f.reg, rec)

	_, err = w.Fire(f.ctx, hook.ID, []any{"Ann"})
	require.NoError(t, err)
	assert.Len(t, rec.calls, 1)
	assert.Equal(t, []string{hook.ID}, rec.trigger)

	_, err = w.Fire(f.ctx, "nope", nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, _, err = f.reg.Register(f.ctx, "sheet-1", DeliveryPoll)
	require.NoError(t, err)
	_, err = w.Fire(f.ctx, hook.ID, nil)
	assert.ErrorIs(t, err, ErrNotWebhook)
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "30s", want: "@every 30s"},
		{in: "00:05", want: "@every 5m0s"},
		{in: "*/5 * * * *", want: "*/5 * * * *"},
		{in: "@hourly", want: "@hourly"},
		{in: "cron:0 9 * * 1", want: "0 9 * * 1"},
		{in: "", err: true},
		{in: "-1m", err: true},
		{in: "00:75", err: true},
		{in: "soon", err: true},
		{in: "cron:bad spec here", err: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.err {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}
