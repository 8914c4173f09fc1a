package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formrelay/internal/config"
	"formrelay/internal/eventbus"
	"formrelay/internal/props"
	"formrelay/internal/relay"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	logx "formrelay/pkg/logx"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 20 * time.Millisecond
)

type fixture struct {
	dir     string
	cfgPath string
}

// newFixture writes a config plus a local spreadsheet "form-1" holding a
// header row and one response.
func newFixture(t *testing.T, mutate func(cfg map[string]any)) fixture {
	t.Helper()
	dir := t.TempDir()
	sheetsPath := filepath.Join(dir, "sheets.db")

	sq, err := sheets.OpenSQLite(sheetsPath, time.Second, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sq.CreateSpreadsheet(ctx, "form-1", "Intake", []string{"Name", "Email"}))
	_, err = sq.AppendRow(ctx, "form-1", []any{"Ada", "ada@example.com"})
	require.NoError(t, err)
	require.NoError(t, sq.Close())

	cfg := map[string]any{
		"logging": map[string]any{"level": "error", "console": true},
		"storage": map[string]any{"driver": "file", "path": filepath.Join(dir, "state", "relay.json")},
		"sheets":  map[string]any{"driver": "sqlite", "path": sheetsPath},
		"mail":    map[string]any{"transport": "log"},
		"relay": map[string]any{
			"recipients": []string{"ops@example.com", "sales@example.com"},
		},
		"triggers": map[string]any{"poll": map[string]any{"enabled": false}},
		"http":     map[string]any{"enabled": false},
	}
	if mutate != nil {
		mutate(cfg)
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, b, 0o600))
	return fixture{dir: dir, cfgPath: cfgPath}
}

func newTestApp(t *testing.T, f fixture) *App {
	t.Helper()
	a, err := NewApp(context.Background(), f.cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	w, err := a.Properties()
	require.NoError(t, err)
	require.NoError(t, w.Set(context.Background(), a.PropertyKey(), "form-1"))
	return a
}

func TestNewAppSendsTestNotification(t *testing.T) {
	a := newTestApp(t, newFixture(t, nil))

	rep, err := a.Relay().NotifyTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, relay.KindTest, rep.Kind)
	assert.Equal(t, "form-1", rep.SourceID)
	assert.Equal(t, "New submission on Intake", rep.Subject)
	require.Len(t, rep.Deliveries, 2)
	assert.Zero(t, rep.Failed())

	v, ok, err := a.Property(context.Background(), config.DefaultPropertyKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "form-1", v)
}

func TestAuditedPersistsOneShotSends(t *testing.T) {
	f := newFixture(t, nil)
	a := newTestApp(t, f)

	err := a.Audited(context.Background(), func() error {
		_, err := a.Relay().NotifyTest(context.Background())
		return err
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(f.dir, "state", "relay.audit.jsonl"))
	require.NoError(t, err)
	var got []storage.AuditEntry
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		var e storage.AuditEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "ops@example.com", got[0].Recipient)
	assert.Equal(t, "sales@example.com", got[1].Recipient)
	assert.Equal(t, relay.KindTest, got[0].Kind)
	assert.True(t, got[0].OK)

	sentinel := assert.AnError
	assert.ErrorIs(t, a.Audited(context.Background(), func() error { return sentinel }), sentinel)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, func(cfg map[string]any) {
		cfg["relay"] = map[string]any{"recipients": []string{}}
	})
	_, err := NewApp(context.Background(), f.cfgPath)
	require.Error(t, err)
}

func TestNewAppWithoutStorage(t *testing.T) {
	f := newFixture(t, func(cfg map[string]any) {
		delete(cfg, "storage")
		cfg["properties"] = map[string]any{"source": "env", "key": "FORMRELAY_TEST_SHEET"}
		cfg["triggers"] = map[string]any{"poll": map[string]any{"enabled": true}}
	})
	t.Setenv("FORMRELAY_TEST_SHEET", "form-1")

	a, err := NewApp(context.Background(), f.cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Triggers()
	assert.ErrorIs(t, err, storage.ErrDisabled)
	assert.Nil(t, a.poller)

	_, err = a.Properties()
	assert.ErrorIs(t, err, props.ErrReadOnly)

	rep, err := a.Relay().NotifyTest(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Deliveries, 2)
}

func TestStartServesHTTPAndStops(t *testing.T) {
	f := newFixture(t, func(cfg map[string]any) {
		cfg["http"] = map[string]any{"enabled": true, "addr": "127.0.0.1:0"}
		cfg["triggers"] = map[string]any{"poll": map[string]any{"enabled": true, "schedule": "1h"}}
	})
	a := newTestApp(t, f)
	require.NoError(t, a.Start(context.Background()))
	require.Error(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return a.HTTPAddr() != "" }, testTimeout, testTick)

	resp, err := http.Get("http://" + a.HTTPAddr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopCommand))

	select {
	case <-a.Done():
	default:
		t.Fatal("app context still running after Stop")
	}
}

func TestApplyConfigUpdatesRelay(t *testing.T) {
	a := newTestApp(t, newFixture(t, nil))

	old := a.Config()
	next := *old
	next.Relay.Recipients = []string{"new@example.com"}
	next.Relay.LogoAlt = "Acme"

	events, unsub := a.bus.Subscribe(4)
	defer unsub()

	a.applyConfig(old, &next)

	got := a.Relay().Config()
	assert.Equal(t, []string{"new@example.com"}, got.Recipients)
	assert.Equal(t, "Acme", got.LogoAlt)
	assert.Equal(t, config.DefaultLogoURL, got.LogoURL)

	select {
	case e := <-events:
		assert.Equal(t, eventbus.TypeConfigReload, e.Type)
		assert.Equal(t, []string{"relay"}, e.Data)
	case <-time.After(testTimeout):
		t.Fatal("no reload event")
	}
}

type auditStore struct {
	storage.Store

	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *auditStore) snapshot() []storage.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.AuditEntry(nil), s.entries...)
}

func TestRunAuditPersistsDeliveries(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	st := &auditStore{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runAudit(ctx, events, st, logx.Nop())
	}()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	eventbus.Publish(bus, eventbus.TypeSent, relay.DeliveryEvent{Kind: relay.KindSubmission, TriggerID: "t1", To: "a@example.com", Subject: "New submission on Intake", At: at, TookMS: 12})
	eventbus.Publish(bus, eventbus.TypePollError, "ignored")
	eventbus.Publish(bus, eventbus.TypeFailed, relay.DeliveryEvent{Kind: relay.KindTest, To: "b@example.com", Subject: "New submission on Intake", At: at, Error: "refused"})

	require.Eventually(t, func() bool { return len(st.snapshot()) == 2 }, testTimeout, testTick)
	cancel()
	<-done

	got := st.snapshot()
	assert.Equal(t, storage.AuditEntry{At: at, Kind: "submission", TriggerID: "t1", Recipient: "a@example.com", Subject: "New submission on Intake", OK: true, TookMS: 12}, got[0])
	assert.False(t, got[1].OK)
	assert.Equal(t, "refused", got[1].Error)
	assert.Equal(t, "b@example.com", got[1].Recipient)
}

func TestMapping(t *testing.T) {
	cfg := &config.Config{}

	rc := mapRelayConfig(cfg)
	assert.Equal(t, config.DefaultLogoURL, rc.LogoURL)
	assert.Equal(t, config.DefaultLogoAlt, rc.LogoAlt)

	pc, err := mapPollConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "@every 1m0s", pc.Schedule)

	cfg.Triggers.Poll.Schedule = "not a schedule"
	_, err = mapPollConfig(cfg)
	assert.Error(t, err)

	hc, err := mapHTTPConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHTTPAddr, hc.Addr)

	cfg.HTTP.ReadTimeout = "soon"
	_, err = mapHTTPConfig(cfg)
	assert.Error(t, err)

	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	_, _, err = mapStorageConfig(cfg)
	assert.Error(t, err)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "relay.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "relay.db", BusyTimeout: time.Second}, sc)

	cfg.Mail.SendTimeout = "10s"
	cfg.Mail.SMTP.From = " relay@example.com "
	mc, err := mapMailConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, mc.SendTimeout)
	assert.Equal(t, "relay@example.com", mc.SMTP.From)
}
