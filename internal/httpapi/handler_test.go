package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formrelay/internal/metrics"
	"formrelay/internal/props"
	"formrelay/internal/relay"
	rtsup "formrelay/internal/runtime/supervisor"
	"formrelay/internal/storage"
	"formrelay/internal/trigger"
	logx "formrelay/pkg/logx"
)

const (
	testTimeout = 3 * time.Second
	testTick    = 10 * time.Millisecond
)

type fakeTester struct {
	rep relay.Report
	err error
}

func (f fakeTester) NotifyTest(context.Context) (relay.Report, error) { return f.rep, f.err }

type fakeHooks struct {
	got    []any
	gotID  string
	errFor map[string]error
}

func (f *fakeHooks) Fire(_ context.Context, id string, values []any) (relay.Report, error) {
	f.gotID, f.got = id, values
	if err := f.errFor[id]; err != nil {
		return relay.Report{Kind: relay.KindSubmission}, err
	}
	return relay.Report{Kind: relay.KindSubmission, Subject: "New submission on Intake", Deliveries: []relay.Delivery{{To: "a@x.io"}}}, nil
}

func newTestHandler(cfg Config, tester Tester, hooks Hooks) http.Handler {
	return NewHandler(cfg, Deps{Tester: tester, Hooks: hooks, Metrics: metrics.New()})
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	sup := rtsup.New(context.Background())
	defer sup.Cancel()
	h := NewHandler(Config{}, Deps{Tester: fakeTester{}, Supervisor: sup})

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
}

func TestMetricsRoute(t *testing.T) {
	h := newTestHandler(Config{}, fakeTester{}, nil)
	do(t, h, http.MethodGet, "/healthz", "", nil)

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `formrelay_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestTestRoute(t *testing.T) {
	rep := relay.Report{Kind: relay.KindTest, Subject: "New submission on Intake", Empty: true, Deliveries: []relay.Delivery{{To: "a@x.io"}, {To: "b@x.io"}}}
	h := newTestHandler(Config{}, fakeTester{rep: rep}, nil)

	rec := do(t, h, http.MethodPost, "/v1/test", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got reportJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Empty)
	assert.Len(t, got.Deliveries, 2)
	assert.True(t, got.Deliveries[0].OK)
}

func TestTestRouteErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: b@x.io: 550", relay.ErrDelivery), http.StatusBadGateway},
		{fmt.Errorf("SHEET_ID: %w", props.ErrConfigurationMissing), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestHandler(Config{}, fakeTester{err: tc.err}, nil)
		rec := do(t, h, http.MethodPost, "/v1/test", "", nil)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestAuth(t *testing.T) {
	h := newTestHandler(Config{Token: "s3cret"}, fakeTester{}, nil)

	rec := do(t, h, http.MethodPost, "/v1/test", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodPost, "/v1/test", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/test", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHookRoute(t *testing.T) {
	hooks := &fakeHooks{errFor: map[string]error{
		"unknown": storage.ErrNotFound,
		"polled":  trigger.ErrNotWebhook,
		"failing": fmt.Errorf("%w: x", relay.ErrDelivery),
	}}
	h := newTestHandler(Config{}, fakeTester{}, hooks)

	rec := do(t, h, http.MethodPost, "/v1/hooks/trg-1", `{"values":["Ann","a@x.io",42]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "trg-1", hooks.gotID)
	assert.Equal(t, []any{"Ann", "a@x.io", "42"}, hooks.got)

	cases := map[string]struct {
		path string
		body string
		code int
	}{
		"unknown trigger": {"/v1/hooks/unknown", `{"values":[]}`, http.StatusNotFound},
		"poll trigger":    {"/v1/hooks/polled", `{"values":[]}`, http.StatusConflict},
		"delivery failed": {"/v1/hooks/failing", `{"values":["x"]}`, http.StatusBadGateway},
		"bad json":        {"/v1/hooks/trg-1", `{"values":`, http.StatusBadRequest},
		"empty body":      {"/v1/hooks/trg-1", ``, http.StatusBadRequest},
		"missing values":  {"/v1/hooks/trg-1", `{}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		rec := do(t, h, http.MethodPost, tc.path, tc.body, nil)
		assert.Equal(t, tc.code, rec.Code, name)
	}
}

func TestHookRouteDisabled(t *testing.T) {
	h := newTestHandler(Config{}, fakeTester{}, nil)
	rec := do(t, h, http.MethodPost, "/v1/hooks/trg-1", `{"values":[]}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPprofMount(t *testing.T) {
	h := newTestHandler(Config{Pprof: true}, fakeTester{}, nil)
	rec := do(t, h, http.MethodGet, "/debug/pprof/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestHandler(Config{}, fakeTester{}, nil)
	rec = do(t, h, http.MethodGet, "/debug/pprof/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, isLoopbackAddr("localhost:8080"))
	assert.True(t, isLoopbackAddr("[::1]:8080"))
	assert.False(t, isLoopbackAddr(":8080"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8080"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

func TestServerRunsUnderSupervisor(t *testing.T) {
	sup := rtsup.New(context.Background())
	h := newTestHandler(Config{}, fakeTester{}, nil)
	s := NewServer(Config{Addr: "127.0.0.1:0"}, h, logx.Nop())
	s.Run(sup)

	require.Eventually(t, func() bool { return s.Addr() != "" }, testTimeout, testTick)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}
