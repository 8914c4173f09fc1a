package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"formrelay/internal/metrics"
	"formrelay/internal/props"
	"formrelay/internal/relay"
	rtsup "formrelay/internal/runtime/supervisor"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	"formrelay/internal/trigger"
	logx "formrelay/pkg/logx"
)

const maxBody = 1 << 20

// Tester runs the on-demand test send.
type Tester interface {
	NotifyTest(ctx context.Context) (relay.Report, error)
}

// Hooks fires webhook-mode triggers.
type Hooks interface {
	Fire(ctx context.Context, id string, values []any) (relay.Report, error)
}

// Deps are the handler's collaborators. Nil Hooks disables the webhook
// route; nil Supervisor omits loop status from /healthz.
type Deps struct {
	Tester     Tester
	Hooks      Hooks
	Metrics    *metrics.Metrics
	Supervisor *rtsup.Supervisor
	Log        logx.Logger
}

type api struct {
	Deps
	token string
}

// NewHandler builds the router.
func NewHandler(cfg Config, d Deps) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	a := &api{Deps: d, token: strings.TrimSpace(cfg.Token)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.auth)
		r.Post("/test", a.test)
		if d.Hooks != nil {
			r.Post("/hooks/{triggerID}", a.hook)
		}
	})

	if cfg.Pprof {
		r.Group(func(r chi.Router) {
			r.Use(a.auth)
			r.Mount("/debug", middleware.Profiler())
		})
	}
	return r
}

func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)
		a.Metrics.HTTPRequest(r.Method, route, status, took)
		a.Log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("route", route),
			logx.Int("status", status),
			logx.Duration("took", took),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *api) auth(next http.Handler) http.Handler {
	if a.token == "" {
		return next
	}
	want := []byte(a.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(ah, p) {
			got := []byte(strings.TrimSpace(strings.TrimPrefix(ah, p)))
			if subtle.ConstantTimeCompare(got, want) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
	})
}

type healthResponse struct {
	Status string             `json:"status"`
	Loops  []rtsup.LoopStatus `json:"loops,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Loops: a.Supervisor.Status()}
	if a.Supervisor != nil {
		if err := a.Supervisor.Err(); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type deliveryJSON struct {
	To    string `json:"to"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type reportJSON struct {
	Kind       string         `json:"kind"`
	SourceID   string         `json:"source_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Empty      bool           `json:"empty,omitempty"`
	Deliveries []deliveryJSON `json:"deliveries"`
}

func toJSON(rep relay.Report) reportJSON {
	out := reportJSON{Kind: rep.Kind, SourceID: rep.SourceID, Subject: rep.Subject, Empty: rep.Empty, Deliveries: []deliveryJSON{}}
	for _, d := range rep.Deliveries {
		dj := deliveryJSON{To: d.To, OK: d.Err == nil}
		if d.Err != nil {
			dj.Error = d.Err.Error()
		}
		out.Deliveries = append(out.Deliveries, dj)
	}
	return out
}

func (a *api) test(w http.ResponseWriter, r *http.Request) {
	rep, err := a.Tester.NotifyTest(r.Context())
	a.respond(w, rep, err)
}

type hookRequest struct {
	Values []any `json:"values"`
}

func (a *api) hook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "triggerID")

	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req hookRequest
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_body", "empty body")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "body must be {\"values\": [...]}")
		return
	}
	if req.Values == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "values is required")
		return
	}
	for i, v := range req.Values {
		if n, ok := v.(json.Number); ok {
			req.Values[i] = n.String()
		}
	}

	rep, err := a.Hooks.Fire(r.Context(), id, req.Values)
	a.respond(w, rep, err)
}

func (a *api) respond(w http.ResponseWriter, rep relay.Report, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toJSON(rep))
	case errors.Is(err, relay.ErrDelivery):
		writeJSON(w, http.StatusBadGateway, struct {
			reportJSON
			Error string `json:"error"`
		}{toJSON(rep), "delivery_failed"})
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "unknown trigger")
	case errors.Is(err, trigger.ErrNotWebhook):
		writeError(w, http.StatusConflict, "not_webhook", err.Error())
	case errors.Is(err, props.ErrConfigurationMissing):
		writeError(w, http.StatusInternalServerError, "configuration_missing", err.Error())
	case errors.Is(err, sheets.ErrResourceNotFound):
		writeError(w, http.StatusInternalServerError, "resource_not_found", err.Error())
	default:
		a.Log.Error("request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, apiError{Error: code, ErrorDescription: desc})
}
