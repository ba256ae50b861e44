package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(observability.ZapLoggerMiddleware(zap.New(core)))
	r.Get("/v1/studies/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {})
	r.Get("/v1/kpis", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	tests := []struct {
		path  string
		level zapcore.Level
		route string
	}{
		{"/v1/studies/42", zapcore.WarnLevel, "/v1/studies/{id}"},
		{"/healthz", zapcore.DebugLevel, "/healthz"},
		{"/v1/kpis", zapcore.ErrorLevel, "/v1/kpis"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			entries := logs.TakeAll()
			if len(entries) != 1 {
				t.Fatalf("expected one log line, got %d", len(entries))
			}
			e := entries[0]
			if e.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, e.Level)
			}
			if got := e.ContextMap()["route"]; got != tt.route {
				t.Errorf("expected route %q, got %v", tt.route, got)
			}
			if got := e.ContextMap()["path"]; got != tt.path {
				t.Errorf("expected path %q, got %v", tt.path, got)
			}
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	for level, want := range map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	} {
		logger := observability.NewLogger(level)
		if !logger.Core().Enabled(want) || (want > zapcore.DebugLevel && logger.Core().Enabled(want-1)) {
			t.Errorf("level %q: expected minimum %s", level, want)
		}
	}
}
