package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("request id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || seen == "abc" {
		t.Errorf("generated request id = %q", seen)
	}
}

func TestOperator(t *testing.T) {
	var seen string
	h := Operator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OperatorFromContext(r.Context())
	}))

	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
		wantOp   string
	}{
		{"session with operator", "/api/sessions", "ana", http.StatusOK, "ana"},
		{"session without operator", "/api/sessions/x", "", http.StatusUnauthorized, ""},
		{"other path without operator", "/api/jobs", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("X-Operator", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode || seen != tt.wantOp {
				t.Errorf("code = %d, operator = %q", rec.Code, seen)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Internal server error") {
		t.Errorf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))
	if rec.Code != http.StatusNoContent || called {
		t.Errorf("code = %d, next called = %v", rec.Code, called)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Operator") {
		t.Error("X-Operator not allowed by CORS")
	}
}

func TestLogger_StoresRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	h := RequestID(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.FromContext(r.Context())
		l.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Count(out, `"request_id":"req-7"`) != 2 {
		t.Errorf("request id not on both lines:\n%s", out)
	}
	if !strings.Contains(out, `"status":418`) {
		t.Errorf("status not logged:\n%s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("client error not logged at warn:\n%s", out)
	}
}

func TestStatusLevel(t *testing.T) {
	tests := []struct {
		status int
		want   zerolog.Level
	}{
		{http.StatusOK, zerolog.InfoLevel},
		{http.StatusNoContent, zerolog.InfoLevel},
		{http.StatusConflict, zerolog.WarnLevel},
		{http.StatusUnprocessableEntity, zerolog.WarnLevel},
		{http.StatusInternalServerError, zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		if got := statusLevel(tt.status); got != tt.want {
			t.Errorf("statusLevel(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
