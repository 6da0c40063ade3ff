package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceMiddleware(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "trace_header", headers: map[string]string{"X-Trace-ID": "t-1"}, want: "t-1"},
		{name: "request_id_fallback", headers: map[string]string{"X-Request-ID": "r-1"}, want: "r-1"},
		{name: "generated", headers: nil},
		{name: "oversized_replaced", headers: map[string]string{"X-Trace-ID": strings.Repeat("x", maxTraceIDLength+1)}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = TraceIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get("X-Trace-ID"))
			if tc.want != "" {
				assert.Equal(t, tc.want, seen)
			} else {
				assert.LessOrEqual(t, len(seen), maxTraceIDLength)
			}
		})
	}
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	cases := []struct {
		status int
		level  zapcore.Level
	}{
		{status: http.StatusOK, level: zapcore.InfoLevel},
		{status: http.StatusConflict, level: zapcore.WarnLevel},
		{status: http.StatusBadGateway, level: zapcore.ErrorLevel},
	}

	for _, tc := range cases {
		core, logs := observer.New(zapcore.DebugLevel)
		h := LoggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("body"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/venue/balance", nil))

		require.Equal(t, 1, logs.Len())
		entry := logs.All()[0]
		assert.Equal(t, tc.level, entry.Level)
		assert.Equal(t, int64(tc.status), entry.ContextMap()["status"])
		assert.Equal(t, int64(4), entry.ContextMap()["bytes"])
	}
}

func TestRecoverMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := RecoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())

	abort := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.Panics(t, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
