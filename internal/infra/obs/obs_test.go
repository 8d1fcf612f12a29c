package obs

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestJSONLoggerOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "prod", "info").Info("hello", "k", "v")
	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"k":"v"`)
}

func TestMiddlewareAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := NewMetrics()
	var logs bytes.Buffer
	mw := Middleware{Logger: NewLoggerTo(&logs, "prod", "info"), Metrics: metrics}

	var objects error
	health := HealthHandlers{Checks: map[string]Check{
		"objects": func(context.Context) error { return objects },
		"outbox":  func(context.Context) error { return nil },
	}}
	router := gin.New()
	router.Use(mw.RequestID(), mw.LoggerMiddleware())
	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/api/messages/threads", func(c *gin.Context) {
		SetUserID(c, "u1")
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Empty(t, logs.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","checks":{"objects":"ok","outbox":"ok"}}`, rec.Body.String())

	objects = errNotReady
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"not ready","checks":{"objects":"store offline","outbox":"ok"}}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/messages/threads", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	require.Contains(t, logs.String(), `"request_id":"req-1"`)
	require.Contains(t, logs.String(), `"user_id":"u1"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `inbox_http_requests_total{method="GET",route="/livez",status="200"} 1`))
}

type readyErr string

func (e readyErr) Error() string { return string(e) }

const errNotReady = readyErr("store offline")
