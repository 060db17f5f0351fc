package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codexec/internal/execution/controller"
	"codexec/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, time.Second, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeReportsListenFailure(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:99999", Handler: http.NotFoundHandler()}
	err := serve(context.Background(), time.Second, srv)
	require.Error(t, err)
}

func TestBuildHTTPServer(t *testing.T) {
	cfg, err := loadAppConfig("", false, "")
	require.NoError(t, err)

	srv := buildHTTPServer(cfg, controller.NewExecuteController(nil, 0), nil, nil)
	assert.Equal(t, "0.0.0.0:18080", srv.Addr)
	assert.GreaterOrEqual(t, srv.WriteTimeout, cfg.Execution.RequestTimeout)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuildMetricsServer(t *testing.T) {
	cfg, err := loadAppConfig("", false, "")
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	srv := buildMetricsServer(cfg, m)
	assert.Equal(t, "0.0.0.0:18000", srv.Addr)

	m.ExecutionRejected(context.Background(), "rate_limited")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "code_execution_rejected_total")
}
