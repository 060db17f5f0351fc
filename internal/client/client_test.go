package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"codexec/internal/execution/model"
	"codexec/internal/sandbox/outcome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{Attempts: 3, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func TestRetryPolicyWait(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 4*time.Second, p.wait(1))
	assert.Equal(t, 4*time.Second, p.wait(2))
	assert.Equal(t, 8*time.Second, p.wait(3))
	assert.Equal(t, 10*time.Second, p.wait(4))
}

func TestExecuteSendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req model.ExecuteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "def main(x): return x", req.Code)
		assert.Equal(t, float64(10), req.Params["x"])
		_, _ = io.WriteString(w, `{"status":"success","result":10}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithTokenProvider(func() string { return "tok" }), WithRetryPolicy(fastRetry))
	resp, err := c.Execute(context.Background(), "def main(x): return x", map[string]interface{}{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, outcome.StatusSuccess, resp.Status)
	assert.JSONEq(t, "10", string(resp.Result))
}

func TestExecuteNilParamsSendsObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"params":{}`)
		_, _ = io.WriteString(w, `{"status":"success","result":null}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithRetryPolicy(fastRetry)).Execute(context.Background(), "x", nil)
	require.NoError(t, err)
}

func TestExecuteErrorRecordIsNotAnError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":"error","error":"code is required","category":"invalid_request"}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL, WithRetryPolicy(fastRetry)).Execute(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "code is required", resp.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"status":"error","error":"all sandbox slots are busy","category":"rate_limited"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"success","result":1}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL, WithRetryPolicy(fastRetry)).Execute(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, outcome.StatusSuccess, resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteReturnsLastRecordAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"status":"error","error":"Sandbox unavailable","category":"system_error"}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL, WithRetryPolicy(fastRetry)).Execute(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sandbox unavailable", resp.Error)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteNonRecordBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "bad gateway")
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithRetryPolicy(fastRetry)).Execute(context.Background(), "x", nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestExecuteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, WithRetryPolicy(fastRetry)).Execute(context.Background(), "x", nil)
	require.Error(t, err)
}

func TestExecuteStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, WithRetryPolicy(RetryPolicy{Attempts: 3, MinWait: time.Hour}))
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := c.Execute(ctx, "x", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			_, _ = io.WriteString(w, `{"status":"ok"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.Health(context.Background()))
	c.SetBaseURL(srv.URL + "/nope")
	require.Error(t, c.Health(context.Background()))
}
