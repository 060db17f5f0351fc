package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codexec/internal/common/auth"
	"codexec/internal/sandbox/outcome"
	pkgerrors "codexec/pkg/errors"
	"codexec/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/x", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"trace_id":   ctx.Value(contextkey.TraceID),
			"request_id": ctx.Value(contextkey.RequestID),
			"user_id":    ctx.Value(contextkey.UserID),
		})
	})
	return r
}

func serve(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTraceContextGeneratesIDs(t *testing.T) {
	w := serve(newRouter(TraceContextMiddleware()), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(traceIDHeader))
	require.NotEmpty(t, w.Header().Get(requestIDHeader))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, w.Header().Get(traceIDHeader), body["trace_id"])
	require.Nil(t, body["user_id"])
}

func TestTraceContextIgnoresUserHeader(t *testing.T) {
	w := serve(newRouter(TraceContextMiddleware()), map[string]string{
		traceIDHeader:   "trace-1",
		requestIDHeader: "req-1",
		"X-User-Id":     "mallory",
	})
	require.Equal(t, "trace-1", w.Header().Get(traceIDHeader))
	require.Equal(t, "req-1", w.Header().Get(requestIDHeader))
	require.Empty(t, w.Header().Get("X-User-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "req-1", body["request_id"])
	require.Nil(t, body["user_id"])
}

func TestAuthMiddleware(t *testing.T) {
	a, err := auth.NewAuthenticator("secret", "codexec")
	require.NoError(t, err)
	runner, err := a.Issue("alice", "runner", time.Hour)
	require.NoError(t, err)
	viewer, err := a.Issue("bob", "viewer", time.Hour)
	require.NoError(t, err)

	r := newRouter(AuthMiddleware(a, []string{"runner"}))

	w := serve(r, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var rec outcome.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, outcome.StatusError, rec.Status)
	require.Equal(t, "unauthorized", rec.Category)

	w = serve(r, map[string]string{"Authorization": "Bearer " + viewer})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, map[string]string{"Authorization": "bearer " + runner})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "alice", body["user_id"])

	w = serve(newRouter(AuthMiddleware(nil, nil)), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestExtractBearerToken(t *testing.T) {
	require.Equal(t, "", extractBearerToken(""))
	require.Equal(t, "", extractBearerToken("Bearer"))
	require.Equal(t, "", extractBearerToken("Basic abc"))
	require.Equal(t, "abc", extractBearerToken("Bearer  abc "))
}

type recordingLimiter struct {
	keys  []string
	allow int
}

func (l *recordingLimiter) Allow(_ context.Context, key string) error {
	l.keys = append(l.keys, key)
	if len(l.keys) > l.allow {
		return pkgerrors.New(pkgerrors.TooManyRequests)
	}
	return nil
}

func TestRateLimitMiddleware(t *testing.T) {
	l := &recordingLimiter{allow: 1}
	r := newRouter(RateLimitMiddleware(l, "execute"))

	require.Equal(t, http.StatusOK, serve(r, nil).Code)
	w := serve(r, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var rec outcome.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "rate_limited", rec.Category)
	require.Equal(t, []string{"ip:10.0.0.1:execute", "ip:10.0.0.1:execute"}, l.keys)

	require.Equal(t, http.StatusOK, serve(newRouter(RateLimitMiddleware(nil, "execute")), nil).Code)
}

func TestRateLimitKeysByUser(t *testing.T) {
	l := &recordingLimiter{allow: 10}
	setUser := func(c *gin.Context) {
		c.Set(userIDContextKey, "alice")
		c.Next()
	}
	serve(newRouter(setUser, RateLimitMiddleware(l, "execute")), nil)
	require.Equal(t, []string{"user:alice:execute"}, l.keys)
}

func TestAccessLogMiddlewarePassesThrough(t *testing.T) {
	w := serve(newRouter(AccessLogMiddleware()), nil)
	require.Equal(t, http.StatusOK, w.Code)
}
