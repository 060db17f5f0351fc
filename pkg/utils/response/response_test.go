package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codexec/internal/sandbox/outcome"
	"codexec/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func record(t *testing.T, fn func(c *gin.Context)) (int, outcome.Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/execute", nil)
	fn(c)

	var resp outcome.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestOutcomeIsAlwaysOK(t *testing.T) {
	code, resp := record(t, func(c *gin.Context) {
		Outcome(c, outcome.ToResponse(outcome.RuntimeError("boom", "trace")))
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, outcome.StatusError, resp.Status)
	require.Equal(t, "boom", resp.Error)
	require.Equal(t, "trace", resp.Trace)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		category string
		message  string
	}{
		{
			name:     "system error hides cause",
			err:      errors.SystemError(stderrors.New("fork failed: EAGAIN")),
			status:   http.StatusInternalServerError,
			category: "system_error",
			message:  outcome.SystemErrorMessage,
		},
		{
			name:     "foreign error",
			err:      stderrors.New("secret detail"),
			status:   http.StatusInternalServerError,
			category: "internal_error",
			message:  "Internal server error",
		},
		{
			name:     "validation",
			err:      errors.New(errors.RequiredFieldEmpty).WithMessage("code is required"),
			status:   http.StatusBadRequest,
			category: "invalid_request",
			message:  "code is required",
		},
		{
			name:     "queue full",
			err:      errors.New(errors.ExecutionQueueFull).WithMessage("all sandbox slots are busy"),
			status:   http.StatusServiceUnavailable,
			category: "rate_limited",
			message:  "all sandbox slots are busy",
		},
		{
			name:     "cancelled",
			err:      errors.Wrapf(stderrors.New("context canceled"), errors.Timeout, "execution cancelled"),
			status:   http.StatusGatewayTimeout,
			category: "timeout",
			message:  outcome.TimeoutMessage,
		},
		{
			name:     "too large",
			err:      errors.Newf(errors.CodeTooLarge, "code exceeds %d bytes", 10),
			status:   http.StatusRequestEntityTooLarge,
			category: "invalid_request",
			message:  "code exceeds 10 bytes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := record(t, func(c *gin.Context) { Error(c, tt.err) })
			require.Equal(t, tt.status, code)
			require.Equal(t, outcome.StatusError, resp.Status)
			require.Equal(t, tt.category, resp.Category)
			require.Equal(t, tt.message, resp.Error)
			require.Empty(t, resp.Result)
		})
	}
}

func TestAbortWithErrorCode(t *testing.T) {
	var aborted bool
	code, resp := record(t, func(c *gin.Context) {
		AbortWithErrorCode(c, errors.Unauthorized, "")
		aborted = c.IsAborted()
	})
	require.True(t, aborted)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, errors.Unauthorized.Message(), resp.Error)
	require.Equal(t, "unauthorized", resp.Category)
}

func TestErrorWithCodeKeepsMessage(t *testing.T) {
	code, resp := record(t, func(c *gin.Context) { ErrorWithCode(c, errors.InvalidFormat, "invalid JSON body") })
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_request", resp.Category)
	require.Equal(t, "invalid JSON body", resp.Error)
}
