package response

import (
	"net/http"

	"codexec/internal/sandbox/outcome"
	"codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Outcome sends an execution record. Every outcome, including snippet
// failures, is a 200.
func Outcome(c *gin.Context, resp outcome.Response) {
	c.JSON(http.StatusOK, resp)
}

// Error sends an error record.
// It automatically extracts error code and message from the error.
// Sandbox and internal failures are reported with a generic message; the
// cause is only logged.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)

	fields := []zap.Field{
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
	}
	if len(customErr.Details) > 0 {
		fields = append(fields, zap.Any("details", customErr.Details))
	}
	status := customErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		fields = append(fields, zap.String("stack", customErr.Stack))
		logger.Error(c.Request.Context(), "request error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}

	c.JSON(status, outcome.ErrorResponse(customErr.Code.Category(), publicMessage(customErr)))
}

// ErrorWithCode sends an error record with specific error code
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	Error(c, errors.New(code).WithMessage(message))
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// AbortWithErrorCode aborts the request with error code
func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	ErrorWithCode(c, code, message)
	c.Abort()
}

func publicMessage(e *errors.Error) string {
	switch e.Code {
	case errors.SandboxSystemError:
		return outcome.SystemErrorMessage
	case errors.InternalServerError:
		return errors.InternalServerError.Message()
	case errors.Timeout, errors.ExecutionTimeout:
		return outcome.TimeoutMessage
	}
	return e.Error()
}
