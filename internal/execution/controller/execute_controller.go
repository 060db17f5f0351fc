package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"codexec/internal/execution/model"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	executionIDHeader      = "X-Execution-Id"
	defaultMaxRequestBytes = 1 << 20
)

// Executor runs one execute request.
type Executor interface {
	Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecuteResult, error)
}

// ExecuteController handles the execute and health endpoints.
type ExecuteController struct {
	executor        Executor
	maxRequestBytes int64
}

// NewExecuteController creates a new controller. A non-positive
// maxRequestBytes selects 1 MiB.
func NewExecuteController(executor Executor, maxRequestBytes int64) *ExecuteController {
	if maxRequestBytes <= 0 {
		maxRequestBytes = defaultMaxRequestBytes
	}
	return &ExecuteController{executor: executor, maxRequestBytes: maxRequestBytes}
}

// Execute runs the snippet in the request body.
func (h *ExecuteController) Execute(c *gin.Context) {
	req, err := h.decode(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.executor.Execute(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header(executionIDHeader, result.ExecutionID)
	response.Outcome(c, result.Response())
}

// Health reports liveness.
func (h *ExecuteController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// decode reads the body keeping numbers exact, so integers reach the snippet
// as integers.
func (h *ExecuteController) decode(c *gin.Context) (model.ExecuteRequest, error) {
	var req model.ExecuteRequest
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, appErr.Newf(appErr.RequestTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return req, appErr.Wrapf(err, appErr.InvalidParams, "failed to read request body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, appErr.New(appErr.InvalidFormat).WithMessage("invalid JSON body: expected {\"code\": string, \"params\": object}")
	}
	if dec.More() {
		return req, appErr.New(appErr.InvalidFormat).WithMessage("invalid JSON body: trailing data")
	}
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}
	return req, nil
}

// RegisterRoutes mounts the endpoints on r. Middlewares guard /execute only.
func (h *ExecuteController) RegisterRoutes(r gin.IRouter, guards ...gin.HandlerFunc) {
	r.GET("/healthz", h.Health)
	handlers := append(append([]gin.HandlerFunc{}, guards...), h.Execute)
	r.POST("/execute", handlers...)
}
