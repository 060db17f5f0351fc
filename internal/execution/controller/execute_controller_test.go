package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codexec/internal/execution/model"
	"codexec/internal/sandbox/outcome"
	appErr "codexec/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeExecutor struct {
	got    []model.ExecuteRequest
	result model.ExecuteResult
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, req model.ExecuteRequest) (model.ExecuteResult, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

func newRouter(exec Executor, guards ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	NewExecuteController(exec, 256).RegisterRoutes(r, guards...)
	return r
}

func post(r http.Handler, body string) (*httptest.ResponseRecorder, outcome.Response) {
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var rec outcome.Response
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	return w, rec
}

func TestExecuteSuccess(t *testing.T) {
	exec := &fakeExecutor{result: model.ExecuteResult{
		ExecutionID: "e-1",
		Outcome:     outcome.Success(json.RawMessage(`{"sum":3}`)),
	}}
	w, rec := post(newRouter(exec), `{"code":"def main(a, b): return {'sum': a + b}","params":{"a":1,"b":2}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e-1", w.Header().Get(executionIDHeader))
	assert.Equal(t, outcome.StatusSuccess, rec.Status)
	assert.JSONEq(t, `{"sum":3}`, string(rec.Result))

	require.Len(t, exec.got, 1)
	assert.Equal(t, json.Number("1"), exec.got[0].Params["a"])
}

func TestExecuteDefaultsParams(t *testing.T) {
	exec := &fakeExecutor{result: model.ExecuteResult{Outcome: outcome.Success(nil)}}
	w, rec := post(newRouter(exec), `{"code":"def main(): return None"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(rec.Result))
	require.Len(t, exec.got, 1)
	assert.NotNil(t, exec.got[0].Params)
	assert.Empty(t, exec.got[0].Params)
}

func TestExecuteOutcomeErrorsAreOK(t *testing.T) {
	exec := &fakeExecutor{result: model.ExecuteResult{Outcome: outcome.SecurityViolation("Importing module 'os' is not allowed")}}
	w, rec := post(newRouter(exec), `{"code":"import os"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, outcome.StatusError, rec.Status)
	assert.Equal(t, "Security violation: Importing module 'os' is not allowed", rec.Error)
	assert.Equal(t, "security_violation", rec.Category)
}

func TestExecuteInvalidBody(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"code": 1}`,
		`{"code":"x","params":[1,2]}`,
		`{"code":"x"} {"code":"y"}`,
	} {
		exec := &fakeExecutor{}
		w, rec := post(newRouter(exec), body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, outcome.StatusError, rec.Status)
		assert.Equal(t, "invalid_request", rec.Category)
		assert.Empty(t, exec.got)
	}
}

func TestExecuteOversizedBody(t *testing.T) {
	exec := &fakeExecutor{}
	w, rec := post(newRouter(exec), `{"code":"`+strings.Repeat("x", 300)+`"}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, outcome.StatusError, rec.Status)
	assert.Equal(t, "invalid_request", rec.Category)
	assert.Equal(t, "request body exceeds 256 bytes", rec.Error)
	assert.Empty(t, exec.got)
}

func TestExecuteServiceErrors(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		category string
	}{
		{appErr.New(appErr.RequiredFieldEmpty).WithMessage("code is required"), http.StatusBadRequest, "invalid_request"},
		{appErr.New(appErr.ExecutionQueueFull), http.StatusServiceUnavailable, "rate_limited"},
		{appErr.SystemError(assert.AnError), http.StatusInternalServerError, "system_error"},
	}
	for _, tt := range tests {
		w, rec := post(newRouter(&fakeExecutor{err: tt.err}), `{"code":"x"}`)
		assert.Equal(t, tt.status, w.Code)
		assert.Equal(t, tt.category, rec.Category)
		assert.NotContains(t, rec.Error, assert.AnError.Error())
	}
}

func TestGuardsApplyToExecuteOnly(t *testing.T) {
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) }
	r := newRouter(&fakeExecutor{}, deny)

	w, _ := post(r, `{"code":"x"}`)
	assert.Equal(t, http.StatusTeapot, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	hw := httptest.NewRecorder()
	r.ServeHTTP(hw, req)
	assert.Equal(t, http.StatusOK, hw.Code)
	assert.JSONEq(t, `{"status":"ok"}`, hw.Body.String())
}
