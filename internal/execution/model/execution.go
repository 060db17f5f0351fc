package model

import (
	"time"

	"codexec/internal/sandbox/outcome"
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Code   string                 `json:"code"`
	Params map[string]interface{} `json:"params"`
}

// ExecuteResult is what the service hands back for one accepted request.
type ExecuteResult struct {
	ExecutionID string
	Outcome     outcome.Outcome
	Duration    time.Duration
}

// Response converts the result into its wire record.
func (r ExecuteResult) Response() outcome.Response {
	return outcome.ToResponse(r.Outcome)
}
