// Package engine supervises one helper process per execution: it hands the
// snippet over, enforces the wall-clock deadline and classifies how the
// helper ended.
package engine

import (
	"context"
	"fmt"
	"time"

	"codexec/internal/sandbox/outcome"
)

// Engine executes snippets inside an isolated helper process.
type Engine interface {
	Run(ctx context.Context, req RunRequest) (Report, error)
}

// RunRequest is the input for a single execution.
type RunRequest struct {
	ExecutionID string
	Code        string
	// Params are decoded JSON values; numbers should be json.Number.
	Params map[string]interface{}
}

// Report describes a finished execution. Outcome is always one of the
// caller-facing variants; helper system failures come back as an error.
type Report struct {
	Outcome  outcome.Outcome
	Pid      int
	ExitCode int
	Signal   string
	CPUTime  time.Duration
	WallTime time.Duration
	MemoryKB int64
}

func validateRunRequest(req RunRequest) error {
	if req.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	if req.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}
