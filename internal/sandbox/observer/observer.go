// Package observer defines logging and metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"

	"codexec/pkg/utils/logger"

	"go.uber.org/zap"
)

// Recorder receives execution lifecycle events.
type Recorder interface {
	ExecutionStarted(ctx context.Context, executionID string, at time.Time)
	ExecutionFinished(ctx context.Context, executionID string, category string, duration time.Duration)
	// ExecutionRejected reports a request turned away before it reached the sandbox.
	ExecutionRejected(ctx context.Context, category string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ExecutionStarted(context.Context, string, time.Time)              {}
func (Nop) ExecutionFinished(context.Context, string, string, time.Duration) {}
func (Nop) ExecutionRejected(context.Context, string)                        {}

// Multi fans events out to several recorders in order.
type Multi []Recorder

func (m Multi) ExecutionStarted(ctx context.Context, executionID string, at time.Time) {
	for _, r := range m {
		if r != nil {
			r.ExecutionStarted(ctx, executionID, at)
		}
	}
}

func (m Multi) ExecutionFinished(ctx context.Context, executionID string, category string, duration time.Duration) {
	for _, r := range m {
		if r != nil {
			r.ExecutionFinished(ctx, executionID, category, duration)
		}
	}
}

func (m Multi) ExecutionRejected(ctx context.Context, category string) {
	for _, r := range m {
		if r != nil {
			r.ExecutionRejected(ctx, category)
		}
	}
}

// Log writes events through the global logger.
type Log struct{}

func (Log) ExecutionStarted(ctx context.Context, executionID string, at time.Time) {
	logger.Debug(ctx, "execution started", zap.String("execution_id", executionID), zap.Time("at", at))
}

func (Log) ExecutionFinished(ctx context.Context, executionID string, category string, duration time.Duration) {
	logger.Info(ctx, "execution finished",
		zap.String("execution_id", executionID),
		zap.String("category", category),
		zap.Duration("duration", duration),
	)
}

func (Log) ExecutionRejected(ctx context.Context, category string) {
	logger.Info(ctx, "execution rejected", zap.String("category", category))
}
