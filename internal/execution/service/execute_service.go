package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codexec/internal/execution/model"
	"codexec/internal/sandbox/engine"
	"codexec/internal/sandbox/observer"
	"codexec/internal/sandbox/outcome"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/contextkey"
	"codexec/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultQueueTimeout = 2 * time.Second
	defaultMaxCodeBytes = 64 * 1024
)

// Config holds service dependencies and settings.
type Config struct {
	Engine   engine.Engine
	Recorder observer.Recorder
	// MaxConcurrent bounds helpers running at once.
	MaxConcurrent int64
	// QueueTimeout is how long a request may wait for a free slot.
	QueueTimeout time.Duration
	// RequestTimeout bounds a whole execution including queueing. Zero
	// leaves only the engine's own deadline.
	RequestTimeout time.Duration
	MaxCodeBytes   int
}

// ExecuteService accepts snippets, bounds concurrency and runs them through
// the sandbox engine.
type ExecuteService struct {
	engine         engine.Engine
	recorder       observer.Recorder
	sem            *semaphore.Weighted
	queueTimeout   time.Duration
	requestTimeout time.Duration
	maxCodeBytes   int
}

// NewExecuteService creates a new execution service.
func NewExecuteService(cfg Config) (*ExecuteService, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("sandbox engine is required")
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observer.Nop{}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	queueTimeout := cfg.QueueTimeout
	if queueTimeout <= 0 {
		queueTimeout = defaultQueueTimeout
	}
	maxCodeBytes := cfg.MaxCodeBytes
	if maxCodeBytes <= 0 {
		maxCodeBytes = defaultMaxCodeBytes
	}
	return &ExecuteService{
		engine:         cfg.Engine,
		recorder:       recorder,
		sem:            semaphore.NewWeighted(maxConcurrent),
		queueTimeout:   queueTimeout,
		requestTimeout: cfg.RequestTimeout,
		maxCodeBytes:   maxCodeBytes,
	}, nil
}

// Execute runs one snippet. Outcomes produced by the snippet come back in
// the result; a non-nil error means the request was rejected or the sandbox
// failed.
func (s *ExecuteService) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecuteResult, error) {
	if err := s.checkRequest(req); err != nil {
		s.recorder.ExecutionRejected(ctx, appErr.GetCode(err).Category())
		return model.ExecuteResult{}, err
	}
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	executionID := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.ExecutionID, executionID)
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	if err := s.acquireSlot(ctx); err != nil {
		s.recorder.ExecutionRejected(ctx, appErr.GetCode(err).Category())
		return model.ExecuteResult{}, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	s.recorder.ExecutionStarted(ctx, executionID, start)

	report, err := s.engine.Run(ctx, engine.RunRequest{
		ExecutionID: executionID,
		Code:        req.Code,
		Params:      params,
	})
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.recorder.ExecutionFinished(ctx, executionID, "cancelled", duration)
			logger.Warn(ctx, "sandbox execution cancelled", zap.Duration("duration", duration))
			return model.ExecuteResult{}, appErr.Wrapf(err, appErr.Timeout, "execution cancelled")
		}
		if appErr.GetCode(err) == appErr.InternalServerError {
			err = appErr.SystemError(err)
		}
		s.recorder.ExecutionFinished(ctx, executionID, appErr.GetCode(err).Category(), duration)
		logger.Error(ctx, "sandbox execution failed", zap.Error(errors.Unwrap(err)), zap.Duration("duration", duration))
		return model.ExecuteResult{}, err
	}

	s.recorder.ExecutionFinished(ctx, executionID, categoryOf(report.Outcome), duration)
	logger.Debug(ctx, "sandbox execution report",
		zap.String("kind", string(report.Outcome.Kind)),
		zap.Int("pid", report.Pid),
		zap.Duration("cpu_time", report.CPUTime),
		zap.Duration("wall_time", report.WallTime),
		zap.Int64("memory_kb", report.MemoryKB),
	)
	return model.ExecuteResult{
		ExecutionID: executionID,
		Outcome:     report.Outcome,
		Duration:    duration,
	}, nil
}

func (s *ExecuteService) checkRequest(req model.ExecuteRequest) error {
	if req.Code == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("code is required")
	}
	if len(req.Code) > s.maxCodeBytes {
		return appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.maxCodeBytes)
	}
	return nil
}

func (s *ExecuteService) acquireSlot(ctx context.Context) error {
	queueCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()
	if err := s.sem.Acquire(queueCtx, 1); err != nil {
		if ctx.Err() != nil {
			return appErr.Wrapf(ctx.Err(), appErr.Timeout, "request ended while waiting for a sandbox slot")
		}
		return appErr.New(appErr.ExecutionQueueFull).WithMessage("all sandbox slots are busy")
	}
	return nil
}

func categoryOf(o outcome.Outcome) string {
	if o.Kind == outcome.KindSuccess {
		return "success"
	}
	return string(o.Kind)
}
