//go:build !linux

package engine

import (
	"context"
	"fmt"

	appErr "codexec/pkg/errors"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, req RunRequest) (Report, error) {
	return Report{}, appErr.SystemError(fmt.Errorf("sandbox engine is only supported on linux"))
}
