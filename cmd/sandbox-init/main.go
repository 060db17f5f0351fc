// Command sandbox-init runs one snippet in a throwaway process. It reads an
// init request from stdin, locks itself down, executes the snippet and writes
// exactly one outcome as JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"codexec/internal/sandbox/engine"
	"codexec/internal/sandbox/executor"
	"codexec/internal/sandbox/limits"
	"codexec/internal/sandbox/outcome"
	"codexec/internal/sandbox/security"
)

const memoryExceeded = "memory limit exceeded"

var errMemoryExceeded = errors.New(memoryExceeded)

func main() {
	out := run()
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "write outcome:", err)
		os.Exit(1)
	}
}

func run() outcome.Outcome {
	req, err := engine.DecodeInitRequest(os.Stdin)
	if err != nil {
		return outcome.SystemError(fmt.Sprintf("decode request: %v", err))
	}
	params, err := req.DecodeParams()
	if err != nil {
		return outcome.RuntimeError(fmt.Sprintf("invalid params: %v", err), "")
	}

	var filter security.SeccompConfig
	if req.EnableSeccomp {
		// Read the profile before the open-files ceiling and the filter
		// itself make that impossible.
		if filter, err = security.LoadSeccompConfig(req.Isolation.SeccompProfile); err != nil {
			return outcome.SystemError(err.Error())
		}
	}

	if err := limits.Apply(req.Limits); err != nil {
		return outcome.SystemError(err.Error())
	}
	if req.EnableSeccomp {
		if err := security.ApplySeccomp(filter); err != nil {
			return outcome.SystemError(err.Error())
		}
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	budget := req.Limits.WithDefaults().AddressSpaceBytes
	stopWatch := limits.WatchHeap(budget, limits.DefaultWatchInterval, func(uint64) {
		cancel(errMemoryExceeded)
	})
	defer stopWatch()

	out := executor.Execute(ctx, req.Code, params, executor.Options{
		Name:           req.ExecutionID,
		MaxResultBytes: req.MaxResultBytes,
	})
	if errors.Is(context.Cause(ctx), errMemoryExceeded) {
		return outcome.RuntimeError(memoryExceeded, "")
	}
	return out
}
