// Package executor runs a single snippet and reports what happened as an
// outcome. It is meant to run inside the disposable helper process after
// resource limits are in place; it never returns a Go error.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codexec/internal/sandbox/capability"
	"codexec/internal/sandbox/outcome"
	"codexec/internal/sandbox/validator"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	// EntryPoint is the function every snippet must define.
	EntryPoint = "main"
	// Filename is the name snippets are compiled under; it shows up in traces.
	Filename = "snippet.star"

	DefaultMaxResultBytes = 1 << 20
)

// Options tune a single execution.
type Options struct {
	// Name labels the interpreter thread, usually the execution id.
	Name           string
	MaxResultBytes int
}

// Execute validates, compiles and runs code, then calls its entry point with
// params as keyword arguments. Cancelling ctx stops the interpreter.
func Execute(ctx context.Context, code string, params map[string]interface{}, opts Options) (out outcome.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome.RuntimeError(fmt.Sprintf("execution failed: %v", r), "")
		}
	}()
	if opts.MaxResultBytes <= 0 {
		opts.MaxResultBytes = DefaultMaxResultBytes
	}

	if err := validator.Validate(code); err != nil {
		return outcome.SecurityViolation(err.Error())
	}

	env, err := capability.BuildEnvironment(params)
	if err != nil {
		return outcome.RuntimeError(err.Error(), "")
	}

	if err := env.Confine(Filename, code); err != nil {
		return compileFailure(err)
	}
	_, prog, err := starlark.SourceProgramOptions(capability.FileOptions, Filename, code, env.Has)
	if err != nil {
		return compileFailure(err)
	}

	thread := capability.NewThread(opts.Name)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	globals, err := prog.Init(thread, env.Globals)
	if err != nil {
		return evalFailure(err)
	}
	globals.Freeze()

	entry, ok := globals[EntryPoint]
	if !ok {
		return outcome.RuntimeError(fmt.Sprintf("no entry point defined: expected a function named '%s'", EntryPoint), "")
	}
	if _, ok := entry.(starlark.Callable); !ok {
		return outcome.RuntimeError(fmt.Sprintf("entry point '%s' is not callable (got %s)", EntryPoint, entry.Type()), "")
	}

	ret, err := starlark.Call(thread, entry, nil, env.Kwargs)
	if err != nil {
		return evalFailure(err)
	}

	value, err := capability.ToJSON(ret)
	if err != nil {
		return outcome.RuntimeError(err.Error(), "")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return outcome.RuntimeError(fmt.Sprintf("encode result: %v", err), "")
	}
	if len(data) > opts.MaxResultBytes {
		return outcome.RuntimeError(fmt.Sprintf("result exceeds %d bytes", opts.MaxResultBytes), "")
	}
	return outcome.Success(data)
}

func compileFailure(err error) outcome.Outcome {
	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return outcome.RuntimeError("syntax error: "+synErr.Msg, synErr.Error())
	}
	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) {
		lines := make([]string, 0, len(resolveErrs))
		for _, e := range resolveErrs {
			lines = append(lines, e.Error())
		}
		return outcome.RuntimeError(resolveErrs[0].Msg, strings.Join(lines, "\n"))
	}
	return outcome.RuntimeError(err.Error(), "")
}

func evalFailure(err error) outcome.Outcome {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return outcome.RuntimeError(evalErr.Msg, evalErr.Backtrace())
	}
	return outcome.RuntimeError(err.Error(), "")
}
