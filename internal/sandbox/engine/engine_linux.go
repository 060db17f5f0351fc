//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"codexec/internal/sandbox/outcome"
	"codexec/internal/sandbox/security"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"go.uber.org/zap"
)

const abnormalExit = "execution terminated abnormally"

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.WithDefaults()
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	if cfg.EnableSeccomp && cfg.Isolation.SeccompProfile != "" {
		if _, err := security.LoadSeccompConfig(cfg.Isolation.SeccompProfile); err != nil {
			return nil, err
		}
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, req RunRequest) (Report, error) {
	if err := validateRunRequest(req); err != nil {
		return Report{}, err
	}
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return Report{}, appErr.Wrapf(err, appErr.InvalidParams, "params are not valid JSON: %v", err)
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, req.ExecutionID)
		if err != nil {
			return Report{}, appErr.SystemError(fmt.Errorf("create cgroup: %w", err))
		}
		if err := applyCgroupLimits(cgroupPath, e.cfg.Limits); err != nil {
			cgroupCleanup()
			return Report{}, appErr.SystemError(fmt.Errorf("apply cgroup limits: %w", err))
		}
	}
	defer cgroupCleanup()

	stdin, err := encodeRequest(InitRequest{
		ExecutionID:    req.ExecutionID,
		Code:           req.Code,
		Params:         rawParams,
		Limits:         e.cfg.Limits,
		Isolation:      e.cfg.Isolation,
		MaxResultBytes: e.cfg.MaxResultBytes,
		EnableSeccomp:  e.cfg.EnableSeccomp,
		EnableNs:       e.cfg.EnableNamespaces,
	})
	if err != nil {
		return Report{}, appErr.SystemError(fmt.Errorf("encode init request: %w", err))
	}

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(e.cfg.Isolation, e.cfg.EnableNamespaces)
	cmd.Stdin = stdin
	cmd.Env = []string{"GOMAXPROCS=1"}
	cmd.Dir = os.TempDir()

	helperStdout := &limitedBuffer{max: e.cfg.MaxOutputBytes}
	helperStderr := &limitedBuffer{max: defaultStderrMaxBytes}
	cmd.Stdout = helperStdout
	cmd.Stderr = helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Report{}, appErr.SystemError(fmt.Errorf("start helper: %w", err)).WithDetail("helper", e.cfg.HelperPath)
	}
	pid := cmd.Process.Pid

	if e.cfg.EnableCgroup {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut, cancelled atomic.Bool
	done := make(chan struct{})
	go func() {
		wallTimer := time.NewTimer(e.cfg.WallTimeout)
		defer wallTimer.Stop()
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-wallTimer.C:
			timedOut.Store(true)
		case <-done:
			return
		}
		e.killProcessGroup(pid)
		if cgroupPath != "" {
			_ = killCgroup(cgroupPath)
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	report := Report{
		Pid:      pid,
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		Signal:   signalName(cmd.ProcessState),
		CPUTime:  cpuTime(cmd.ProcessState),
		WallTime: time.Since(start),
		MemoryKB: memoryPeakKB(cgroupPath, cmd.ProcessState),
	}

	if helperStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox helper stderr",
			zap.String("execution_id", req.ExecutionID),
			zap.String("stderr", helperStderr.String()),
		)
	}

	switch {
	case timedOut.Load():
		report.Outcome = outcome.Timeout()
		return report, nil
	case cancelled.Load():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			report.Outcome = outcome.Timeout()
			return report, nil
		}
		return report, fmt.Errorf("execution %s cancelled: %w", req.ExecutionID, ctx.Err())
	}

	if e.cpuExhausted(report) {
		report.Outcome = outcome.Timeout()
		return report, nil
	}

	if helperStdout.Truncated() {
		report.Outcome = outcome.RuntimeError(fmt.Sprintf("result exceeds %d bytes", e.cfg.MaxResultBytes), "")
		return report, nil
	}

	var out outcome.Outcome
	if err := json.Unmarshal(helperStdout.Bytes(), &out); err != nil || out.Validate() != nil {
		report.Outcome = abnormalOutcome(cgroupPath, helperStderr.String())
		logger.Warn(ctx, "sandbox helper produced no outcome",
			zap.String("execution_id", req.ExecutionID),
			zap.Int("exit_code", report.ExitCode),
			zap.String("signal", report.Signal),
		)
		return report, nil
	}

	if out.Kind == outcome.KindSystemError {
		return report, appErr.SystemError(fmt.Errorf("sandbox helper: %s", out.Message))
	}
	report.Outcome = out
	return report, nil
}

// cpuExhausted reports whether the helper was killed for running past its
// CPU ceiling. With equal soft and hard RLIMIT_CPU values the kernel sends
// SIGKILL, and the Go runtime ignores SIGXCPU.
func (e *linuxEngine) cpuExhausted(report Report) bool {
	if report.Signal != syscall.SIGKILL.String() && report.Signal != syscall.SIGXCPU.String() {
		return false
	}
	ceiling := time.Duration(e.cfg.Limits.CPUSeconds()) * time.Second
	return report.CPUTime >= ceiling-ceiling/20
}

// memoryFailures are the ways the Go runtime reports a failed allocation
// before it exits.
var memoryFailures = []string{
	"out of memory",
	"cannot allocate memory",
}

func abnormalOutcome(cgroupPath, stderr string) outcome.Outcome {
	if wasOomKilled(cgroupPath) || memoryFailure(stderr) {
		return outcome.RuntimeError("memory limit exceeded", "")
	}
	return outcome.RuntimeError(abnormalExit, "")
}

func memoryFailure(stderr string) bool {
	for _, marker := range memoryFailures {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func signalName(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}

func cpuTime(state *os.ProcessState) time.Duration {
	if state == nil {
		return 0
	}
	return state.UserTime() + state.SystemTime()
}

func (e *linuxEngine) killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte   { return b.buf.Bytes() }
func (b *limitedBuffer) String() string  { return b.buf.String() }
func (b *limitedBuffer) Len() int        { return b.buf.Len() }
func (b *limitedBuffer) Truncated() bool { return b.truncated }
