//go:build linux

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codexec/internal/sandbox/limits"
)

const (
	// cgroupThreadAllowance covers the helper runtime's own threads, which
	// pids.max counts alongside processes.
	cgroupThreadAllowance = 32
	// cgroupMemoryOverhead is resident memory allowed for the runtime on top
	// of the snippet's budget.
	cgroupMemoryOverhead = 32 * 1024 * 1024
)

func createRunCgroup(root, executionID string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	runDir := fmt.Sprintf("%s-%d", executionID, time.Now().UnixNano())
	cgroupPath := filepath.Join(root, runDir)
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = os.RemoveAll(cgroupPath)
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, l limits.ResourceLimits) error {
	pids := int64(l.Processes) + cgroupThreadAllowance
	if err := writeCgroupValue(cgroupPath, "pids.max", strconv.FormatInt(pids, 10)); err != nil {
		return err
	}
	if l.AddressSpaceBytes > 0 {
		memory := l.AddressSpaceBytes + cgroupMemoryOverhead
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatUint(memory, 10)); err != nil {
			return err
		}
	}
	// One CPU at most.
	if err := writeCgroupValue(cgroupPath, "cpu.max", "100000 100000"); err != nil {
		return err
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func memoryPeakKB(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
