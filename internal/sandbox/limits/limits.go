// Package limits applies per-process resource ceilings inside the helper.
package limits

import (
	"fmt"
	"time"
)

// ResourceLimits are the ceilings applied to one helper process.
// Zero fields fall back to the defaults.
type ResourceLimits struct {
	CPUTime time.Duration `yaml:"cpuTime" json:"cpuTime"`
	// AddressSpaceBytes is the memory budget of the snippet. It caps the
	// live heap and, with RuntimeHeadroom, the growth of the helper's
	// address space past its size when limits are applied.
	AddressSpaceBytes uint64 `yaml:"addressSpaceBytes" json:"addressSpaceBytes"`
	FileSizeBytes     uint64 `yaml:"fileSizeBytes" json:"fileSizeBytes"`
	Processes         uint64 `yaml:"processes" json:"processes"`
	OpenFiles         uint64 `yaml:"openFiles" json:"openFiles"`
}

const (
	DefaultCPUTime           = time.Second
	DefaultAddressSpaceBytes = 100 * 1024 * 1024
	DefaultFileSizeBytes     = 1024 * 1024
	DefaultProcesses         = 1
	DefaultOpenFiles         = 10
)

// Default returns the stock limits.
func Default() ResourceLimits {
	return ResourceLimits{
		CPUTime:           DefaultCPUTime,
		AddressSpaceBytes: DefaultAddressSpaceBytes,
		FileSizeBytes:     DefaultFileSizeBytes,
		Processes:         DefaultProcesses,
		OpenFiles:         DefaultOpenFiles,
	}
}

// WithDefaults fills zero fields.
func (l ResourceLimits) WithDefaults() ResourceLimits {
	d := Default()
	if l.CPUTime <= 0 {
		l.CPUTime = d.CPUTime
	}
	if l.AddressSpaceBytes == 0 {
		l.AddressSpaceBytes = d.AddressSpaceBytes
	}
	if l.FileSizeBytes == 0 {
		l.FileSizeBytes = d.FileSizeBytes
	}
	if l.Processes == 0 {
		l.Processes = d.Processes
	}
	if l.OpenFiles == 0 {
		l.OpenFiles = d.OpenFiles
	}
	return l
}

// CPUSeconds rounds the CPU ceiling up to whole seconds, the granularity of
// RLIMIT_CPU.
func (l ResourceLimits) CPUSeconds() uint64 {
	secs := uint64((l.CPUTime + time.Second - 1) / time.Second)
	if secs == 0 {
		secs = 1
	}
	return secs
}

// LimitError reports which ceiling could not be installed.
type LimitError struct {
	Resource string
	Err      error
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("set rlimit %s: %v", e.Resource, e.Err)
}

func (e *LimitError) Unwrap() error {
	return e.Err
}

func secondsToDuration(secs uint64) time.Duration {
	if secs > uint64(1<<62)/uint64(time.Second) {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(secs) * time.Second
}
