//go:build linux

package limits

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// spareThreads is how many idle OS threads are started before RLIMIT_NPROC is
// lowered. The Go runtime cannot create threads once the ceiling is reached.
const spareThreads = 8

// RuntimeHeadroom is address space granted above the snippet budget for
// reservations the Go runtime makes as the heap grows (arenas, page
// allocator summaries, GC metadata). RLIMIT_AS is only a backstop; the
// budget itself is enforced on the live heap, see WatchHeap.
const RuntimeHeadroom = 512 << 20

// Apply installs the ceilings on the calling process. Soft and hard values
// are equal, so the process cannot raise them again. It must run before any
// untrusted code and a failure must be treated as fatal.
func Apply(l ResourceLimits) error {
	l = l.WithDefaults()

	// Thread stacks count towards the virtual size, so start them first.
	prestartThreads(spareThreads)
	baseline, err := virtualSize()
	if err != nil {
		return &LimitError{Resource: "as", Err: err}
	}
	debug.SetMemoryLimit(int64(l.AddressSpaceBytes))

	ceilings := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"cpu", unix.RLIMIT_CPU, l.CPUSeconds()},
		{"as", unix.RLIMIT_AS, baseline + RuntimeHeadroom + l.AddressSpaceBytes},
		{"fsize", unix.RLIMIT_FSIZE, l.FileSizeBytes},
		{"nofile", unix.RLIMIT_NOFILE, l.OpenFiles},
		{"nproc", unix.RLIMIT_NPROC, l.Processes},
	}
	for _, c := range ceilings {
		if err := unix.Setrlimit(c.resource, &unix.Rlimit{Cur: c.value, Max: c.value}); err != nil {
			return &LimitError{Resource: c.name, Err: err}
		}
	}
	return nil
}

// Current reads back the installed ceilings.
func Current() (ResourceLimits, error) {
	read := func(resource int) (uint64, error) {
		var rl unix.Rlimit
		if err := unix.Getrlimit(resource, &rl); err != nil {
			return 0, err
		}
		return rl.Max, nil
	}
	var out ResourceLimits
	cpu, err := read(unix.RLIMIT_CPU)
	if err != nil {
		return out, err
	}
	out.CPUTime = secondsToDuration(cpu)
	if out.AddressSpaceBytes, err = read(unix.RLIMIT_AS); err != nil {
		return out, err
	}
	if out.FileSizeBytes, err = read(unix.RLIMIT_FSIZE); err != nil {
		return out, err
	}
	if out.Processes, err = read(unix.RLIMIT_NPROC); err != nil {
		return out, err
	}
	if out.OpenFiles, err = read(unix.RLIMIT_NOFILE); err != nil {
		return out, err
	}
	return out, nil
}

func virtualSize() (uint64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, fmt.Errorf("open /proc/self: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, fmt.Errorf("read /proc/self/stat: %w", err)
	}
	return uint64(stat.VirtualMemory()), nil
}

// prestartThreads parks n goroutines on their own OS threads at once, so the
// runtime keeps that many idle threads after they are released.
func prestartThreads(n int) {
	var started, release sync.WaitGroup
	started.Add(n)
	release.Add(1)
	var done sync.WaitGroup
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			runtime.LockOSThread()
			started.Done()
			release.Wait()
			runtime.UnlockOSThread()
		}()
	}
	started.Wait()
	release.Done()
	done.Wait()
}
