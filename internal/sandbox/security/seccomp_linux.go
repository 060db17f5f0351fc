//go:build linux

package security

import (
	"fmt"
	"strings"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// ApplySeccomp installs cfg on every thread of the calling process. Syscall
// names unknown on the running architecture are skipped.
func ApplySeccomp(cfg SeccompConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()

	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	if defaultAction == seccomp.ActAllow {
		if err := denyWritableOpens(filter); err != nil {
			return err
		}
	}

	if err := filter.SetTsync(true); err != nil {
		return fmt.Errorf("set seccomp tsync: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

// denyWritableOpens refuses open and openat calls whose flags ask for write
// access or file creation.
func denyWritableOpens(filter *seccomp.ScmpFilter) error {
	eperm := seccomp.ActErrno.SetReturnCode(int16(unix.EPERM))
	targets := []struct {
		name    string
		flagArg uint
	}{
		{"open", 1},
		{"openat", 2},
		{"creat", 0},
	}
	for _, target := range targets {
		call, err := seccomp.GetSyscallFromName(target.name)
		if err != nil {
			continue
		}
		if target.name == "creat" {
			if err := filter.AddRule(call, eperm); err != nil {
				return fmt.Errorf("add seccomp rule creat: %w", err)
			}
			continue
		}
		for _, mask := range []uint64{unix.O_WRONLY, unix.O_RDWR, unix.O_CREAT} {
			cond, err := seccomp.MakeCondition(target.flagArg, seccomp.CompareMaskedEqual, mask, mask)
			if err != nil {
				return fmt.Errorf("build seccomp condition: %w", err)
			}
			if err := filter.AddRuleConditional(call, eperm, []seccomp.ScmpCondition{cond}); err != nil {
				return fmt.Errorf("add seccomp rule %s: %w", target.name, err)
			}
		}
	}
	return nil
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case "SCMP_ACT_LOG":
		return seccomp.ActLog, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
