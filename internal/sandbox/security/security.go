// Package security defines sandbox isolation and syscall filter profiles.
package security

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// IsolationProfile describes namespace and seccomp settings for the helper.
type IsolationProfile struct {
	// SeccompProfile is a path to a JSON filter profile; empty selects the
	// built-in profile.
	SeccompProfile string `yaml:"seccompProfile" json:"seccompProfile,omitempty"`
	DisableNetwork bool   `yaml:"disableNetwork" json:"disableNetwork"`
}

// SeccompConfig is the on-disk filter profile format.
type SeccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []SeccompSyscall `json:"syscalls"`
}

// SeccompSyscall applies one action to a group of syscalls.
type SeccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

// DefaultSeccompConfig allows everything the interpreter needs and refuses
// process creation, networking, tracing and mounts with EPERM. Opening files
// for writing is refused separately by the loader.
func DefaultSeccompConfig() SeccompConfig {
	return SeccompConfig{
		DefaultAction: "SCMP_ACT_ALLOW",
		Syscalls: []SeccompSyscall{{
			Names: []string{
				"execve", "execveat", "fork", "vfork",
				"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
				"ptrace", "process_vm_readv", "process_vm_writev",
				"mount", "umount2", "pivot_root", "chroot", "unshare", "setns",
				"kexec_load", "reboot", "init_module", "finit_module", "delete_module",
			},
			Action: "SCMP_ACT_ERRNO",
		}},
	}
}

// LoadSeccompConfig reads a profile from path, or returns the default when
// path is empty.
func LoadSeccompConfig(path string) (SeccompConfig, error) {
	if path == "" {
		return DefaultSeccompConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SeccompConfig{}, fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg SeccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SeccompConfig{}, fmt.Errorf("parse seccomp profile: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return SeccompConfig{}, err
	}
	return cfg, nil
}

// Validate checks that every action in the profile is supported.
func (c SeccompConfig) Validate() error {
	if !knownAction(c.DefaultAction) {
		return fmt.Errorf("unsupported seccomp action: %s", c.DefaultAction)
	}
	for _, rule := range c.Syscalls {
		if !knownAction(rule.Action) {
			return fmt.Errorf("unsupported seccomp action: %s", rule.Action)
		}
		if len(rule.Names) == 0 {
			return fmt.Errorf("seccomp rule with action %s names no syscalls", rule.Action)
		}
	}
	return nil
}

func knownAction(action string) bool {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW", "SCMP_ACT_ERRNO", "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS", "SCMP_ACT_LOG":
		return true
	}
	return false
}
