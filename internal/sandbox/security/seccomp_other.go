//go:build !linux

package security

import "fmt"

func ApplySeccomp(cfg SeccompConfig) error {
	return fmt.Errorf("seccomp is only supported on linux")
}
