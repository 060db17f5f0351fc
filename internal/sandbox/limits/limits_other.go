//go:build !linux

package limits

import "errors"

var errUnsupported = errors.New("resource limits are only supported on linux")

// Apply always fails off linux; callers treat that as fatal.
func Apply(l ResourceLimits) error {
	return &LimitError{Resource: "all", Err: errUnsupported}
}

func Current() (ResourceLimits, error) {
	return ResourceLimits{}, errUnsupported
}
