// Package outcome defines the result of one execution and its wire record.
package outcome

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which variant an Outcome holds.
type Kind string

const (
	KindSuccess           Kind = "success"
	KindSecurityViolation Kind = "security_violation"
	KindRuntimeError      Kind = "runtime_error"
	KindTimeout           Kind = "timeout"
	// KindSystemError is produced inside the helper only. The supervisor turns
	// it into a Go error before it reaches a caller.
	KindSystemError Kind = "system_error"
)

// Outcome is a tagged union; exactly one of the variants below applies,
// selected by Kind.
type Outcome struct {
	Kind Kind `json:"kind"`
	// Value holds the encoded JSON result of a successful run.
	Value json.RawMessage `json:"value,omitempty"`
	// Message is the violation reason, runtime error message or system error detail.
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// Success wraps an already encoded JSON value.
func Success(value json.RawMessage) Outcome {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return Outcome{Kind: KindSuccess, Value: value}
}

func SecurityViolation(reason string) Outcome {
	return Outcome{Kind: KindSecurityViolation, Message: reason}
}

func RuntimeError(message, trace string) Outcome {
	return Outcome{Kind: KindRuntimeError, Message: message, Trace: trace}
}

func Timeout() Outcome {
	return Outcome{Kind: KindTimeout}
}

func SystemError(detail string) Outcome {
	return Outcome{Kind: KindSystemError, Message: detail}
}

// Validate checks that the fields set match the variant.
func (o Outcome) Validate() error {
	switch o.Kind {
	case KindSuccess:
		if len(o.Value) == 0 || !json.Valid(o.Value) {
			return fmt.Errorf("success outcome carries an invalid value")
		}
	case KindSecurityViolation, KindRuntimeError, KindSystemError:
		if o.Message == "" {
			return fmt.Errorf("%s outcome has no message", o.Kind)
		}
	case KindTimeout:
	default:
		return fmt.Errorf("unknown outcome kind %q", o.Kind)
	}
	return nil
}

func (o Outcome) String() string {
	if o.Message == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}
