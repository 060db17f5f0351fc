package outcome

import "encoding/json"

const (
	StatusSuccess = "success"
	StatusError   = "error"

	TimeoutMessage     = "Execution timeout"
	SystemErrorMessage = "Sandbox unavailable"
)

// Response is the record returned to callers. Empty fields are omitted.
type Response struct {
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Trace    string          `json:"trace,omitempty"`
	Category string          `json:"category,omitempty"`
}

// ToResponse converts an outcome into its wire record.
func ToResponse(o Outcome) Response {
	switch o.Kind {
	case KindSuccess:
		value := o.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		return Response{Status: StatusSuccess, Result: value}
	case KindSecurityViolation:
		return Response{
			Status:   StatusError,
			Error:    "Security violation: " + o.Message,
			Category: string(KindSecurityViolation),
		}
	case KindTimeout:
		return Response{
			Status:   StatusError,
			Error:    TimeoutMessage,
			Category: string(KindTimeout),
		}
	case KindRuntimeError:
		return Response{
			Status:   StatusError,
			Error:    o.Message,
			Trace:    o.Trace,
			Category: string(KindRuntimeError),
		}
	default:
		return ErrorResponse(string(KindSystemError), SystemErrorMessage)
	}
}

// ErrorResponse builds an error record for failures outside an execution,
// such as a malformed request or an unavailable sandbox.
func ErrorResponse(category, message string) Response {
	return Response{Status: StatusError, Error: message, Category: category}
}

// Marshal encodes the record.
func (r Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
