package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors
// 13000-13999: Execution & Sandbox errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Execution & Sandbox Errors (13000-13999) ==========

	// Request (13000-13099)
	RequestTooLarge    ErrorCode = 13001
	CodeTooLarge       ErrorCode = 13002
	ExecutionQueueFull ErrorCode = 13100

	// Outcomes (13100-13199)
	SandboxSystemError ErrorCode = 13101
	SecurityViolation  ErrorCode = 13102
	RuntimeError       ErrorCode = 13103
	ExecutionTimeout   ErrorCode = 13104
	ResultTooLarge     ErrorCode = 13106
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid request format",
	RequiredFieldEmpty: "Required field is empty",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	RequestTooLarge:    "Request body is too large",
	CodeTooLarge:       "Code is too large",
	ExecutionQueueFull: "Execution queue is full",
	SandboxSystemError: "Sandbox unavailable",
	SecurityViolation:  "Security violation",
	RuntimeError:       "Runtime error",
	ExecutionTimeout:   "Execution timeout",
	ResultTooLarge:     "Result is too large",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound:
		return 404
	case c == CodeTooLarge, c == RequestTooLarge:
		return 413
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == ExecutionQueueFull:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}

// Category returns the wire category reported next to an error record.
func (c ErrorCode) Category() string {
	switch c {
	case SecurityViolation:
		return "security_violation"
	case RuntimeError, ResultTooLarge:
		return "runtime_error"
	case ExecutionTimeout, Timeout:
		return "timeout"
	case SandboxSystemError:
		return "system_error"
	case InvalidParams, InvalidFormat, ValidationFailed, RequiredFieldEmpty, CodeTooLarge, RequestTooLarge:
		return "invalid_request"
	case Unauthorized, TokenExpired, TokenInvalid, Forbidden:
		return "unauthorized"
	case TooManyRequests, ExecutionQueueFull:
		return "rate_limited"
	default:
		return "internal_error"
	}
}
