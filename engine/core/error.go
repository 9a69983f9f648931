package core

import "fmt"

// Error kind codes. These are the conceptual error kinds from the runtime
// spec: every error the engine returns to a caller carries one of these in
// Code so the transport layer can map it to an HTTP status without
// inspecting message text.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeTimeout         = "TIMEOUT"
	CodeUpstream        = "UPSTREAM"
	CodeFlowStepFailed  = "FLOW_STEP_FAILED"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeInternal        = "INTERNAL"
)

// Error is the engine's uniform error shape. It never leaks a stack trace:
// Message is always a human-readable sentence safe to return across the API
// boundary.
type Error struct {
	Message string         `json:"message,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

// NewError builds an Error. cause may be nil (e.g. for deliberate denials
// like rate limiting, which are not failures of anything).
func NewError(cause error, code string, details map[string]any) *Error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Message: message, Code: code, Details: details, cause: cause}
}

// Errorf builds an Error directly from a formatted message, with no wrapped
// cause.
func Errorf(code string, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Code: code}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target carries the same Code, so callers can write
// errors.Is(err, core.NewError(nil, core.CodeNotFound, nil)) without caring
// about Details/Message equality.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// AsMap renders the error as a JSON-friendly map, or nil if the error has no
// meaningful content.
func (e *Error) AsMap() map[string]any {
	if e == nil || (e.Message == "" && e.Code == "" && e.Details == nil) {
		return nil
	}
	return map[string]any{"message": e.Message, "code": e.Code, "details": e.Details}
}

// IsNotFound reports whether err is (or wraps) a NotFound engine error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsAlreadyExists reports whether err is (or wraps) an AlreadyExists engine error.
func IsAlreadyExists(err error) bool { return hasCode(err, CodeAlreadyExists) }

// IsRateLimited reports whether err is (or wraps) a RateLimited engine error.
func IsRateLimited(err error) bool { return hasCode(err, CodeRateLimited) }

// IsSessionExpired reports whether err is (or wraps) a SessionExpired engine error.
func IsSessionExpired(err error) bool { return hasCode(err, CodeSessionExpired) }

// IsInvalidArgument reports whether err is (or wraps) an InvalidArgument engine error.
func IsInvalidArgument(err error) bool { return hasCode(err, CodeInvalidArgument) }

func hasCode(err error, code string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return false
}
