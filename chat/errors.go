package chat

import "fmt"

// Machine-readable failure codes surfaced to clients. Every rejected send
// carries exactly one of these; the first failing gate wins.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeDailyLimitReached = "DAILY_LIMIT_REACHED"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeInsufficientPoint = "INSUFFICIENT_POINTS"
	CodeRateLimited       = "RATE_LIMITED"
	CodeSpamDetected      = "SPAM_DETECTED"
	CodeNotFound          = "NOT_FOUND"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
)

// Error is the typed failure returned by every gate in the send pipeline and
// by the dispute subsystem. DisputeStatus is set whenever the failure was
// caused by a dispute chat's state so clients can tell "closed" from "no
// access".
type Error struct {
	Code          string
	Message       string
	DisputeStatus string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a typed chat error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewDisputeError builds a typed chat error annotated with the dispute status
// that caused it.
func NewDisputeError(code, message, status string) *Error {
	return &Error{Code: code, Message: message, DisputeStatus: status}
}

// AsChatError unwraps err into an *Error, or wraps it as a persistence
// failure when it is anything else. The commit step is the only place
// unexpected errors can originate; everything above it returns typed errors.
func AsChatError(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return &Error{Code: CodePersistenceFailed, Message: "message could not be delivered, please retry"}
}
