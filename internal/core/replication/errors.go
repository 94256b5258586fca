package replication

import "errors"

var (
	ErrUnknownCall        = errors.New("unknown call id")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrPropertyOutOfRange = errors.New("property id out of range")
	ErrUnknownEntity      = errors.New("unknown entity")
	ErrNotConnected       = errors.New("caller is not connected")
)

// ErrorCode is a numeric class for replication errors.
type ErrorCode int

const (
	ErrorCodeUnknownCall        ErrorCode = 3001
	ErrorCodeMalformedPayload   ErrorCode = 3002
	ErrorCodePropertyOutOfRange ErrorCode = 3003
	ErrorCodeUnknownEntity      ErrorCode = 3004
)

// Error carries a code and context for a replication failure. It unwraps to
// one of the sentinel errors above.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Malformed wraps a decode failure for call.
func Malformed(call CallID, cause error) error {
	return newError(ErrorCodeMalformedPayload, call.String(), errors.Join(ErrMalformedPayload, cause))
}

// IsProtocolDrift reports whether err came from data outside the fixed
// schema, as opposed to a local failure.
func IsProtocolDrift(err error) bool {
	return errors.Is(err, ErrUnknownCall) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrPropertyOutOfRange) ||
		errors.Is(err, ErrUnknownEntity)
}

// UnknownCall reports a call id outside the contract.
func UnknownCall(call CallID) error {
	return newError(ErrorCodeUnknownCall, call.String(), ErrUnknownCall)
}

// UnknownEntity reports a call addressed to an entity that is not attached.
func UnknownEntity(id EntityID) error {
	return newError(ErrorCodeUnknownEntity, "entity", ErrUnknownEntity).WithContext("entity", uint32(id))
}
