package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies why a tag session ended without success.
type ErrorKind int

const (
	// Session errors (100-199)
	ErrScanningUnavailable ErrorKind = iota + 100
	ErrTagConnectionFailed
	ErrStatusQueryFailed
	ErrTagNotSupported
	ErrTagReadOnly
	ErrPayloadEncodingFailed
	ErrWriteFailed
	ErrReadFailed
	ErrCancelled
	ErrSessionTimeout
	ErrSessionBusy
)

var kindNames = map[ErrorKind]string{
	ErrScanningUnavailable:   "ScanningUnavailable",
	ErrTagConnectionFailed:   "TagConnectionFailed",
	ErrStatusQueryFailed:     "StatusQueryFailed",
	ErrTagNotSupported:       "TagNotSupported",
	ErrTagReadOnly:           "TagReadOnly",
	ErrPayloadEncodingFailed: "PayloadEncodingFailed",
	ErrWriteFailed:           "WriteFailed",
	ErrReadFailed:            "ReadFailed",
	ErrCancelled:             "Cancelled",
	ErrSessionTimeout:        "SessionTimeout",
	ErrSessionBusy:           "SessionBusy",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText lets kinds appear by name in JSON payloads.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error provides structured error information for programmatic handling.
type Error struct {
	Kind    ErrorKind
	Op      string // Operation that failed (e.g., "Connect", "WriteMessage")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same kind, so callers can compare against
// the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrorScanningUnavailable   = &Error{Kind: ErrScanningUnavailable, Message: "scanning unavailable"}
	ErrorTagConnectionFailed   = &Error{Kind: ErrTagConnectionFailed, Message: "tag connection failed"}
	ErrorStatusQueryFailed     = &Error{Kind: ErrStatusQueryFailed, Message: "status query failed"}
	ErrorTagNotSupported       = &Error{Kind: ErrTagNotSupported, Message: "tag not supported"}
	ErrorTagReadOnly           = &Error{Kind: ErrTagReadOnly, Message: "tag is read-only"}
	ErrorPayloadEncodingFailed = &Error{Kind: ErrPayloadEncodingFailed, Message: "payload encoding failed"}
	ErrorWriteFailed           = &Error{Kind: ErrWriteFailed, Message: "write failed"}
	ErrorReadFailed            = &Error{Kind: ErrReadFailed, Message: "read failed"}
	ErrorCancelled             = &Error{Kind: ErrCancelled, Message: "session cancelled"}
	ErrorSessionTimeout        = &Error{Kind: ErrSessionTimeout, Message: "session timed out"}
	ErrorSessionBusy           = &Error{Kind: ErrSessionBusy, Message: "a session is already live"}
)

// NewError creates an error of the given kind with its default message.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: defaultMessage(kind),
		Cause:   cause,
	}
}

func defaultMessage(kind ErrorKind) string {
	switch kind {
	case ErrScanningUnavailable:
		return ErrorScanningUnavailable.Message
	case ErrTagConnectionFailed:
		return ErrorTagConnectionFailed.Message
	case ErrStatusQueryFailed:
		return ErrorStatusQueryFailed.Message
	case ErrTagNotSupported:
		return ErrorTagNotSupported.Message
	case ErrTagReadOnly:
		return ErrorTagReadOnly.Message
	case ErrPayloadEncodingFailed:
		return ErrorPayloadEncodingFailed.Message
	case ErrWriteFailed:
		return ErrorWriteFailed.Message
	case ErrReadFailed:
		return ErrorReadFailed.Message
	case ErrCancelled:
		return ErrorCancelled.Message
	case ErrSessionTimeout:
		return ErrorSessionTimeout.Message
	case ErrSessionBusy:
		return ErrorSessionBusy.Message
	}
	return "tag session error"
}

// KindOf extracts the ErrorKind from an error if it's an *Error.
// Returns 0 if the error is not an *Error.
func KindOf(err error) ErrorKind {
	var nfcErr *Error
	if errors.As(err, &nfcErr) {
		return nfcErr.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Errorf creates an *Error with a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
