package errors

import (
	"errors"
	"fmt"

	"github.com/zhimiaox/zmqx-retained/consts"
)

var (
	New = errors.New
	As  = errors.As
	Is  = errors.Is
	// Join = errors.Join
)

var (
	ErrMalformed          = &Error{Code: consts.MalformedPacket}
	ErrProtocol           = &Error{Code: consts.ProtocolError}
	ErrRetainNotSupported = &Error{Code: consts.RetainNotSupported}
	ErrPacketTooLarge     = &Error{Code: consts.PacketTooLarge}
)

var (
	// ErrNullInput is returned when a required argument is absent.
	ErrNullInput = New("required argument is absent")
	// ErrInvalidTopicFilter is returned when a wildcard is present where a topic name is required,
	// or absent where a topic filter is required.
	ErrInvalidTopicFilter = New("invalid topic filter")
	// ErrClosed is returned by operations attempted after shutdown.
	ErrClosed = New("retained persistence has been closed")
	// ErrQueueFull is returned when a single writer lane is at its configured depth.
	ErrQueueFull = New("single writer queue is full")
	// ErrCollaboratorFailure matches every CollaboratorError via errors.Is.
	ErrCollaboratorFailure = New("collaborator failure")
	// ErrPayloadNotFound is returned by payload stores for unknown payload ids.
	ErrPayloadNotFound = New("payload not found")
	// ErrTopicTooLong is returned for topics longer than a two byte length prefix can carry.
	ErrTopicTooLong = New("topic too long")
	// ErrInvalidBucket is returned for bucket indexes outside [0, bucketCount).
	ErrInvalidBucket = New("invalid bucket index")
)

// Error wraps a MQTT reason code and error details.
type Error struct {
	// Code is the MQTT Reason Code
	Code consts.Code
	ErrorDetails
}

// ErrorDetails wraps reason string and user property for diagnostics.
type ErrorDetails struct {
	// ReasonString is the reason string field in property.
	// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901029
	ReasonString []byte
	// UserProperties is the user property field in property.
	UserProperties []struct {
		K []byte
		V []byte
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("operation error: Code = %x, reasonString: %s", e.Code, e.ReasonString)
}

// Is reports whether target carries the same reason code,
// so a detailed error still matches its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func NewError(code consts.Code) *Error {
	return &Error{Code: code}
}

// NewErrorf returns a reason code error with a formatted reason string.
func NewErrorf(code consts.Code, format string, args ...any) *Error {
	return &Error{Code: code, ErrorDetails: ErrorDetails{ReasonString: []byte(fmt.Sprintf(format, args...))}}
}

// Unwrap returns the reason code error carried by err, UnspecifiedError when there is none.
func Unwrap(err error) *Error {
	if err == nil {
		return nil
	}
	var ex *Error
	if As(err, &ex) {
		return ex
	}
	return &Error{
		Code: consts.UnspecifiedError,
		ErrorDetails: ErrorDetails{
			ReasonString: []byte(err.Error()),
		},
	}
}

// CollaboratorError wraps an error raised by a partition or payload store task.
type CollaboratorError struct {
	Op     string
	Bucket int
	Err    error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s (bucket %d): %v", e.Op, e.Bucket, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorFailure
}

// Collaborator wraps err into a CollaboratorError unless it already is one
// or it is one of the lifecycle sentinels.
func Collaborator(op string, bucket int, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if As(err, &ce) || Is(err, ErrClosed) || Is(err, ErrQueueFull) {
		return err
	}
	return &CollaboratorError{Op: op, Bucket: bucket, Err: err}
}
