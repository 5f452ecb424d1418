package tokenx

import (
	"errors"
	"fmt"
)

// ErrorCode represents codec error categories.
type ErrorCode string

const (
	ErrCodeEncodeFailed ErrorCode = "encode_failed"
	ErrCodeDecodeFailed ErrorCode = "decode_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeEncodeFailed: "Unable to encode token",
	ErrCodeDecodeFailed: "Unable to decode token",
}

// Causes wrapped by *Error. Match them with errors.Is.
var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrMalformedToken    = errors.New("malformed token")
	ErrAlgorithmMismatch = errors.New("unexpected signing algorithm")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenNotYetValid  = errors.New("token not yet valid")
	ErrMissingClaim      = errors.New("missing claim")
)

// Error wraps codec failures with a stable code and a fixed context message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the diagnostic text of the underlying backend error.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// IsEncodeError reports whether err is an encode failure.
func IsEncodeError(err error) bool {
	return hasCode(err, ErrCodeEncodeFailed)
}

// IsDecodeError reports whether err is a decode failure.
func IsDecodeError(err error) bool {
	return hasCode(err, ErrCodeDecodeFailed)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}
