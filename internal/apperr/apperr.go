// Package apperr defines the stable error codes returned by the license gate.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	InvalidRequest      Code = "InvalidRequest"
	InvalidFormat       Code = "InvalidFormat"
	InvalidDevice       Code = "InvalidDevice"
	UnknownKey          Code = "UnknownKey"
	DeviceMismatch      Code = "DeviceMismatch"
	StorageUnavailable  Code = "StorageUnavailable"
	Malformed           Code = "Malformed"
	TamperedOrForged    Code = "TamperedOrForged"
	ScopeMismatch       Code = "ScopeMismatch"
	Expired             Code = "Expired"
	UnknownFirmware     Code = "UnknownFirmware"
	UpstreamUnavailable Code = "UpstreamUnavailable"
	Locked              Code = "Locked"
	CaptchaFailed       Code = "CaptchaFailed"
)

var statusByCode = map[Code]int{
	InvalidRequest:      http.StatusBadRequest,
	InvalidFormat:       http.StatusBadRequest,
	InvalidDevice:       http.StatusBadRequest,
	UnknownKey:          http.StatusForbidden,
	DeviceMismatch:      http.StatusConflict,
	StorageUnavailable:  http.StatusServiceUnavailable,
	Malformed:           http.StatusBadRequest,
	TamperedOrForged:    http.StatusForbidden,
	ScopeMismatch:       http.StatusForbidden,
	Expired:             http.StatusUnauthorized,
	UnknownFirmware:     http.StatusNotFound,
	UpstreamUnavailable: http.StatusBadGateway,
	Locked:              http.StatusTooManyRequests,
	CaptchaFailed:       http.StatusForbidden,
}

// Status returns the HTTP status used when c is reported to a client.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error carries a taxonomy code, a message safe to show to the caller and an
// optional internal cause that is never serialized.
type Error struct {
	Code    Code
	Message string
	// Hint is a redacted diagnostic, e.g. the bound device prefix on DeviceMismatch.
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, apperr.New(apperr.Expired, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
