// Package apperr classifies the failures that generation, parsing and
// extraction surface to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindTransport              Kind = "transport"
	KindHTTP                   Kind = "http"
	KindRateLimited            Kind = "rate_limited"
	KindMalformedResponseShape Kind = "malformed_response_shape"
	KindNoJSONFound            Kind = "no_json_found"
	KindParseFailure           Kind = "parse_failure"
	KindEmptyResult            Kind = "empty_result_after_validation"
	KindJobFailed              Kind = "job_failed"
	KindUserInput              Kind = "user_input"
	KindTimeout                Kind = "timeout"
	KindNotFound               Kind = "not_found"
)

// KindInvalidResponseShape is the gateway's name for a completion payload
// without choices. It is the same class as a decoded value missing fields.
const KindInvalidResponseShape = KindMalformedResponseShape

// Error is a classified failure. Status is set for KindHTTP and KindRateLimited.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// HTTPError creates an error for a non-2xx response. 429 is classified as
// KindRateLimited.
func HTTPError(status int, err error) *Error {
	if status == http.StatusTooManyRequests {
		return &Error{Kind: KindRateLimited, Message: "rate limited", Status: status, Err: err}
	}
	return &Error{Kind: KindHTTP, Message: "unexpected http status", Status: status, Err: err}
}

// UserInput reports a request rejected before any network call.
func UserInput(message string) *Error {
	return &Error{Kind: KindUserInput, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUserInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindMalformedResponseShape, KindNoJSONFound, KindParseFailure, KindEmptyResult, KindJobFailed:
		return http.StatusUnprocessableEntity
	case KindTransport, KindHTTP:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
