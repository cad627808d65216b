// Package apierr is the error taxonomy of the HTTP boundary. Handlers return
// these errors and Write converts them into a status code and JSON body.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	jsonwriter "github.com/dgellow/biolink/internal/json"
	"github.com/dgellow/biolink/internal/log"
)

type Code string

const (
	// Unauthenticated: the session bridge got no usable bearer header
	Unauthenticated Code = "unauthenticated"
	// Unauthorized: a privileged handler rejected the bearer credential
	Unauthorized Code = "unauthorized"
	NotFound     Code = "not_found"
	BadRequest   Code = "bad_request"
	Internal     Code = "internal"
)

// Error is an error that knows how it is presented to the client.
// Message is client-visible; Err is the cause and is only logged.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error
func (e *Error) Status() int {
	switch e.Code {
	case Unauthenticated, Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func NewUnauthenticated(message string) *Error {
	return New(Unauthenticated, message)
}

func NewUnauthorized() *Error {
	return New(Unauthorized, "Unauthorized")
}

func NewNotFound(message string) *Error {
	return New(NotFound, message)
}

func NewBadRequest(message string) *Error {
	return New(BadRequest, message)
}

// NewInternal hides err behind the generic message
func NewInternal(err error) *Error {
	return Wrap(Internal, "Internal server error", err)
}

// As extracts an *Error from err. Anything that is not one becomes Internal.
func As(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternal(err)
}

// Write converts err into a JSON response. Unauthenticated errors use the
// {"message": ...} body of the session endpoints; everything else uses
// {"error": ...}. Causes are logged, never sent.
func Write(w http.ResponseWriter, component string, err error) {
	apiErr := As(err)

	if apiErr.Err != nil || apiErr.Code == Internal {
		fields := map[string]any{"code": string(apiErr.Code)}
		if apiErr.Err != nil {
			fields["error"] = apiErr.Err.Error()
		}
		log.LogErrorWithFields(component, apiErr.Message, fields)
	}

	if apiErr.Code == Unauthenticated {
		jsonwriter.WriteMessage(w, apiErr.Status(), apiErr.Message)
		return
	}
	jsonwriter.WriteError(w, apiErr.Status(), apiErr.Message)
}
