package router

import (
	"encoding/json"
	"fmt"
	"io"
)

// Error is an error that knows how to render itself as an HTTP response.
type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// JsonError is rendered as {"code": ..., "error": ..., "details": ...}.
// Details maps input fields to what is wrong with them and is omitted when empty.
type JsonError struct {
	Code    int               `json:"code"`
	Err     string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

func Errorf(code int, format string, args ...any) JsonError {
	return NewJsonError(code, fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error carrying the field details.
func (e JsonError) WithDetails(details map[string]string) JsonError {
	e.Details = details
	return e
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}
