package postgrest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Error is a non-2xx response from PostgREST.
type Error struct {
	Method  string
	Table   string
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
	Body    string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("postgrest %s %s: %d: %s", e.Method, e.Table, e.Status, msg)
}

// StatusCode lets retry.IsRetryable see the upstream status.
func (e *Error) StatusCode() int { return e.Status }

// Detail is the upstream message shown to callers.
func (e *Error) Detail() string {
	if e.Message == "" {
		return strings.TrimSpace(e.Body)
	}
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// IsCode reports whether err is a PostgREST error carrying the given
// Postgres or PostgREST code (e.g. "23505", "PGRST116").
func IsCode(err error, code string) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == code
}

func parseError(method, table string, status int, body []byte) *Error {
	e := &Error{
		Method: method,
		Table:  table,
		Status: status,
		Body:   string(body),
	}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.Code = parsed.Get("code").String()
		e.Message = parsed.Get("message").String()
		e.Details = parsed.Get("details").String()
		e.Hint = parsed.Get("hint").String()
	}
	return e
}
