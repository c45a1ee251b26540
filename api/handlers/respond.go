package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/careconnect/backend/api/apierror"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse wraps a written row.
type MessageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify turns any error into an *apierror.Error.
func classify(err error) *apierror.Error {
	if e, ok := apierror.As(err); ok {
		return e
	}

	var pe *postgrest.Error
	if errors.As(err, &pe) {
		if pe.Status >= 500 {
			return apierror.Upstream(http.StatusBadGateway, "Upstream service error", err)
		}
		return apierror.Upstream(pe.Status, pe.Detail(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Upstream(http.StatusGatewayTimeout, "Upstream request timed out", err)
	}
	return apierror.Internal("internal server error", err)
}

// writeError renders err as {"error": msg}. Internal errors are logged and
// reported to Sentry; their detail never reaches the caller.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	status := e.HTTPStatus()

	switch {
	case status >= 500:
		a.Log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"status", status,
			"error", err)
		if e.Kind == apierror.KindInternal {
			captureException(r, err)
		}
	case e.Kind == apierror.KindUpstream:
		a.Log.Warn("upstream rejected request", "path", r.URL.Path, "status", status, "error", err)
	default:
		a.Log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", e.Message)
	}

	writeJSON(w, status, ErrorResponse{Error: e.Message})
}

func captureException(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.CaptureException(err)
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierror.Validation("Request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierror.Validation("Request body is too large")
		}
		return &apierror.Error{Kind: apierror.KindValidation, Message: "Invalid JSON body", Err: err}
	}
	return nil
}

// GetIPFromRequest returns the client address. chi's RealIP middleware has
// already applied X-Forwarded-For / X-Real-IP to RemoteAddr.
func GetIPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func logger(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
