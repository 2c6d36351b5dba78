// Package handlers exposes the gateway's JSON API to the presentation client.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
	"github.com/wolfman30/oncare-patient-gateway/internal/booking"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

const (
	maxBodyBytes          = 1 << 20
	sessionExpiredMessage = "Your session has expired. Please log in again."
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error        string              `json:"error"`
	Kind         string              `json:"kind"`
	Detail       string              `json:"detail,omitempty"`
	Session      *booking.View       `json:"session,omitempty"`
	Cancellation *booking.CancelView `json:"cancellation,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// classify maps an error to its HTTP status and response body.
func classify(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "This booking was not found or has expired.", Kind: "not_found"}
	case errors.Is(err, booking.ErrSuperseded):
		return http.StatusConflict, ErrorResponse{Error: "A newer selection replaced this request.", Kind: "superseded"}
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: apperr.UserMessage(err), Kind: "invalid_transition"}
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, ErrorResponse{Error: sessionExpiredMessage, Kind: string(apperr.KindUnauthorized)}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: apperr.UserMessage(err), Kind: "timeout"}
	}

	body := ErrorResponse{Error: apperr.UserMessage(err), Kind: "internal"}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, body
	}
	body.Kind = string(appErr.Kind)
	body.Detail = appErr.Detail
	switch appErr.Kind {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity, body
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized, body
	case apperr.KindApplication:
		return http.StatusConflict, body
	case apperr.KindSlotFetchFailed, apperr.KindServerError, apperr.KindNetwork:
		return http.StatusBadGateway, body
	}
	return http.StatusInternalServerError, body
}

func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	status, body := classify(err)
	respondError(w, logger, err, status, body)
}

func writeSessionError(w http.ResponseWriter, logger *logging.Logger, err error, view booking.View) {
	status, body := classify(err)
	body.Session = &view
	respondError(w, logger, err, status, body)
}

func writeCancellationError(w http.ResponseWriter, logger *logging.Logger, err error, view booking.CancelView) {
	status, body := classify(err)
	body.Cancellation = &view
	if view.Message != "" {
		body.Error = view.Message
	}
	respondError(w, logger, err, status, body)
}

func respondError(w http.ResponseWriter, logger *logging.Logger, err error, status int, body ErrorResponse) {
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "kind", body.Kind, "error", err)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

// owner returns the gateway session that owns booking state for r.
func owner(r *http.Request) (string, error) {
	id, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return "", auth.ErrNoSession
	}
	return id, nil
}
