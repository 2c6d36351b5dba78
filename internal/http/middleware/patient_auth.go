package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// Authenticator resolves a gateway token to its session id.
type Authenticator interface {
	Authenticate(ctx context.Context, gatewayToken string) (string, error)
}

const sessionExpiredMessage = "Your session has expired. Please log in again."

// PatientAuth requires a valid gateway bearer token and puts its session id
// on the request context.
func PatientAuth(authn Authenticator, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}
			sessionID, err := authn.Authenticate(r.Context(), strings.TrimPrefix(header, "Bearer "))
			switch {
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNoSession):
				writeError(w, http.StatusUnauthorized, "unauthorized", sessionExpiredMessage)
				return
			case err != nil:
				logger.Error("session lookup failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "server_error", "Network or server error. Please try again.")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sessionID)))
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Kind: kind})
}
