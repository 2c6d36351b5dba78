package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
)

type stubAuthenticator struct {
	sessionID string
	err       error
	gotToken  string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	s.gotToken = token
	return s.sessionID, s.err
}

func serveWithAuth(t *testing.T, authn Authenticator, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := PatientAuth(authn, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/patient", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestPatientAuthPutsSessionOnContext(t *testing.T) {
	authn := &stubAuthenticator{sessionID: "sess-1"}
	rec, seen := serveWithAuth(t, authn, "Bearer abc.def")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", seen)
	assert.Equal(t, "abc.def", authn.gotToken)
}

func TestPatientAuthRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"not bearer", "Basic xyz", nil, http.StatusUnauthorized},
		{"invalid token", "Bearer x", auth.ErrInvalidToken, http.StatusUnauthorized},
		{"logged out", "Bearer x", auth.ErrNoSession, http.StatusUnauthorized},
		{"store down", "Bearer x", errors.New("dial tcp: refused"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, seen := serveWithAuth(t, &stubAuthenticator{sessionID: "sess-1", err: tc.err}, tc.header)
			assert.Equal(t, tc.status, rec.Code)
			assert.Empty(t, seen)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}
