package middleware

import (
	"net/http"

	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
)

// Device forwards the presentation client's device headers to upstream calls
// made while serving the request.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := patientapi.DeviceFromHeaders(r.Header)
		next.ServeHTTP(w, r.WithContext(patientapi.WithDevice(r.Context(), d)))
	})
}
