package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/appointments"
	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/documents"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// ProfileSource is the slice of the patient API used for the profile and
// push registration.
type ProfileSource interface {
	GetPatientDetails(ctx context.Context) (*patientapi.Patient, error)
	SaveFCMToken(ctx context.Context, fcmToken string) error
}

// DocumentPager is implemented by *documents.Service.
type DocumentPager interface {
	Page(ctx context.Context, owner string, n int) (documents.Page, error)
}

// AppointmentOverview is implemented by *appointments.Service.
type AppointmentOverview interface {
	Overview(ctx context.Context, now time.Time) (appointments.Overview, error)
}

// PatientHandler serves the patient's profile, documents and appointments.
type PatientHandler struct {
	profile      ProfileSource
	documents    DocumentPager
	appointments AppointmentOverview
	logger       *logging.Logger
	now          func() time.Time
}

// NewPatientHandler creates a PatientHandler.
func NewPatientHandler(profile ProfileSource, docs DocumentPager, appts AppointmentOverview, logger *logging.Logger) *PatientHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PatientHandler{profile: profile, documents: docs, appointments: appts, logger: logger, now: time.Now}
}

// GetPatient handles GET /v1/patient.
func (h *PatientHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.profile.GetPatientDetails(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if p == nil {
		writeError(w, h.logger, apperr.New(apperr.KindServerError, "patient details unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListDocuments handles GET /v1/documents?page=N.
func (h *PatientHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, apperr.Validation("page must be a number"))
			return
		}
	}
	res, err := h.documents.Page(r.Context(), sessionID, page)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAppointments handles GET /v1/appointments.
func (h *PatientHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	res, err := h.appointments.Overview(r.Context(), h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type pushTokenRequest struct {
	FCMToken string `json:"fcm_token"`
}

// SavePushToken handles POST /v1/push-token.
func (h *PatientHandler) SavePushToken(w http.ResponseWriter, r *http.Request) {
	var req pushTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	token := strings.TrimSpace(req.FCMToken)
	if token == "" {
		writeError(w, h.logger, apperr.Validation("fcm_token is required"))
		return
	}
	if err := h.profile.SaveFCMToken(r.Context(), token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
