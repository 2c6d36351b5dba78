package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/oncare-patient-gateway/internal/auth"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// AuthService is implemented by *auth.Service.
type AuthService interface {
	SendOTP(ctx context.Context, identifier, patientName string) (auth.Challenge, error)
	VerifyOTP(ctx context.Context, req auth.VerifyRequest) (auth.Login, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandler serves OTP login and logout.
type AuthHandler struct {
	svc    AuthService
	logger *logging.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc AuthService, logger *logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{svc: svc, logger: logger}
}

type sendOTPRequest struct {
	Identifier  string `json:"identifier"`
	PatientName string `json:"patient_name"`
}

type challengeResponse struct {
	auth.Challenge
	NeedsHospitalChoice bool `json:"needs_hospital_choice"`
}

// SendOTP handles POST /v1/auth/otp.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	ch, err := h.svc.SendOTP(r.Context(), req.Identifier, req.PatientName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{Challenge: ch, NeedsHospitalChoice: ch.NeedsHospitalChoice()})
}

type verifyOTPRequest struct {
	OTPID       string `json:"otp_id"`
	OTP         string `json:"otp"`
	HospitalUID string `json:"hospital_uid"`
}

// VerifyOTP handles POST /v1/auth/verify.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	login, err := h.svc.VerifyOTP(r.Context(), auth.VerifyRequest{OTPID: req.OTPID, OTP: req.OTP, HospitalUID: req.HospitalUID})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, login)
}

// Logout handles POST /v1/auth/logout. The gateway session ends even when
// the backend logout fails; that failure is reported as a warning.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := map[string]string{"status": "logged_out"}
	if err := h.svc.Logout(r.Context(), sessionID); err != nil {
		if status, _ := classify(err); status == http.StatusUnprocessableEntity {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Warn("logout completed with backend error", "error", err)
		resp["warning"] = "Signed out locally; the server could not be reached."
	}
	writeJSON(w, http.StatusOK, resp)
}
