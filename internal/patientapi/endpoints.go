package patientapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// ListLocations returns every care location.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	return call[[]Location](ctx, c, http.MethodGet, "/locations", nil)
}

// ListPractitioners returns the practitioners working at a location.
func (c *Client) ListPractitioners(ctx context.Context, locationID ID) ([]Practitioner, error) {
	body := map[string]any{"locationId": locationID}
	return call[[]Practitioner](ctx, c, http.MethodPost, "/practitioners", body)
}

// ListVisitTypes returns the visit type labels offered for a practitioner at a
// location.
func (c *Client) ListVisitTypes(ctx context.Context, locationID, practitionerID ID) ([]string, error) {
	body := map[string]any{"locationId": locationID, "practitionerId": practitionerID}
	raw, err := call[[]visitTypeLabel](ctx, c, http.MethodPost, "/visit-types", body)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v != "" {
			out = append(out, string(v))
		}
	}
	return out, nil
}

// ListSlots returns the bookable slots for one calendar day, in backend order.
func (c *Client) ListSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	return call[[]Slot](ctx, c, http.MethodPost, "/visit-slots", q)
}

// CreateAppointment books a new appointment.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest, opts ...CallOption) (AppointmentRef, error) {
	return call[AppointmentRef](ctx, c, http.MethodPost, "/book-appointment", req, opts...)
}

// RescheduleAppointment moves an existing appointment to a new slot.
func (c *Client) RescheduleAppointment(ctx context.Context, req RescheduleAppointmentRequest, opts ...CallOption) (AppointmentRef, error) {
	return call[AppointmentRef](ctx, c, http.MethodPost, "/reschedule-appointment", req, opts...)
}

// CancelAppointment cancels an appointment and returns the backend's
// confirmation message.
func (c *Client) CancelAppointment(ctx context.Context, appointmentID ID) (string, error) {
	env, err := c.Invoke(ctx, http.MethodPost, "/cancel-appointment", map[string]any{"appointmentId": appointmentID})
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// ListAppointments returns the logged-in patient's appointments. A missing
// payload yields an empty slice.
func (c *Client) ListAppointments(ctx context.Context) ([]Appointment, error) {
	out, err := call[[]Appointment](ctx, c, http.MethodGet, "/getPatientAppointments", nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Appointment{}
	}
	return out, nil
}

// SendOTP asks the backend to text a one-time password to the patient
// identified by identifier (mobile number or hospital UID).
func (c *Client) SendOTP(ctx context.Context, identifier, patientName string) (OTPChallenge, error) {
	body := map[string]string{"identifier": identifier, "patientname": patientName}
	env, err := c.Invoke(ctx, http.MethodPost, "/sendOTP", body, SkipAuth())
	if err != nil {
		return OTPChallenge{}, err
	}
	challenge, err := decodeData[OTPChallenge](env)
	if err != nil {
		return OTPChallenge{}, err
	}
	challenge.Message = env.Message
	return challenge, nil
}

// VerifyOTPRequest exchanges an OTP for a session token.
type VerifyOTPRequest struct {
	Mobile      string `json:"mobile"`
	OTP         string `json:"otp"`
	OTPID       string `json:"otp_id,omitempty"`
	HospitalUID string `json:"hospitalUid,omitempty"`
}

// VerifyOTP returns the backend session token for a valid OTP.
func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (AccessToken, error) {
	return call[AccessToken](ctx, c, http.MethodPost, "/verifyOTP", req, SkipAuth())
}

// Logout ends the backend session for token.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.Invoke(ctx, http.MethodGet, "/logout", nil, WithToken(token))
	return err
}

// GetPatientDetails returns the logged-in patient's profile.
func (c *Client) GetPatientDetails(ctx context.Context) (*Patient, error) {
	return call[*Patient](ctx, c, http.MethodGet, "/getPatientDetails", nil)
}

// GetPatientDocuments returns the patient's uploaded documents.
func (c *Client) GetPatientDocuments(ctx context.Context) ([]Document, error) {
	out, err := call[[]Document](ctx, c, http.MethodGet, "/getPatientDocuments", nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Document{}
	}
	return out, nil
}

// SaveFCMToken registers a push notification token for the patient.
func (c *Client) SaveFCMToken(ctx context.Context, fcmToken string) error {
	_, err := c.Invoke(ctx, http.MethodPost, "/saveFCMToken", map[string]string{"fcmToken": fcmToken})
	return err
}

// visitTypeLabel accepts either a bare string or an object with a name field.
type visitTypeLabel string

func (v *visitTypeLabel) UnmarshalJSON(b []byte) error {
	var s FlexString
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Name          string `json:"name"`
			VisitTypeName string `json:"visitTypeName"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*v = visitTypeLabel(firstNonEmpty(obj.VisitTypeName, obj.Name))
		return nil
	}
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*v = visitTypeLabel(strings.TrimSpace(string(s)))
	return nil
}
