package patientapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://www.oncarecancer.com/mobile-app"
	defaultTimeout = 20 * time.Second

	// CodeSuccess is the envelope discriminator for a successful call.
	CodeSuccess = 1
)

// Envelope is the response wrapper every endpoint uses.
type Envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the envelope signals application-level success.
func (e *Envelope) OK() bool {
	return e != nil && e.Code != nil && *e.Code == CodeSuccess
}

// HasData reports whether data is present and not null.
func (e *Envelope) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// Location is a care location.
type Location struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	Area string `json:"area,omitempty"`
	City string `json:"city,omitempty"`
}

// Label renders "name, city" the way the booking screen lists locations.
func (l Location) Label() string {
	place := l.City
	if place == "" {
		place = l.Area
	}
	if place == "" {
		return l.Name
	}
	return l.Name + ", " + place
}

// DoctorDetails is optional profile data for a practitioner.
type DoctorDetails struct {
	Experience     FlexString `json:"experience,omitempty"`
	Specialisation string     `json:"specialisation,omitempty"`
	Image          string     `json:"img,omitempty"`
	Qualifications StringList `json:"qualificationsArray,omitempty"`
	PastExperience StringList `json:"past_experience,omitempty"`
	Expertise      StringList `json:"expertise,omitempty"`
}

// Practitioner is a doctor scoped to a location.
type Practitioner struct {
	ID            ID             `json:"id"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName,omitempty"`
	DoctorDetails *DoctorDetails `json:"doctorDetails,omitempty"`
}

// FullName joins first and last name.
func (p Practitioner) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Slot is one bookable time unit.
type Slot struct {
	DateTime string `json:"dateTime"`
	Name     string `json:"name"`
}

// Start parses DateTime.
func (s Slot) Start() (time.Time, error) {
	return ParseDateTime(s.DateTime)
}

// AppointmentStatus is the server-owned lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is a patient's booked appointment.
type Appointment struct {
	AppointmentID        ID                `json:"appointmentId"`
	VisitTypeName        string            `json:"visitTypeName"`
	PatientBookedChannel string            `json:"patientBookedChannel,omitempty"`
	Status               AppointmentStatus `json:"status"`
	PaidAmount           float64           `json:"paidAmount"`
	PractitionerName     string            `json:"practitionerName"`
	DateTime             string            `json:"dateTime"`
	LocationID           ID                `json:"locationId,omitempty"`
	LocationAlias        string            `json:"locationAlias,omitempty"`
	PractitionerID       ID                `json:"practitionerId,omitempty"`
}

// Start parses DateTime.
func (a Appointment) Start() (time.Time, error) {
	return ParseDateTime(a.DateTime)
}

// AppointmentRef is what the backend returns after a create or reschedule.
type AppointmentRef struct {
	AppointmentID ID                `json:"appointmentId,omitempty"`
	Status        AppointmentStatus `json:"status,omitempty"`
	DateTime      string            `json:"dateTime,omitempty"`
}

// CreateAppointmentRequest books a new appointment.
type CreateAppointmentRequest struct {
	PractitionerID ID     `json:"practitionerId"`
	LocationID     ID     `json:"locationId"`
	DateTime       string `json:"dateTime"`
	VisitTypeName  string `json:"visitTypeName"`
}

// RescheduleAppointmentRequest moves an existing appointment.
type RescheduleAppointmentRequest struct {
	AppointmentID ID     `json:"appointmentId"`
	LocationID    ID     `json:"locationId"`
	DateTime      string `json:"dateTime"`
}

// SlotQuery identifies one calendar day of availability.
type SlotQuery struct {
	LocationID     ID     `json:"locationId"`
	PractitionerID ID     `json:"practitionerId"`
	VisitTypeName  string `json:"visitTypeName"`
	Date           string `json:"date"`
}

// Patient is the logged-in patient's profile.
type Patient struct {
	ID                 string     `json:"_id,omitempty"`
	PatientID          string     `json:"patient_id"`
	PatientName        string     `json:"patient_name"`
	IsRegistered       FlexString `json:"is_registered,omitempty"`
	PhoneNumber        string     `json:"phone_number,omitempty"`
	DateOfBirth        string     `json:"date_of_birth,omitempty"`
	AgeYears           FlexString `json:"age_yrs,omitempty"`
	AgeMonths          FlexString `json:"age_mnths,omitempty"`
	Gender             string     `json:"gender,omitempty"`
	Address            string     `json:"address,omitempty"`
	Area               string     `json:"area,omitempty"`
	City               string     `json:"city,omitempty"`
	State              string     `json:"state,omitempty"`
	RegDate            string     `json:"reg_date,omitempty"`
	GovtIDNumber       string     `json:"govtIdNum,omitempty"`
	RegistrationCenter string     `json:"registeration_center,omitempty"`
}

// Document is an uploaded medical document.
type Document struct {
	ID           ID     `json:"id"`
	PatientID    string `json:"patient_id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	FileURL      string `json:"file_url"`
	FileSize     int64  `json:"file_size,omitempty"`
	UploadedBy   string `json:"uploaded_by,omitempty"`
	UploadedAt   string `json:"uploaded_at,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// HospitalUID is one hospital registration a phone number maps to.
type HospitalUID struct {
	UID  string `json:"uid"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts a bare string or an object with uid/hospitalUid/id and
// name/hospitalName keys.
func (h *HospitalUID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' {
		var f FlexString
		if err := f.UnmarshalJSON(b); err != nil {
			return err
		}
		*h = HospitalUID{UID: string(f)}
		return nil
	}
	var raw struct {
		UID          FlexString `json:"uid"`
		HospitalUID  FlexString `json:"hospitalUid"`
		ID           FlexString `json:"id"`
		Name         string     `json:"name"`
		HospitalName string     `json:"hospitalName"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	h.UID = firstNonEmpty(string(raw.UID), string(raw.HospitalUID), string(raw.ID))
	h.Name = firstNonEmpty(raw.Name, raw.HospitalName)
	return nil
}

// OTPChallenge is returned when an OTP was sent.
type OTPChallenge struct {
	OTPID        string        `json:"otp_id"`
	Mobile       string        `json:"mobile"`
	HospitalUIDs []HospitalUID `json:"hospitalUids,omitempty"`
	Message      string        `json:"-"`
}

// AccessToken is the backend session token.
type AccessToken struct {
	Token     string `json:"access_token"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Expiry parses ExpiresAt; the zero time is returned when absent or unparsable.
func (t AccessToken) Expiry() time.Time {
	ts, err := ParseDateTime(t.ExpiresAt)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ParseDateTime accepts RFC 3339 timestamps with or without fractional seconds
// and zone-less ISO timestamps (read as UTC).
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04:05.000", "2006-01-02 15:04:05"}
	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
