package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/booking"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// AppointmentFinder is implemented by *appointments.Service.
type AppointmentFinder interface {
	Find(ctx context.Context, id patientapi.ID) (patientapi.Appointment, error)
}

// LocationDirectory is implemented by *booking.Directory.
type LocationDirectory interface {
	List(ctx context.Context) ([]patientapi.Location, error)
	Find(ctx context.Context, id patientapi.ID) (patientapi.Location, error)
}

// BookingHandler drives booking sessions and cancellation flows.
type BookingHandler struct {
	registry     *booking.Registry
	appointments AppointmentFinder
	locations    LocationDirectory
	logger       *logging.Logger
}

// NewBookingHandler creates a BookingHandler.
func NewBookingHandler(registry *booking.Registry, appts AppointmentFinder, locations LocationDirectory, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{registry: registry, appointments: appts, locations: locations, logger: logger}
}

// Routes mounts the booking session endpoints.
func (h *BookingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DiscardSession)
		r.Post("/start", h.Start)
		r.Post("/location", h.SelectLocation)
		r.Post("/practitioner", h.SelectPractitioner)
		r.Post("/visit-type", h.SelectVisitType)
		r.Post("/date", h.ChangeDate)
		r.Post("/slot", h.SelectSlot)
		r.Post("/review", h.RequestReview)
		r.Post("/confirm", h.Confirm)
		r.Post("/back", h.GoBack)
	})
	return r
}

// CancellationRoutes mounts the cancellation flow endpoints.
func (h *BookingHandler) CancellationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.RequestCancel)
	r.Post("/{cancellationID}/confirm", h.ConfirmCancel)
	r.Delete("/{cancellationID}", h.DismissCancel)
	return r
}

// ListLocations handles GET /v1/locations.
func (h *BookingHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	list, err := h.locations.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createSessionRequest struct {
	Mode          booking.Mode  `json:"mode"`
	AppointmentID patientapi.ID `json:"appointment_id"`
}

// CreateSession handles POST /v1/booking/sessions. Reschedule sessions are
// seeded from the backend's copy of the appointment.
func (h *BookingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	switch req.Mode {
	case "", booking.ModeNew:
		s := h.registry.StartNew(ownerID)
		writeJSON(w, http.StatusCreated, s.View())
	case booking.ModeReschedule:
		if req.AppointmentID == "" {
			writeError(w, h.logger, apperr.Validation("appointment_id is required to reschedule"))
			return
		}
		appt, err := h.appointments.Find(r.Context(), req.AppointmentID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		s, err := h.registry.StartReschedule(ownerID, appt)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.View())
	default:
		writeError(w, h.logger, apperr.Validation("mode must be %q or %q", booking.ModeNew, booking.ModeReschedule))
	}
}

// GetSession handles GET /v1/booking/sessions/{sessionID}.
func (h *BookingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// DiscardSession handles DELETE /v1/booking/sessions/{sessionID}.
func (h *BookingHandler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.registry.Discard(ownerID, chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start handles POST /v1/booking/sessions/{sessionID}/start.
func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.Start(r.Context())
	})
}

type selectLocationRequest struct {
	LocationID patientapi.ID `json:"location_id"`
}

// SelectLocation handles POST /v1/booking/sessions/{sessionID}/location.
func (h *BookingHandler) SelectLocation(w http.ResponseWriter, r *http.Request) {
	var req selectLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		if req.LocationID == "" {
			return s.View(), apperr.Validation("location_id is required")
		}
		loc, err := h.locations.Find(r.Context(), req.LocationID)
		if err != nil {
			return s.View(), err
		}
		return s.SelectLocation(r.Context(), loc)
	})
}

type selectPractitionerRequest struct {
	PractitionerID patientapi.ID `json:"practitioner_id"`
}

// SelectPractitioner handles POST /v1/booking/sessions/{sessionID}/practitioner.
func (h *BookingHandler) SelectPractitioner(w http.ResponseWriter, r *http.Request) {
	var req selectPractitionerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.SelectPractitioner(r.Context(), req.PractitionerID)
	})
}

type selectVisitTypeRequest struct {
	VisitType string `json:"visit_type"`
}

// SelectVisitType handles POST /v1/booking/sessions/{sessionID}/visit-type.
func (h *BookingHandler) SelectVisitType(w http.ResponseWriter, r *http.Request) {
	var req selectVisitTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.SelectVisitType(r.Context(), strings.TrimSpace(req.VisitType))
	})
}

type changeDateRequest struct {
	Date string `json:"date"`
}

// ChangeDate handles POST /v1/booking/sessions/{sessionID}/date.
func (h *BookingHandler) ChangeDate(w http.ResponseWriter, r *http.Request) {
	var req changeDateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.ChangeDate(r.Context(), strings.TrimSpace(req.Date))
	})
}

type selectSlotRequest struct {
	DateTime string `json:"date_time"`
}

// SelectSlot handles POST /v1/booking/sessions/{sessionID}/slot.
func (h *BookingHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var req selectSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.SelectSlot(req.DateTime)
	})
}

// RequestReview handles POST /v1/booking/sessions/{sessionID}/review.
func (h *BookingHandler) RequestReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.RequestReview()
	})
}

// Confirm handles POST /v1/booking/sessions/{sessionID}/confirm.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.Confirm(r.Context())
	})
}

// GoBack handles POST /v1/booking/sessions/{sessionID}/back.
func (h *BookingHandler) GoBack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(s *booking.Session) (booking.View, error) {
		return s.GoBack()
	})
}

type requestCancelRequest struct {
	AppointmentID patientapi.ID `json:"appointment_id"`
}

// RequestCancel handles POST /v1/cancellations.
func (h *BookingHandler) RequestCancel(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req requestCancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.AppointmentID == "" {
		writeError(w, h.logger, apperr.Validation("appointment_id is required"))
		return
	}
	appt, err := h.appointments.Find(r.Context(), req.AppointmentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.registry.RequestCancel(ownerID, appt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.View())
}

// ConfirmCancel handles POST /v1/cancellations/{cancellationID}/confirm.
func (h *BookingHandler) ConfirmCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cancellation(w, r)
	if !ok {
		return
	}
	view, err := c.Confirm(r.Context())
	if err != nil {
		writeCancellationError(w, h.logger, err, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DismissCancel handles DELETE /v1/cancellations/{cancellationID}.
func (h *BookingHandler) DismissCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cancellation(w, r)
	if !ok {
		return
	}
	view, err := c.Dismiss()
	if err != nil {
		writeCancellationError(w, h.logger, err, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, fn func(*booking.Session) (booking.View, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := fn(s)
	if err != nil {
		writeSessionError(w, h.logger, err, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BookingHandler) session(w http.ResponseWriter, r *http.Request) (*booking.Session, bool) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	s, err := h.registry.Session(ownerID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return s, true
}

func (h *BookingHandler) cancellation(w http.ResponseWriter, r *http.Request) (*booking.Cancellation, bool) {
	ownerID, err := owner(r)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	c, err := h.registry.Cancellation(ownerID, chi.URLParam(r, "cancellationID"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return c, true
}
