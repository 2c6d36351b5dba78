package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
)

// CancelPhase is the step a cancellation flow is in.
type CancelPhase string

const (
	CancelConfirming CancelPhase = "confirming_cancel"
	CancelCancelling CancelPhase = "cancelling"
	CancelCancelled  CancelPhase = "cancelled"
	CancelDismissed  CancelPhase = "dismissed"
)

// RefreshAfter is how long the presentation client shows the cancelled state
// before reloading the appointment list.
const RefreshAfter = 1500 * time.Millisecond

const cancelFailedMessage = "Failed to cancel appointment. Please try again."

// CancelView is a snapshot of a cancellation flow.
type CancelView struct {
	ID             string        `json:"id"`
	Phase          CancelPhase   `json:"phase"`
	AppointmentID  patientapi.ID `json:"appointment_id"`
	VisitTypeName  string        `json:"visit_type_name"`
	DateTime       string        `json:"date_time"`
	Message        string        `json:"message,omitempty"`
	Detail         string        `json:"detail,omitempty"`
	RefreshAfterMS int64         `json:"refresh_after_ms,omitempty"`
}

// Cancellation asks the patient to confirm before cancelling an appointment.
type Cancellation struct {
	mu sync.Mutex

	id      string
	appt    patientapi.Appointment
	deps    Deps
	phase   CancelPhase
	message string
	detail  string
}

// RequestCancel opens the confirmation prompt for appt.
func RequestCancel(id string, appt patientapi.Appointment, deps Deps) (*Cancellation, error) {
	if appt.AppointmentID == "" {
		return nil, apperr.Validation("appointment id is required")
	}
	if appt.Status == patientapi.StatusCancelled {
		return nil, apperr.Validation("appointment is already cancelled")
	}
	return &Cancellation{id: id, appt: appt, deps: deps.withDefaults(), phase: CancelConfirming}, nil
}

// ID returns the flow id.
func (c *Cancellation) ID() string { return c.id }

// View returns the current snapshot.
func (c *Cancellation) View() CancelView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Confirm cancels the appointment through the retry policy. A failure returns
// the flow to CancelConfirming with a generic message; the backend's own text
// is kept in Detail.
func (c *Cancellation) Confirm(ctx context.Context) (CancelView, error) {
	c.mu.Lock()
	if c.phase != CancelConfirming {
		defer c.mu.Unlock()
		return c.viewLocked(), apperr.Wrap(apperr.KindValidation, "cancellation is not awaiting confirmation", ErrInvalidTransition)
	}
	c.phase = CancelCancelling
	c.message, c.detail = "", ""
	id := c.appt.AppointmentID
	c.mu.Unlock()

	msg, err := retry.Value(ctx, c.deps.Policy, "cancel-appointment", func(ctx context.Context) (string, error) {
		return c.deps.Backend.CancelAppointment(ctx, id)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.phase = CancelConfirming
		c.message = cancelFailedMessage
		if apperr.Is(err, apperr.KindUnauthorized) {
			c.message = apperr.UserMessage(err)
		}
		c.detail = detailOf(err)
		c.deps.observeCancellation("failed")
		c.deps.Logger.Warn("cancel appointment failed", "cancellation_id", c.id, "appointment_id", id.String(), "error", err)
		return c.viewLocked(), err
	}
	c.phase = CancelCancelled
	c.message = msg
	c.deps.observeCancellation("cancelled")
	c.deps.Logger.Info("appointment cancelled", "cancellation_id", c.id, "appointment_id", id.String())
	return c.viewLocked(), nil
}

// Dismiss abandons the flow without touching the appointment.
func (c *Cancellation) Dismiss() (CancelView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != CancelConfirming {
		return c.viewLocked(), apperr.Wrap(apperr.KindValidation, "cancellation can no longer be dismissed", ErrInvalidTransition)
	}
	c.phase = CancelDismissed
	c.message, c.detail = "", ""
	c.deps.observeCancellation("dismissed")
	return c.viewLocked(), nil
}

// Done reports whether the flow reached a terminal phase.
func (c *Cancellation) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == CancelCancelled || c.phase == CancelDismissed
}

func (c *Cancellation) viewLocked() CancelView {
	v := CancelView{
		ID:            c.id,
		Phase:         c.phase,
		AppointmentID: c.appt.AppointmentID,
		VisitTypeName: c.appt.VisitTypeName,
		DateTime:      c.appt.DateTime,
		Message:       c.message,
		Detail:        c.detail,
	}
	if c.phase == CancelCancelled {
		v.RefreshAfterMS = RefreshAfter.Milliseconds()
	}
	return v
}

func detailOf(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Message != "" {
			return appErr.Message
		}
		if appErr.Detail != "" {
			return appErr.Detail
		}
	}
	return err.Error()
}
