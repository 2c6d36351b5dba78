// Package booking holds the server-side booking session state machine, the
// cancellation flow and the registry that keeps both alive between requests.
package booking

import (
	"context"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
	"github.com/wolfman30/oncare-patient-gateway/internal/slots"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// Backend is the slice of the patient API that booking and cancellation use.
// *patientapi.Client satisfies it.
type Backend interface {
	ListPractitioners(ctx context.Context, locationID patientapi.ID) ([]patientapi.Practitioner, error)
	ListVisitTypes(ctx context.Context, locationID, practitionerID patientapi.ID) ([]string, error)
	CreateAppointment(ctx context.Context, req patientapi.CreateAppointmentRequest, opts ...patientapi.CallOption) (patientapi.AppointmentRef, error)
	RescheduleAppointment(ctx context.Context, req patientapi.RescheduleAppointmentRequest, opts ...patientapi.CallOption) (patientapi.AppointmentRef, error)
	CancelAppointment(ctx context.Context, appointmentID patientapi.ID) (string, error)
}

// SlotLoader loads one calendar day of availability. *slots.Catalog
// satisfies it.
type SlotLoader interface {
	Fetch(ctx context.Context, q slots.Query) (slots.Grouped, error)
}

// Observer is notified about every transition attempt and every finished
// cancellation.
type Observer interface {
	ObserveTransition(operation, outcome string)
	ObserveCancellation(outcome string)
}

// Deps are the collaborators shared by every session and cancellation flow.
type Deps struct {
	Backend Backend
	Slots   SlotLoader
	Policy  retry.Policy
	// Location is the clinic time zone; "today" and slot labels use it.
	Location *time.Location
	Now      func() time.Time
	Logger   *logging.Logger
	Observer Observer
}

func (d Deps) withDefaults() Deps {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return d
}

func (d Deps) observeTransition(operation, outcome string) {
	if d.Observer != nil {
		d.Observer.ObserveTransition(operation, outcome)
	}
}

func (d Deps) observeCancellation(outcome string) {
	if d.Observer != nil {
		d.Observer.ObserveCancellation(outcome)
	}
}
