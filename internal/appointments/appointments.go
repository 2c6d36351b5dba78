// Package appointments lists the patient's appointments and resolves the one
// a reschedule or cancellation targets.
package appointments

import (
	"context"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
)

// Lister is satisfied by *patientapi.Client.
type Lister interface {
	ListAppointments(ctx context.Context) ([]patientapi.Appointment, error)
}

// Overview splits appointments around a point in time.
type Overview struct {
	Upcoming []patientapi.Appointment `json:"upcoming"`
	Past     []patientapi.Appointment `json:"past"`
}

// Service reads appointments through the retry policy.
type Service struct {
	source Lister
	policy retry.Policy
}

// NewService creates a Service.
func NewService(source Lister, policy retry.Policy) *Service {
	return &Service{source: source, policy: policy}
}

// List returns every appointment in backend order.
func (s *Service) List(ctx context.Context) ([]patientapi.Appointment, error) {
	return retry.Value(ctx, s.policy, "appointments", s.source.ListAppointments)
}

// Overview lists and partitions the appointments.
func (s *Service) Overview(ctx context.Context, now time.Time) (Overview, error) {
	list, err := s.List(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Partition(list, now), nil
}

// Find returns the appointment with the given id.
func (s *Service) Find(ctx context.Context, id patientapi.ID) (patientapi.Appointment, error) {
	list, err := s.List(ctx)
	if err != nil {
		return patientapi.Appointment{}, err
	}
	for _, a := range list {
		if a.AppointmentID == id {
			return a, nil
		}
	}
	return patientapi.Appointment{}, apperr.Validation("appointment %q not found", id)
}

// Partition puts appointments starting at or after now in Upcoming and the
// rest in Past, keeping backend order. Unparsable times count as past.
func Partition(list []patientapi.Appointment, now time.Time) Overview {
	out := Overview{Upcoming: []patientapi.Appointment{}, Past: []patientapi.Appointment{}}
	for _, a := range list {
		start, err := a.Start()
		if err == nil && !start.Before(now) {
			out.Upcoming = append(out.Upcoming, a)
			continue
		}
		out.Past = append(out.Past, a)
	}
	return out
}
