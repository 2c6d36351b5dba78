package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
)

type stubLister struct {
	list  []patientapi.Appointment
	errs  []error
	calls int
}

func (s *stubLister) ListAppointments(context.Context) ([]patientapi.Appointment, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.list, nil
}

var sample = []patientapi.Appointment{
	{AppointmentID: "1", DateTime: "2025-01-12T10:00:00Z", Status: patientapi.StatusConfirmed},
	{AppointmentID: "2", DateTime: "2025-01-02T10:00:00Z", Status: patientapi.StatusCompleted},
	{AppointmentID: "3", DateTime: "2025-01-10T08:00:00Z", Status: patientapi.StatusPending},
	{AppointmentID: "4", DateTime: "", Status: patientapi.StatusCancelled},
}

func TestPartition(t *testing.T) {
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	got := Partition(sample, now)

	ids := func(list []patientapi.Appointment) []patientapi.ID {
		out := []patientapi.ID{}
		for _, a := range list {
			out = append(out, a.AppointmentID)
		}
		return out
	}
	assert.Equal(t, []patientapi.ID{"1", "3"}, ids(got.Upcoming))
	assert.Equal(t, []patientapi.ID{"2", "4"}, ids(got.Past))
}

func TestFindRetriesTransientFailure(t *testing.T) {
	src := &stubLister{list: sample, errs: []error{apperr.New(apperr.KindNetwork, "reset")}}
	svc := NewService(src, retry.Policy{MaxRetries: 2, Delay: time.Millisecond})

	a, err := svc.Find(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, patientapi.StatusPending, a.Status)
	assert.Equal(t, 2, src.calls)

	_, err = svc.Find(context.Background(), "99")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestOverviewPropagatesUnauthorized(t *testing.T) {
	src := &stubLister{errs: []error{apperr.New(apperr.KindUnauthorized, "Session expired or unauthorized.")}}
	svc := NewService(src, retry.Policy{MaxRetries: 2, Delay: time.Millisecond})

	_, err := svc.Overview(context.Background(), time.Now())
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	assert.Equal(t, 1, src.calls)
}
