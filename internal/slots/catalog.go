// Package slots fetches bookable slots for one calendar day and groups them
// by time of day.
package slots

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

// DateLayout is the calendar-day format the backend expects.
const DateLayout = "2006-01-02"

// Bucket boundaries in local hours, half-open.
const (
	morningStart   = 5
	afternoonStart = 12
	eveningStart   = 17
	eveningEnd     = 22
)

// Source is the subset of the transport client the catalog needs.
type Source interface {
	ListSlots(ctx context.Context, q patientapi.SlotQuery) ([]patientapi.Slot, error)
}

// Query identifies the availability to load.
type Query struct {
	LocationID     patientapi.ID
	PractitionerID patientapi.ID
	VisitTypeName  string
	Date           time.Time
}

// Grouped is a day of slots bucketed by time of day. All keeps the backend's
// original sequence, including slots that fall in no bucket.
type Grouped struct {
	Morning   []patientapi.Slot `json:"morning"`
	Afternoon []patientapi.Slot `json:"afternoon"`
	Evening   []patientapi.Slot `json:"evening"`
	All       []patientapi.Slot `json:"all"`
}

// Empty reports whether the backend returned no slots at all.
func (g Grouped) Empty() bool { return len(g.All) == 0 }

// Contains reports whether a slot with the given dateTime was returned.
func (g Grouped) Contains(dateTime string) (patientapi.Slot, bool) {
	for _, s := range g.All {
		if s.DateTime == dateTime {
			return s, true
		}
	}
	return patientapi.Slot{}, false
}

// Catalog loads slots through the retry policy.
type Catalog struct {
	source Source
	policy retry.Policy
	loc    *time.Location
	logger *logging.Logger
}

// NewCatalog builds a Catalog. loc is the clinic time zone used both for the
// requested calendar day and for bucketing; nil means UTC.
func NewCatalog(source Source, policy retry.Policy, loc *time.Location, logger *logging.Logger) *Catalog {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Catalog{source: source, policy: policy, loc: loc, logger: logger.Component("slots")}
}

// Location returns the clinic time zone.
func (c *Catalog) Location() *time.Location { return c.loc }

// Fetch loads and groups the slots for q. An empty day is not an error.
// Failures other than session or cancellation problems surface as
// apperr.KindSlotFetchFailed once retries are exhausted.
func (c *Catalog) Fetch(ctx context.Context, q Query) (Grouped, error) {
	req := patientapi.SlotQuery{
		LocationID:     q.LocationID,
		PractitionerID: q.PractitionerID,
		VisitTypeName:  q.VisitTypeName,
		Date:           q.Date.In(c.loc).Format(DateLayout),
	}
	list, err := retry.Value(ctx, c.policy, "visit-slots", func(ctx context.Context) ([]patientapi.Slot, error) {
		return c.source.ListSlots(ctx, req)
	})
	if err != nil {
		if apperr.IsAuthProblem(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Grouped{}, err
		}
		c.logger.Warn("slot fetch failed", "date", req.Date, "practitioner_id", req.PractitionerID.String(), "error", err)
		return Grouped{}, apperr.Wrap(apperr.KindSlotFetchFailed, "failed to load slots", err)
	}
	return GroupByTimeOfDay(list, c.loc), nil
}

// GroupByTimeOfDay buckets slots by local hour: morning [5,12), afternoon
// [12,17), evening [17,22). Slots outside [5,22) or with an unparsable
// dateTime land in no bucket. Relative order is preserved.
func GroupByTimeOfDay(list []patientapi.Slot, loc *time.Location) Grouped {
	if loc == nil {
		loc = time.UTC
	}
	g := Grouped{
		Morning:   []patientapi.Slot{},
		Afternoon: []patientapi.Slot{},
		Evening:   []patientapi.Slot{},
		All:       append([]patientapi.Slot{}, list...),
	}
	for _, s := range list {
		start, err := s.Start()
		if err != nil {
			continue
		}
		switch h := start.In(loc).Hour(); {
		case h >= morningStart && h < afternoonStart:
			g.Morning = append(g.Morning, s)
		case h >= afternoonStart && h < eveningStart:
			g.Afternoon = append(g.Afternoon, s)
		case h >= eveningStart && h < eveningEnd:
			g.Evening = append(g.Evening, s)
		}
	}
	return g
}
