package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
	"github.com/wolfman30/oncare-patient-gateway/internal/slots"
)

// Phase is the step a booking session is in.
type Phase string

const (
	PhaseSelectingLocation     Phase = "selecting_location"
	PhaseSelectingPractitioner Phase = "selecting_practitioner"
	PhaseSelectingVisitType    Phase = "selecting_visit_type"
	PhaseSelectingSlot         Phase = "selecting_slot"
	PhaseReviewing             Phase = "reviewing"
	PhaseCommitting            Phase = "committing"
	PhaseConfirmed             Phase = "confirmed"
	PhaseFailed                Phase = "failed"
)

// Mode distinguishes a fresh booking from moving an existing appointment.
type Mode string

const (
	ModeNew        Mode = "new"
	ModeReschedule Mode = "reschedule"
)

// SlotStatus describes the slot list for the selected date.
type SlotStatus string

const (
	SlotsIdle   SlotStatus = "idle"
	SlotsLoaded SlotStatus = "loaded"
	// SlotsEmpty means the day has no availability. It is not a failure.
	SlotsEmpty  SlotStatus = "empty"
	SlotsFailed SlotStatus = "failed"
)

const slotLabelLayout = "3:04 PM"

var (
	// ErrInvalidTransition is wrapped by the validation error returned when an
	// operation is not allowed in the current phase.
	ErrInvalidTransition = errors.New("booking: invalid transition")
	// ErrSuperseded is returned when a later transition replaced the state an
	// in-flight request was issued for. Its response was discarded.
	ErrSuperseded = errors.New("booking: superseded by a newer transition")
)

// Selections are the choices made so far. Each is a precondition for the next.
type Selections struct {
	Location     *patientapi.Location     `json:"location,omitempty"`
	Practitioner *patientapi.Practitioner `json:"practitioner,omitempty"`
	VisitType    string                   `json:"visit_type,omitempty"`
	Date         string                   `json:"date,omitempty"`
	Slot         *patientapi.Slot         `json:"slot,omitempty"`
}

// View is an immutable snapshot of a session for presentation.
type View struct {
	ID                    string                     `json:"id"`
	Mode                  Mode                       `json:"mode"`
	Phase                 Phase                      `json:"phase"`
	Selections            Selections                 `json:"selections"`
	Practitioners         []patientapi.Practitioner  `json:"practitioners,omitempty"`
	VisitTypes            []string                   `json:"visit_types,omitempty"`
	VisitTypeAutoSelected bool                       `json:"visit_type_auto_selected"`
	SlotStatus            SlotStatus                 `json:"slot_status"`
	Slots                 slots.Grouped              `json:"slots"`
	LastError             string                     `json:"last_error,omitempty"`
	CanGoBack             bool                       `json:"can_go_back"`
	RescheduleOf          patientapi.ID              `json:"reschedule_of,omitempty"`
	Result                *patientapi.AppointmentRef `json:"result,omitempty"`
	UpdatedAt             time.Time                  `json:"updated_at"`
}

// state is everything goBack restores. Slices held here are never mutated in
// place, so copying the struct is a full snapshot.
type state struct {
	phase         Phase
	sel           Selections
	practitioners []patientapi.Practitioner
	visitTypes    []string
	autoVisitType bool
	slots         slots.Grouped
	slotStatus    SlotStatus
	lastError     string
}

// Session is one booking or rescheduling wizard. Transitions are serialized
// by an internal mutex that is released during backend calls; a generation
// counter discards responses that a newer transition made stale.
type Session struct {
	mu sync.Mutex

	id       string
	mode     Mode
	original *patientapi.Appointment
	deps     Deps

	st        state
	history   []state
	gen       uint64
	idemKey   string
	result    *patientapi.AppointmentRef
	updatedAt time.Time
}

// NewSession starts a booking for a new appointment.
func NewSession(id string, deps Deps) *Session {
	deps = deps.withDefaults()
	return &Session{
		id:        id,
		mode:      ModeNew,
		deps:      deps,
		st:        state{phase: PhaseSelectingLocation, slotStatus: SlotsIdle},
		updatedAt: deps.Now(),
	}
}

// NewRescheduleSession starts moving appt. Location, practitioner, visit type,
// date and slot are pre-selected from it, so keeping the current time is a
// valid choice. Appointments that have already started cannot be moved.
func NewRescheduleSession(id string, appt patientapi.Appointment, deps Deps) (*Session, error) {
	deps = deps.withDefaults()
	if appt.AppointmentID == "" {
		return nil, apperr.Validation("appointment id is required")
	}
	if appt.Status == patientapi.StatusCancelled || appt.Status == patientapi.StatusCompleted {
		return nil, apperr.Validation("a %s appointment cannot be rescheduled", appt.Status)
	}
	start, err := appt.Start()
	if err != nil {
		return nil, apperr.Validation("appointment has an invalid date")
	}
	if start.Before(deps.Now()) {
		return nil, apperr.Validation("a past appointment cannot be rescheduled")
	}
	local := start.In(deps.Location)
	original := appt
	s := &Session{
		id:       id,
		mode:     ModeReschedule,
		original: &original,
		deps:     deps,
		st: state{
			phase: PhaseSelectingSlot,
			sel: Selections{
				Location:     &patientapi.Location{ID: appt.LocationID, Name: appt.LocationAlias},
				Practitioner: &patientapi.Practitioner{ID: appt.PractitionerID, FirstName: appt.PractitionerName},
				VisitType:    appt.VisitTypeName,
				Date:         local.Format(slots.DateLayout),
				Slot:         &patientapi.Slot{DateTime: appt.DateTime, Name: local.Format(slotLabelLayout)},
			},
			slotStatus: SlotsIdle,
		},
		updatedAt: deps.Now(),
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Mode returns the session mode.
func (s *Session) Mode() Mode { return s.mode }

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Start loads the slots for the pre-selected date in reschedule mode without
// clearing the pre-selected slot. In new mode it only returns the view.
func (s *Session) Start(ctx context.Context) (View, error) {
	s.mu.Lock()
	if s.mode != ModeReschedule {
		defer s.mu.Unlock()
		return s.viewLocked(), nil
	}
	if s.st.phase != PhaseSelectingSlot {
		defer s.mu.Unlock()
		return s.invalidLocked("start")
	}
	gen := s.bumpLocked()
	q := s.slotQueryLocked(s.st.sel.VisitType, s.st.sel.Date)
	s.mu.Unlock()

	grouped, err := s.deps.Slots.Fetch(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.supersededLocked("start")
	}
	s.applySlotsLocked(grouped, err)
	return s.finishLocked("start", err)
}

// SelectLocation picks the care location and loads its practitioners.
func (s *Session) SelectLocation(ctx context.Context, loc patientapi.Location) (View, error) {
	s.mu.Lock()
	if s.st.phase != PhaseSelectingLocation {
		defer s.mu.Unlock()
		return s.invalidLocked("select_location")
	}
	if loc.ID == "" {
		defer s.mu.Unlock()
		return s.rejectLocked("select_location", apperr.Validation("location is required"))
	}
	gen := s.bumpLocked()
	s.mu.Unlock()

	practitioners, err := retry.Value(ctx, s.deps.Policy, "practitioners", func(ctx context.Context) ([]patientapi.Practitioner, error) {
		return s.deps.Backend.ListPractitioners(ctx, loc.ID)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.supersededLocked("select_location")
	}
	if err != nil {
		s.st.lastError = apperr.UserMessage(err)
		return s.finishLocked("select_location", err)
	}
	s.pushLocked()
	l := loc
	s.st = state{
		phase:         PhaseSelectingPractitioner,
		sel:           Selections{Location: &l},
		practitioners: practitioners,
		slotStatus:    SlotsIdle,
	}
	return s.finishLocked("select_location", nil)
}

// SelectPractitioner picks one of the loaded practitioners and loads their
// visit types. A single visit type is selected automatically and the slots
// for today are fetched right away.
func (s *Session) SelectPractitioner(ctx context.Context, practitionerID patientapi.ID) (View, error) {
	s.mu.Lock()
	if s.st.phase != PhaseSelectingPractitioner {
		defer s.mu.Unlock()
		return s.invalidLocked("select_practitioner")
	}
	var chosen *patientapi.Practitioner
	for i := range s.st.practitioners {
		if s.st.practitioners[i].ID == practitionerID {
			p := s.st.practitioners[i]
			chosen = &p
			break
		}
	}
	if chosen == nil {
		defer s.mu.Unlock()
		return s.rejectLocked("select_practitioner", apperr.Validation("practitioner %q is not offered at this location", practitionerID))
	}
	gen := s.bumpLocked()
	locationID := s.st.sel.Location.ID
	s.mu.Unlock()

	visitTypes, err := retry.Value(ctx, s.deps.Policy, "visit-types", func(ctx context.Context) ([]string, error) {
		return s.deps.Backend.ListVisitTypes(ctx, locationID, chosen.ID)
	})

	s.mu.Lock()
	if gen != s.gen {
		defer s.mu.Unlock()
		return s.supersededLocked("select_practitioner")
	}
	if err != nil {
		defer s.mu.Unlock()
		s.st.lastError = apperr.UserMessage(err)
		return s.finishLocked("select_practitioner", err)
	}
	s.pushLocked()
	s.st = state{
		phase:         PhaseSelectingVisitType,
		sel:           Selections{Location: s.st.sel.Location, Practitioner: chosen},
		practitioners: s.st.practitioners,
		visitTypes:    visitTypes,
		slotStatus:    SlotsIdle,
	}
	if len(visitTypes) != 1 {
		defer s.mu.Unlock()
		return s.finishLocked("select_practitioner", nil)
	}

	s.st.phase = PhaseSelectingSlot
	s.st.sel.VisitType = visitTypes[0]
	s.st.sel.Date = s.todayLocked()
	s.st.autoVisitType = true
	gen = s.bumpLocked()
	q := s.slotQueryLocked(s.st.sel.VisitType, s.st.sel.Date)
	s.mu.Unlock()

	grouped, err := s.deps.Slots.Fetch(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.supersededLocked("select_practitioner")
	}
	s.applySlotsLocked(grouped, err)
	return s.finishLocked("select_practitioner", err)
}

// SelectVisitType picks a visit type and loads the slots for the current
// date (today when none was chosen). Re-selecting while already choosing a
// slot swaps the visit type in place and keeps the date.
func (s *Session) SelectVisitType(ctx context.Context, visitType string) (View, error) {
	s.mu.Lock()
	inPlace := false
	switch {
	case s.st.phase == PhaseSelectingVisitType:
	case s.st.phase == PhaseSelectingSlot && s.mode == ModeNew && len(s.st.visitTypes) > 0:
		inPlace = true
	default:
		defer s.mu.Unlock()
		return s.invalidLocked("select_visit_type")
	}
	if !contains(s.st.visitTypes, visitType) {
		defer s.mu.Unlock()
		return s.rejectLocked("select_visit_type", apperr.Validation("visit type %q is not offered", visitType))
	}
	date := s.st.sel.Date
	if date == "" {
		date = s.todayLocked()
	}
	gen := s.bumpLocked()
	q := s.slotQueryLocked(visitType, date)
	s.mu.Unlock()

	grouped, err := s.deps.Slots.Fetch(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.supersededLocked("select_visit_type")
	}
	if !inPlace {
		s.pushLocked()
	}
	s.st.phase = PhaseSelectingSlot
	s.st.sel.VisitType = visitType
	s.st.sel.Date = date
	s.st.sel.Slot = nil
	s.st.autoVisitType = false
	s.applySlotsLocked(grouped, err)
	return s.finishLocked("select_visit_type", err)
}

// ChangeDate moves the slot search to another calendar day (YYYY-MM-DD in the
// clinic time zone) and clears the selected slot. Days before today are
// rejected.
func (s *Session) ChangeDate(ctx context.Context, date string) (View, error) {
	s.mu.Lock()
	if s.st.phase != PhaseSelectingSlot {
		defer s.mu.Unlock()
		return s.invalidLocked("change_date")
	}
	day, err := time.ParseInLocation(slots.DateLayout, date, s.deps.Location)
	if err != nil {
		defer s.mu.Unlock()
		return s.rejectLocked("change_date", apperr.Validation("date must be formatted YYYY-MM-DD"))
	}
	date = day.Format(slots.DateLayout)
	if date < s.todayLocked() {
		defer s.mu.Unlock()
		return s.rejectLocked("change_date", apperr.Validation("date cannot be in the past"))
	}
	gen := s.bumpLocked()
	q := s.slotQueryLocked(s.st.sel.VisitType, date)
	s.mu.Unlock()

	grouped, err := s.deps.Slots.Fetch(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.supersededLocked("change_date")
	}
	s.st.sel.Date = date
	s.st.sel.Slot = nil
	s.applySlotsLocked(grouped, err)
	return s.finishLocked("change_date", err)
}

// SelectSlot picks one of the loaded slots by its dateTime. In reschedule
// mode the appointment's current slot is accepted while its day is selected.
func (s *Session) SelectSlot(dateTime string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.phase != PhaseSelectingSlot {
		return s.invalidLocked("select_slot")
	}
	slot, ok := s.st.slots.Contains(dateTime)
	if !ok && s.original != nil && s.original.DateTime == dateTime && s.originalDateLocked() == s.st.sel.Date {
		slot, ok = s.originalSlotLocked(), true
	}
	if !ok {
		return s.rejectLocked("select_slot", apperr.Validation("slot %q is not available on %s", dateTime, s.st.sel.Date))
	}
	s.bumpLocked()
	s.st.sel.Slot = &slot
	return s.finishLocked("select_slot", nil)
}

// RequestReview moves to the review step. A slot must be selected.
func (s *Session) RequestReview() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.phase != PhaseSelectingSlot {
		return s.invalidLocked("request_review")
	}
	if s.st.sel.Slot == nil {
		return s.rejectLocked("request_review", apperr.Validation("no slot selected"))
	}
	if s.slotPassedLocked() {
		return s.rejectLocked("request_review", slotPassedErr())
	}
	s.bumpLocked()
	s.pushLocked()
	s.st.phase = PhaseReviewing
	s.st.lastError = ""
	s.idemKey = uuid.NewString()
	return s.finishLocked("request_review", nil)
}

// Confirm commits the reviewed selection: create-appointment in new mode,
// reschedule-appointment otherwise. Retries and repeated confirms after a
// failure reuse one idempotency key. On failure the session moves to
// PhaseFailed with every selection kept.
func (s *Session) Confirm(ctx context.Context) (View, error) {
	s.mu.Lock()
	if s.st.phase != PhaseReviewing && s.st.phase != PhaseFailed {
		defer s.mu.Unlock()
		return s.invalidLocked("confirm")
	}
	if s.slotPassedLocked() {
		defer s.mu.Unlock()
		return s.rejectLocked("confirm", slotPassedErr())
	}
	s.st.phase = PhaseCommitting
	s.st.lastError = ""
	gen := s.bumpLocked()
	sel := s.st.sel
	key := s.idemKey
	s.mu.Unlock()

	ref, err := s.commit(ctx, sel, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return s.supersededLocked("confirm")
	}
	s.updatedAt = s.deps.Now()
	if err != nil {
		s.st.phase = PhaseFailed
		s.st.lastError = apperr.UserMessage(err)
		s.deps.Logger.Warn("booking commit failed", "session_id", s.id, "mode", string(s.mode), "error", err)
		return s.finishLocked("confirm", err)
	}
	s.st.phase = PhaseConfirmed
	s.result = &ref
	s.deps.Logger.Info("booking confirmed", "session_id", s.id, "mode", string(s.mode), "appointment_id", ref.AppointmentID.String())
	return s.finishLocked("confirm", nil)
}

func (s *Session) commit(ctx context.Context, sel Selections, key string) (patientapi.AppointmentRef, error) {
	opts := []patientapi.CallOption{patientapi.WithIdempotencyKey(key)}
	if s.mode == ModeReschedule {
		req := patientapi.RescheduleAppointmentRequest{
			AppointmentID: s.original.AppointmentID,
			LocationID:    sel.Location.ID,
			DateTime:      sel.Slot.DateTime,
		}
		return retry.Value(ctx, s.deps.Policy, "reschedule-appointment", func(ctx context.Context) (patientapi.AppointmentRef, error) {
			return s.deps.Backend.RescheduleAppointment(ctx, req, opts...)
		})
	}
	req := patientapi.CreateAppointmentRequest{
		PractitionerID: sel.Practitioner.ID,
		LocationID:     sel.Location.ID,
		DateTime:       sel.Slot.DateTime,
		VisitTypeName:  sel.VisitType,
	}
	return retry.Value(ctx, s.deps.Policy, "book-appointment", func(ctx context.Context) (patientapi.AppointmentRef, error) {
		return s.deps.Backend.CreateAppointment(ctx, req, opts...)
	})
}

// GoBack undoes the last step, restoring the selections exactly as they were
// before it. From Reviewing or Failed it returns to slot selection with the
// slot still chosen.
func (s *Session) GoBack() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.st.phase {
	case PhaseSelectingPractitioner, PhaseSelectingVisitType, PhaseSelectingSlot, PhaseReviewing, PhaseFailed:
	default:
		return s.invalidLocked("go_back")
	}
	if len(s.history) == 0 {
		return s.invalidLocked("go_back")
	}
	s.bumpLocked()
	s.st = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.st.lastError = ""
	s.idemKey = ""
	return s.finishLocked("go_back", nil)
}

// Done reports whether the session reached its terminal phase.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.phase == PhaseConfirmed
}

func (s *Session) bumpLocked() uint64 {
	s.gen++
	s.updatedAt = s.deps.Now()
	return s.gen
}

func (s *Session) pushLocked() {
	s.history = append(s.history, s.st)
}

func (s *Session) todayLocked() string {
	return s.deps.Now().In(s.deps.Location).Format(slots.DateLayout)
}

func (s *Session) slotQueryLocked(visitType, date string) slots.Query {
	day, _ := time.ParseInLocation(slots.DateLayout, date, s.deps.Location)
	return slots.Query{
		LocationID:     s.st.sel.Location.ID,
		PractitionerID: s.st.sel.Practitioner.ID,
		VisitTypeName:  visitType,
		Date:           day,
	}
}

func (s *Session) applySlotsLocked(grouped slots.Grouped, err error) {
	if err != nil {
		s.st.slots = slots.Grouped{}
		s.st.slotStatus = SlotsFailed
		s.st.lastError = apperr.UserMessage(err)
		return
	}
	s.st.slots = grouped
	s.st.lastError = ""
	if grouped.Empty() {
		s.st.slotStatus = SlotsEmpty
	} else {
		s.st.slotStatus = SlotsLoaded
	}
}

func (s *Session) originalDateLocked() string {
	start, err := s.original.Start()
	if err != nil {
		return ""
	}
	return start.In(s.deps.Location).Format(slots.DateLayout)
}

func slotPassedErr() error {
	return apperr.Validation("the selected time has already passed, please choose another")
}

// slotPassedLocked reports whether the selected slot starts before now.
func (s *Session) slotPassedLocked() bool {
	if s.st.sel.Slot == nil {
		return false
	}
	start, err := s.st.sel.Slot.Start()
	return err == nil && start.Before(s.deps.Now())
}

func (s *Session) originalSlotLocked() patientapi.Slot {
	label := s.original.DateTime
	if start, err := s.original.Start(); err == nil {
		label = start.In(s.deps.Location).Format(slotLabelLayout)
	}
	return patientapi.Slot{DateTime: s.original.DateTime, Name: label}
}

func (s *Session) finishLocked(operation string, err error) (View, error) {
	if err != nil {
		s.deps.observeTransition(operation, "error")
		return s.viewLocked(), err
	}
	s.st.lastError = ""
	s.deps.observeTransition(operation, "ok")
	return s.viewLocked(), nil
}

func (s *Session) invalidLocked(operation string) (View, error) {
	s.deps.observeTransition(operation, "invalid")
	return s.viewLocked(), &apperr.Error{
		Kind:    apperr.KindValidation,
		Message: fmt.Sprintf("%s is not allowed while %s", operation, s.st.phase),
		Err:     ErrInvalidTransition,
	}
}

func (s *Session) rejectLocked(operation string, err error) (View, error) {
	s.deps.observeTransition(operation, "invalid")
	return s.viewLocked(), err
}

func (s *Session) supersededLocked(operation string) (View, error) {
	s.deps.observeTransition(operation, "superseded")
	s.deps.Logger.Debug("discarding stale response", "session_id", s.id, "operation", operation)
	return s.viewLocked(), ErrSuperseded
}

func (s *Session) viewLocked() View {
	v := View{
		ID:                    s.id,
		Mode:                  s.mode,
		Phase:                 s.st.phase,
		Selections:            s.st.sel,
		Practitioners:         s.st.practitioners,
		VisitTypes:            s.st.visitTypes,
		VisitTypeAutoSelected: s.st.autoVisitType,
		SlotStatus:            s.st.slotStatus,
		Slots:                 s.st.slots,
		LastError:             s.st.lastError,
		CanGoBack:             len(s.history) > 0 && s.st.phase != PhaseCommitting && s.st.phase != PhaseConfirmed,
		Result:                s.result,
		UpdatedAt:             s.updatedAt,
	}
	if s.original != nil {
		v.RescheduleOf = s.original.AppointmentID
	}
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
