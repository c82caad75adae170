package appointment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexacare/nexacare/internal/platform/events"
	"github.com/nexacare/nexacare/internal/platform/metrics"
)

var tracer = otel.Tracer("nexacare/appointment")

// DoctorDirectory resolves doctor references. A nil directory trusts every id.
type DoctorDirectory interface {
	DoctorExists(ctx context.Context, doctorID string) (bool, error)
}

// Policy holds the clinic's booking rules.
type Policy struct {
	Window Window
	// MinLeadDays is the earliest bookable day relative to today: 0 allows
	// same-day bookings, 1 requires tomorrow or later.
	MinLeadDays int
	Location    *time.Location
}

// DefaultPolicy books the default window from tomorrow on, in UTC.
func DefaultPolicy() Policy {
	return Policy{Window: DefaultWindow(), MinLeadDays: 1, Location: time.UTC}
}

// BookingRequest carries the fields a caller submits to book a slot.
type BookingRequest struct {
	DoctorID     string `json:"doctor_id" validate:"required"`
	HospitalID   string `json:"hospital_id" validate:"required"`
	PatientID    string `json:"patient_id"`
	Date         string `json:"date" validate:"required"`
	TimeSlot     string `json:"time_slot" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
	Type         string `json:"type" validate:"omitempty,oneof=online walk-in"`
	Priority     string `json:"priority" validate:"omitempty,oneof=normal urgent emergency"`
	Symptoms     string `json:"symptoms"`
	Notes        string `json:"notes"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
	ContactPhone string `json:"contact_phone"`
}

type Service struct {
	repo      Repository
	policy    Policy
	doctors   DoctorDirectory
	publisher events.Publisher
	metrics   *metrics.AppointmentMetrics
	logger    zerolog.Logger
	now       func() time.Time
	validate  *validator.Validate
}

// Option customises a Service.
type Option func(*Service)

func WithDoctorDirectory(d DoctorDirectory) Option { return func(s *Service) { s.doctors = d } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *metrics.AppointmentMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, policy Policy, opts ...Option) *Service {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	s := &Service{
		repo:     repo,
		policy:   policy,
		logger:   zerolog.Nop(),
		now:      time.Now,
		validate: v,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the booking rules the service enforces.
func (s *Service) Policy() Policy { return s.policy }

// Slots returns the canonical slot set for the configured window.
func (s *Service) Slots() []string { return GenerateSlots(s.policy.Window) }

// -- Availability --

// AvailableSlots returns the canonical slots for the day minus every slot held
// by a pending or confirmed appointment of the doctor.
func (s *Service) AvailableSlots(ctx context.Context, doctorID string, date Date) ([]string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveAvailability(time.Since(start).Seconds()) }()

	if strings.TrimSpace(doctorID) == "" {
		return nil, validationError("doctor_id")
	}
	if date.IsZero() {
		return nil, validationError("date")
	}
	if err := s.checkDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, storageError("find appointments", err)
	}
	held := make(map[string]bool, len(existing))
	for _, a := range existing {
		if a.Status.HoldsSlot() {
			held[a.TimeSlot] = true
		}
	}

	canonical := GenerateSlots(s.policy.Window)
	free := make([]string, 0, len(canonical))
	for _, slot := range canonical {
		if !held[slot] {
			free = append(free, slot)
		}
	}
	return free, nil
}

// -- Booking --

// Book validates req and admits a new pending appointment.
func (s *Service) Book(ctx context.Context, caller Caller, req BookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("nexacare.doctor_id", req.DoctorID),
		attribute.String("nexacare.date", req.Date),
		attribute.String("nexacare.time_slot", req.TimeSlot),
	)

	a, err := s.book(ctx, caller, req)
	s.metrics.ObserveBooking(outcome(err))
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID).
		Str("date", a.Date.String()).
		Str("time_slot", a.TimeSlot).
		Msg("appointment booked")
	s.publish(ctx, a, caller)
	return a, nil
}

func (s *Service) book(ctx context.Context, caller Caller, req BookingRequest) (*Appointment, error) {
	if caller.Role == RolePatient {
		req.PatientID = caller.ID
	} else if !caller.isStaff() {
		return nil, forbiddenError(fmt.Sprintf("role %q may not book appointments", caller.Role))
	}

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		e := validationError("date")
		e.Message = err.Error()
		return nil, e
	}
	earliest := DateOf(s.now().In(s.policy.Location)).AddDays(s.policy.MinLeadDays)
	if date.Before(earliest) {
		e := validationError("date")
		e.Message = fmt.Sprintf("date must be on or after %s", earliest)
		return nil, e
	}
	if _, _, err := ParseSlot(req.TimeSlot); err != nil {
		e := invalidSlotError(req.TimeSlot)
		e.Message = err.Error()
		return nil, e
	}
	if !IsCanonical(s.policy.Window, req.TimeSlot) {
		return nil, invalidSlotError(req.TimeSlot)
	}
	if err := s.checkDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &Appointment{
		ID:           uuid.New(),
		DoctorID:     req.DoctorID,
		HospitalID:   req.HospitalID,
		PatientID:    req.PatientID,
		Date:         date,
		TimeSlot:     req.TimeSlot,
		Status:       StatusPending,
		Type:         TypeOnline,
		Priority:     PriorityNormal,
		Reason:       req.Reason,
		Symptoms:     req.Symptoms,
		Notes:        req.Notes,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Type != "" {
		a.Type = Type(req.Type)
	}
	if req.Priority != "" {
		a.Priority = Priority(req.Priority)
	}

	created, err := s.repo.Insert(ctx, a)
	if err != nil {
		return nil, passDomain(err, "insert appointment")
	}
	return created, nil
}

func (s *Service) validateRequest(req BookingRequest) error {
	var fields []string
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return validationError(err.Error())
		}
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
	}
	if strings.TrimSpace(req.PatientID) == "" {
		fields = append(fields, "patient_id")
	}
	if len(fields) > 0 {
		return validationError(fields...)
	}
	return nil
}

func (s *Service) checkDoctor(ctx context.Context, doctorID string) error {
	if s.doctors == nil {
		return nil
	}
	ok, err := s.doctors.DoctorExists(ctx, doctorID)
	if err != nil {
		return storageError("lookup doctor", err)
	}
	if !ok {
		return notFoundError("doctor", doctorID)
	}
	return nil
}

// -- Lifecycle --

func (s *Service) Confirm(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, caller, id, TransitionConfirm, "")
}

func (s *Service) Complete(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, caller, id, TransitionComplete, "")
}

func (s *Service) Cancel(ctx context.Context, caller Caller, id uuid.UUID, reason string) (*Appointment, error) {
	return s.Transition(ctx, caller, id, TransitionCancel, reason)
}

func (s *Service) MarkNoShow(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, caller, id, TransitionNoShow, "")
}

// Transition moves an appointment along its lifecycle on behalf of caller.
func (s *Service) Transition(ctx context.Context, caller Caller, id uuid.UUID, t Transition, reason string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("nexacare.appointment_id", id.String()),
		attribute.String("nexacare.transition", string(t)),
	)

	a, err := s.transition(ctx, caller, id, t, reason)
	s.metrics.ObserveTransition(string(t), outcome(err))
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("transition", string(t)).
		Str("status", string(a.Status)).
		Str("actor", caller.ID).
		Msg("appointment status changed")
	s.publish(ctx, a, caller)
	return a, nil
}

func (s *Service) transition(ctx context.Context, caller Caller, id uuid.UUID, t Transition, reason string) (*Appointment, error) {
	switch t {
	case TransitionConfirm, TransitionComplete, TransitionCancel, TransitionNoShow:
	default:
		e := validationError("status")
		e.Message = fmt.Sprintf("unknown transition %q", t)
		return nil, e
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, passDomain(err, "get appointment")
	}
	if !t.permits(caller.Role) {
		return nil, forbiddenError(fmt.Sprintf("role %q may not %s appointments", caller.Role, t))
	}
	if caller.Role == RolePatient && current.PatientID != caller.ID {
		return nil, forbiddenError("patients may only change their own appointments")
	}

	ch, err := plan(current, t, s.now().UTC(), reason)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateStatus(ctx, id, ch)
	if err != nil {
		return nil, passDomain(err, "update appointment status")
	}
	return updated, nil
}

// -- Queries --

// Get returns one appointment. Patients only see their own.
func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, passDomain(err, "get appointment")
	}
	if caller.Role == RolePatient && a.PatientID != caller.ID {
		return nil, notFoundError("appointment", id.String())
	}
	return a, nil
}

// ListForDoctorDay returns every appointment a doctor has on date, any status.
func (s *Service) ListForDoctorDay(ctx context.Context, caller Caller, doctorID string, date Date) ([]*Appointment, error) {
	if caller.Role == RolePatient {
		return nil, forbiddenError("patients may not list a doctor's appointments")
	}
	if caller.Role == RoleDoctor && caller.ID != doctorID {
		return nil, forbiddenError("doctors may only list their own appointments")
	}
	items, err := s.repo.FindByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, storageError("find appointments", err)
	}
	return items, nil
}

// ListByPatient pages through a patient's appointments, newest first.
func (s *Service) ListByPatient(ctx context.Context, caller Caller, patientID string, limit, offset int) ([]*Appointment, int, error) {
	if caller.Role == RolePatient && caller.ID != patientID {
		return nil, 0, forbiddenError("patients may only list their own appointments")
	}
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, storageError("list appointments", err)
	}
	return items, total, nil
}

// -- helpers --

// publish emits the domain event for a's current status. Delivery failures
// are logged and never undo the state change.
func (s *Service) publish(ctx context.Context, a *Appointment, caller Caller) {
	if s.publisher == nil {
		return
	}
	evt := events.Event{
		ID:            uuid.NewString(),
		Type:          eventType(a.Status),
		AppointmentID: a.ID.String(),
		DoctorID:      a.DoctorID,
		HospitalID:    a.HospitalID,
		PatientID:     a.PatientID,
		Date:          a.Date.String(),
		TimeSlot:      a.TimeSlot,
		Status:        string(a.Status),
		Actor:         caller.ID,
		ActorRole:     string(caller.Role),
		ContactEmail:  a.ContactEmail,
		ContactPhone:  a.ContactPhone,
		OccurredAt:    a.UpdatedAt,
	}
	if a.CancellationReason != nil {
		evt.Reason = *a.CancellationReason
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", evt.AppointmentID).
			Str("event_type", string(evt.Type)).
			Msg("failed to publish appointment event")
	}
}

func eventType(st Status) events.Type {
	switch st {
	case StatusPending:
		return events.AppointmentBooked
	case StatusConfirmed:
		return events.AppointmentConfirmed
	case StatusCompleted:
		return events.AppointmentCompleted
	case StatusCancelled:
		return events.AppointmentCancelled
	case StatusNoShow:
		return events.AppointmentNoShow
	}
	panic(fmt.Sprintf("appointment: unhandled status %q", string(st)))
}

// passDomain returns domain errors untouched and wraps everything else as a
// storage failure.
func passDomain(err error, op string) error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return storageError(op, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.String("nexacare.outcome", outcome(err)))
}
