package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexacare/nexacare/internal/platform/events"
)

// 2025-03-10 09:00 UTC; with one lead day the earliest bookable day is 2025-03-11.
var fixedNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

const bookableDate = "2025-03-11"

var (
	patientA     = Caller{ID: "patient-a", Role: RolePatient}
	patientB     = Caller{ID: "patient-b", Role: RolePatient}
	receptionist = Caller{ID: "recep-1", Role: RoleReceptionist}
	doctor1      = Caller{ID: "doc-1", Role: RoleDoctor}
	staff        = Caller{ID: "staff-1", Role: RoleStaff}
	admin        = Caller{ID: "admin-1", Role: RoleAdmin}
)

func newTestService(t *testing.T, repo Repository, opts ...Option) *Service {
	t.Helper()
	if repo == nil {
		repo = NewMemoryRepository()
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(repo, DefaultPolicy(), opts...)
}

func validRequest() BookingRequest {
	return BookingRequest{
		DoctorID:   "doc-1",
		HospitalID: "hosp-1",
		PatientID:  "patient-a",
		Date:       bookableDate,
		TimeSlot:   "10:00-10:30",
		Reason:     "checkup",
	}
}

func mustBook(t *testing.T, svc *Service, caller Caller, req BookingRequest) *Appointment {
	t.Helper()
	a, err := svc.Book(context.Background(), caller, req)
	if err != nil {
		t.Fatalf("book %s: %v", req.TimeSlot, err)
	}
	return a
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errDown = errors.New("connection refused")

// brokenRepo fails every call as an unreachable database would.
type brokenRepo struct{}

func (brokenRepo) Insert(context.Context, *Appointment) (*Appointment, error) { return nil, errDown }

func (brokenRepo) GetByID(context.Context, uuid.UUID) (*Appointment, error) { return nil, errDown }

func (brokenRepo) FindByDoctorAndDate(context.Context, string, Date) ([]*Appointment, error) {
	return nil, errDown
}

func (brokenRepo) ListByPatient(context.Context, string, int, int) ([]*Appointment, int, error) {
	return nil, 0, errDown
}

func (brokenRepo) UpdateStatus(context.Context, uuid.UUID, StatusChange) (*Appointment, error) {
	return nil, errDown
}

type staticDirectory map[string]bool

func (d staticDirectory) DoctorExists(_ context.Context, id string) (bool, error) {
	return d[id], nil
}
