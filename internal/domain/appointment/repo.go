package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists appointments.
//
// Insert must fail with ErrSlotConflict when another pending or confirmed
// appointment already holds the same doctor, date and slot, and must decide
// that atomically with the write. UpdateStatus is a compare-and-set: it fails
// with ErrInvalidTransition when the stored status is no longer ch.From and
// with ErrNotFound when id is unknown.
type Repository interface {
	Insert(ctx context.Context, a *Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByDoctorAndDate(ctx context.Context, doctorID string, date Date) ([]*Appointment, error)
	// ListByPatient pages newest first. limit <= 0 means no limit and a
	// negative offset is treated as 0.
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error)
}
