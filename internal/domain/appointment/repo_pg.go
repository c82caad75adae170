package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// activeSlotIndex is the partial unique index over (doctor_id, date, time_slot)
// restricted to pending and confirmed rows. See migrations/001_appointment.sql.
const activeSlotIndex = "appointment_active_slot_uq"

const pgUniqueViolation = "23505"

type repoPG struct{ db queryable }

// NewRepoPG returns a Postgres-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{db: pool} }

func newRepoPG(db queryable) *repoPG { return &repoPG{db: db} }

const apptCols = `id, doctor_id, hospital_id, patient_id, date, time_slot, status, type, priority,
	reason, symptoms, notes, cancellation_reason, contact_email, contact_phone,
	created_at, updated_at, confirmed_at, completed_at, cancelled_at`

func (r *repoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                     Appointment
		date                  time.Time
		status, typ, priority string
	)
	err := row.Scan(&a.ID, &a.DoctorID, &a.HospitalID, &a.PatientID, &date, &a.TimeSlot,
		&status, &typ, &priority, &a.Reason, &a.Symptoms, &a.Notes, &a.CancellationReason,
		&a.ContactEmail, &a.ContactPhone, &a.CreatedAt, &a.UpdatedAt,
		&a.ConfirmedAt, &a.CompletedAt, &a.CancelledAt)
	if err != nil {
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	a.Date = DateOf(date)
	a.Status = st
	a.Type = Type(typ)
	a.Priority = Priority(priority)
	return &a, nil
}

func (r *repoPG) Insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment (id, doctor_id, hospital_id, patient_id, date, time_slot, status,
			type, priority, reason, symptoms, notes, contact_email, contact_phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.DoctorID, a.HospitalID, a.PatientID, a.Date.Time(), a.TimeSlot, string(a.Status),
		string(a.Type), string(a.Priority), a.Reason, a.Symptoms, a.Notes,
		a.ContactEmail, a.ContactPhone, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeSlotIndex {
			return nil, slotConflictError(a.DoctorID, a.Date, a.TimeSlot)
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a.clone(), nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError("appointment", id.String())
	}
	return a, err
}

func (r *repoPG) FindByDoctorAndDate(ctx context.Context, doctorID string, date Date) ([]*Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND date = $2 ORDER BY time_slot, created_at`, doctorID, date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	var lim any // LIMIT NULL returns every row
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, lim, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// UpdateStatus only touches the row while it still carries ch.From, so two
// racing transitions cannot both win.
func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, ch StatusChange) (*Appointment, error) {
	a, err := r.scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointment SET status = $3, updated_at = $4,
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN $4 ELSE confirmed_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END,
			cancellation_reason = COALESCE($5, cancellation_reason)
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols,
		id, string(ch.From), string(ch.To), ch.At, ch.CancellationReason))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, invalidTransitionError(current.Status, ch.To)
}
