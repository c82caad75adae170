package appointment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// HoldsSlot reports whether an appointment in this status occupies its time slot.
func (s Status) HoldsSlot() bool {
	switch s {
	case StatusPending, StatusConfirmed:
		return true
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return false
	default:
		panic(fmt.Sprintf("appointment: unhandled status %q", string(s)))
	}
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusConfirmed:
		return false
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	default:
		panic(fmt.Sprintf("appointment: unhandled status %q", string(s)))
	}
}

// Type distinguishes scheduled online bookings from walk-ins.
type Type string

const (
	TypeOnline Type = "online"
	TypeWalkIn Type = "walk-in"
)

// Priority is informational and never affects scheduling.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight UTC of the day, the form stored in a DATE column.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	DoctorID           string     `db:"doctor_id" json:"doctor_id"`
	HospitalID         string     `db:"hospital_id" json:"hospital_id"`
	PatientID          string     `db:"patient_id" json:"patient_id"`
	Date               Date       `db:"date" json:"date"`
	TimeSlot           string     `db:"time_slot" json:"time_slot"`
	Status             Status     `db:"status" json:"status"`
	Type               Type       `db:"type" json:"type"`
	Priority           Priority   `db:"priority" json:"priority"`
	Reason             string     `db:"reason" json:"reason"`
	Symptoms           string     `db:"symptoms" json:"symptoms,omitempty"`
	Notes              string     `db:"notes" json:"notes,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	ContactEmail       string     `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone       string     `db:"contact_phone" json:"contact_phone,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	ConfirmedAt        *time.Time `db:"confirmed_at" json:"confirmed_at"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at"`
}

// clone returns a deep copy so stores never hand out shared pointers.
func (a *Appointment) clone() *Appointment {
	cp := *a
	cp.CancellationReason = copyStr(a.CancellationReason)
	cp.ConfirmedAt = copyTime(a.ConfirmedAt)
	cp.CompletedAt = copyTime(a.CompletedAt)
	cp.CancelledAt = copyTime(a.CancelledAt)
	return &cp
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
