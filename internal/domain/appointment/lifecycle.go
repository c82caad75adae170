package appointment

import (
	"fmt"
	"time"
)

// Role is the caller role supplied by the identity layer.
type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleHospital     Role = "hospital"
	RoleReceptionist Role = "receptionist"
	RoleStaff        Role = "staff"
	RoleAdmin        Role = "admin"
)

// Caller is the authenticated principal behind an operation.
type Caller struct {
	ID   string
	Role Role
}

func (c Caller) isStaff() bool {
	switch c.Role {
	case RoleHospital, RoleReceptionist, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Transition names a lifecycle step.
type Transition string

const (
	TransitionConfirm  Transition = "confirm"
	TransitionComplete Transition = "complete"
	TransitionCancel   Transition = "cancel"
	TransitionNoShow   Transition = "no-show"
)

// TransitionTo maps a requested target status onto the transition reaching it.
func TransitionTo(target Status) (Transition, error) {
	switch target {
	case StatusConfirmed:
		return TransitionConfirm, nil
	case StatusCompleted:
		return TransitionComplete, nil
	case StatusCancelled:
		return TransitionCancel, nil
	case StatusNoShow:
		return TransitionNoShow, nil
	case StatusPending:
		return "", fmt.Errorf("appointments cannot be moved back to %s", target)
	}
	return "", fmt.Errorf("unknown appointment status %q", target)
}

// Target is the status a transition moves to.
func (t Transition) Target() Status {
	switch t {
	case TransitionConfirm:
		return StatusConfirmed
	case TransitionComplete:
		return StatusCompleted
	case TransitionCancel:
		return StatusCancelled
	case TransitionNoShow:
		return StatusNoShow
	}
	panic(fmt.Sprintf("appointment: unhandled transition %q", string(t)))
}

// AllowedFrom reports whether the transition may fire from status s.
func (t Transition) AllowedFrom(s Status) bool {
	switch t {
	case TransitionConfirm:
		return s == StatusPending
	case TransitionComplete, TransitionNoShow:
		return s == StatusConfirmed
	case TransitionCancel:
		return s == StatusPending || s == StatusConfirmed
	}
	return false
}

// permits reports whether role may fire the transition. Ownership checks for
// patients happen in the service, which knows the appointment.
func (t Transition) permits(r Role) bool {
	if r == RoleAdmin {
		return true
	}
	switch t {
	case TransitionConfirm, TransitionNoShow:
		return r == RoleReceptionist || r == RoleHospital || r == RoleStaff
	case TransitionComplete:
		return r == RoleDoctor || r == RoleStaff
	case TransitionCancel:
		return r == RolePatient || r == RoleReceptionist || r == RoleHospital || r == RoleStaff
	}
	return false
}

// StatusChange is the write a transition performs: a compare-and-set from
// From to To that stamps the matching timestamp column.
type StatusChange struct {
	From               Status
	To                 Status
	At                 time.Time
	CancellationReason *string
}

// plan validates the transition against the appointment's current status.
func plan(a *Appointment, t Transition, at time.Time, reason string) (StatusChange, error) {
	target := t.Target()
	if !t.AllowedFrom(a.Status) {
		return StatusChange{}, invalidTransitionError(a.Status, target)
	}
	ch := StatusChange{From: a.Status, To: target, At: at}
	if t == TransitionCancel && reason != "" {
		r := reason
		ch.CancellationReason = &r
	}
	return ch, nil
}

// apply mutates a in place. Stores call it after the compare-and-set succeeds.
func (ch StatusChange) apply(a *Appointment) {
	a.Status = ch.To
	a.UpdatedAt = ch.At
	at := ch.At
	switch ch.To {
	case StatusConfirmed:
		a.ConfirmedAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
		a.CancellationReason = copyStr(ch.CancellationReason)
	case StatusNoShow:
	case StatusPending:
		panic("appointment: pending is never a transition target")
	}
}
