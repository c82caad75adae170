// Package events carries appointment domain events from the service to the
// configured sink and back out to workers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	AppointmentBooked    Type = "appointment.booked"
	AppointmentConfirmed Type = "appointment.confirmed"
	AppointmentCompleted Type = "appointment.completed"
	AppointmentCancelled Type = "appointment.cancelled"
	AppointmentNoShow    Type = "appointment.no_show"
)

// Event is the message emitted after an appointment write commits.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	DoctorID      string    `json:"doctor_id"`
	HospitalID    string    `json:"hospital_id"`
	PatientID     string    `json:"patient_id"`
	Date          string    `json:"date"`
	TimeSlot      string    `json:"time_slot"`
	Status        string    `json:"status"`
	Actor         string    `json:"actor,omitempty"`
	ActorRole     string    `json:"actor_role,omitempty"`
	ContactEmail  string    `json:"contact_email,omitempty"`
	ContactPhone  string    `json:"contact_phone,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Handler processes one event pulled from a sink.
type Handler func(ctx context.Context, e Event) error

func encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return b, nil
}

func decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
