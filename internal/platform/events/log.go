package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to the structured log. It is the default sink
// when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID).
		Str("event_type", string(e.Type)).
		Str("appointment_id", e.AppointmentID).
		Str("doctor_id", e.DoctorID).
		Str("date", e.Date).
		Str("time_slot", e.TimeSlot).
		Str("status", e.Status).
		Msg("appointment event")
	return nil
}
