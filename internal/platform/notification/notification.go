// Package notification turns appointment events into patient-facing email and
// SMS messages.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexacare/nexacare/internal/platform/events"
	"github.com/nexacare/nexacare/internal/platform/metrics"
)

// Channel is the medium a notification is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a message with {{key}} placeholders.
type Template struct {
	Subject string
	Body    string
}

type templateKey struct {
	event   events.Type
	channel Channel
}

// TemplateEngine holds one template per event type and channel.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[templateKey]Template
}

// NewTemplateEngine returns an engine with the built-in appointment templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[templateKey]Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	when := "{{date}} at {{time_slot}}"
	builtIn := []struct {
		event events.Type
		email Template
		sms   string
	}{
		{
			event: events.AppointmentBooked,
			email: Template{
				Subject: "Appointment request received",
				Body:    "We received your appointment request for " + when + ". Reference {{appointment_id}}. We will confirm it shortly.",
			},
			sms: "NexaCare: appointment request for " + when + " received. Ref {{appointment_id}}.",
		},
		{
			event: events.AppointmentConfirmed,
			email: Template{
				Subject: "Your appointment is confirmed",
				Body:    "Your appointment on " + when + " is confirmed. Please arrive ten minutes early.",
			},
			sms: "NexaCare: your appointment on " + when + " is confirmed.",
		},
		{
			event: events.AppointmentCancelled,
			email: Template{
				Subject: "Your appointment was cancelled",
				Body:    "Your appointment on " + when + " was cancelled. {{reason}}",
			},
			sms: "NexaCare: your appointment on " + when + " was cancelled.",
		},
		{
			event: events.AppointmentNoShow,
			email: Template{
				Subject: "We missed you today",
				Body:    "You were marked as not attending your appointment on " + when + ". Reply to rebook.",
			},
			sms: "NexaCare: we missed you on " + when + ". Reply to rebook.",
		},
		{
			event: events.AppointmentCompleted,
			email: Template{
				Subject: "Thank you for your visit",
				Body:    "Your appointment on " + when + " is complete. Thank you for choosing NexaCare.",
			},
		},
	}
	for _, b := range builtIn {
		e.templates[templateKey{b.event, ChannelEmail}] = b.email
		if b.sms != "" {
			e.templates[templateKey{b.event, ChannelSMS}] = Template{Body: b.sms}
		}
	}
}

// Register adds or replaces the template for an event type and channel.
func (e *TemplateEngine) Register(event events.Type, ch Channel, t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[templateKey{event, ch}] = t
}

// Render looks up the template and performs {{key}} replacement. Keys absent
// from data are left as-is. ok is false when no template exists.
func (e *TemplateEngine) Render(event events.Type, ch Channel, data map[string]string) (subject, body string, ok bool) {
	e.mu.RLock()
	t, ok := e.templates[templateKey{event, ch}]
	e.mu.RUnlock()
	if !ok {
		return "", "", false
	}
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return strings.TrimSpace(subject), strings.TrimSpace(body), true
}

func templateData(e events.Event) map[string]string {
	return map[string]string{
		"appointment_id": e.AppointmentID,
		"doctor_id":      e.DoctorID,
		"hospital_id":    e.HospitalID,
		"date":           e.Date,
		"time_slot":      e.TimeSlot,
		"status":         e.Status,
		"reason":         e.Reason,
	}
}

// Dispatcher sends the notifications an event calls for. A nil sender
// disables its channel.
type Dispatcher struct {
	email      EmailSender
	sms        SMSSender
	templates  *TemplateEngine
	deliveries DeliveryLog
	metrics    *metrics.NotificationMetrics
	logger     zerolog.Logger
}

func NewDispatcher(email EmailSender, sms SMSSender, tpl *TemplateEngine, m *metrics.NotificationMetrics, logger zerolog.Logger) *Dispatcher {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Dispatcher{
		email:     email,
		sms:       sms,
		templates: tpl,
		metrics:   m,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// WithDeliveryLog makes redelivered events skip channels that already
// succeeded. Without a log every redelivery resends every channel.
func (d *Dispatcher) WithDeliveryLog(l DeliveryLog) *Dispatcher {
	d.deliveries = l
	return d
}

// Handle matches events.Handler. Each channel is tried independently and the
// send errors are joined, so the consumer leaves the event pending and
// redelivers it. Delivery is at least once: if the delivery mark cannot be
// written after a successful send, that channel is sent again on redelivery.
func (d *Dispatcher) Handle(ctx context.Context, e events.Event) error {
	data := templateData(e)
	var errs []error

	if d.email != nil && e.ContactEmail != "" {
		if subject, body, ok := d.templates.Render(e.Type, ChannelEmail, data); ok {
			err := d.deliver(ctx, ChannelEmail, e, func() error {
				return d.email.SendEmail(ctx, e.ContactEmail, subject, body)
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	if d.sms != nil && e.ContactPhone != "" {
		if _, body, ok := d.templates.Render(e.Type, ChannelSMS, data); ok {
			err := d.deliver(ctx, ChannelSMS, e, func() error {
				return d.sms.SendSMS(ctx, e.ContactPhone, body)
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, e events.Event, send func() error) error {
	tracked := d.deliveries != nil && e.ID != ""
	if tracked {
		done, err := d.deliveries.Delivered(ctx, e.ID, ch)
		if err != nil {
			return fmt.Errorf("%s %s: %w", ch, e.AppointmentID, err)
		}
		if done {
			d.logger.Debug().
				Str("channel", string(ch)).
				Str("event_id", e.ID).
				Msg("already delivered, skipping")
			return nil
		}
	}

	err := send()
	d.record(ch, e, err)
	if err != nil {
		return fmt.Errorf("%s %s: %w", ch, e.AppointmentID, err)
	}
	if tracked {
		if err := d.deliveries.MarkDelivered(ctx, e.ID, ch); err != nil {
			d.logger.Warn().Err(err).
				Str("channel", string(ch)).
				Str("event_id", e.ID).
				Msg("sent but could not record delivery; a redelivery will resend")
		}
	}
	return nil
}

func (d *Dispatcher) record(ch Channel, e events.Event, err error) {
	d.metrics.ObserveSend(string(ch), string(e.Type), err)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("channel", string(ch)).
			Str("event_type", string(e.Type)).
			Str("appointment_id", e.AppointmentID).
			Msg("notification failed")
		return
	}
	d.logger.Debug().
		Str("channel", string(ch)).
		Str("event_type", string(e.Type)).
		Str("appointment_id", e.AppointmentID).
		Msg("notification sent")
}
