package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/nexacare/nexacare/internal/platform/events"
)

type emailCall struct {
	To, Subject, Body string
}

type mockEmailSender struct {
	mu    sync.Mutex
	calls []emailCall
	err   error
}

func (m *mockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, emailCall{to, subject, body})
	return m.err
}

type smsCall struct {
	To, Body string
}

type mockSMSSender struct {
	mu    sync.Mutex
	calls []smsCall
	err   error
}

func (m *mockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, smsCall{to, body})
	return m.err
}

func bookedEvent() events.Event {
	return events.Event{
		ID:            "e1",
		Type:          events.AppointmentBooked,
		AppointmentID: "a-42",
		Date:          "2025-03-11",
		TimeSlot:      "10:30-11:00",
		ContactEmail:  "pat@example.com",
		ContactPhone:  "+15550100",
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	tpl := NewTemplateEngine()

	subject, body, ok := tpl.Render(events.AppointmentConfirmed, ChannelEmail, map[string]string{
		"date": "2025-03-11", "time_slot": "10:30-11:00",
	})
	if !ok {
		t.Fatal("expected built-in confirmed email template")
	}
	if subject != "Your appointment is confirmed" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "2025-03-11 at 10:30-11:00") {
		t.Errorf("body not rendered: %q", body)
	}

	if _, _, ok := tpl.Render(events.AppointmentCompleted, ChannelSMS, nil); ok {
		t.Error("completed has no SMS template")
	}
}

func TestTemplateEngine_MissingKeysLeftAsIs(t *testing.T) {
	tpl := NewTemplateEngine()
	tpl.Register(events.AppointmentBooked, ChannelSMS, Template{Body: "hi {{name}} on {{date}}"})

	_, body, ok := tpl.Render(events.AppointmentBooked, ChannelSMS, map[string]string{"date": "d"})
	if !ok {
		t.Fatal("expected registered template")
	}
	if body != "hi {{name}} on d" {
		t.Errorf("body = %q", body)
	}
}

func TestDispatcher_SendsBothChannels(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	d := NewDispatcher(email, sms, nil, nil, zerolog.Nop())

	if err := d.Handle(context.Background(), bookedEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.calls) != 1 || email.calls[0].To != "pat@example.com" {
		t.Fatalf("email calls = %+v", email.calls)
	}
	if !strings.Contains(email.calls[0].Body, "a-42") {
		t.Errorf("email body missing reference: %q", email.calls[0].Body)
	}
	if len(sms.calls) != 1 || sms.calls[0].To != "+15550100" {
		t.Fatalf("sms calls = %+v", sms.calls)
	}
}

func TestDispatcher_SkipsMissingContacts(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	d := NewDispatcher(email, sms, nil, nil, zerolog.Nop())

	e := bookedEvent()
	e.ContactEmail = ""
	e.ContactPhone = ""
	if err := d.Handle(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.calls)+len(sms.calls) != 0 {
		t.Error("nothing should be sent without contact details")
	}
}

func TestDispatcher_NilSenderDisablesChannel(t *testing.T) {
	email := &mockEmailSender{}
	d := NewDispatcher(email, nil, nil, nil, zerolog.Nop())
	if err := d.Handle(context.Background(), bookedEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.calls) != 1 {
		t.Errorf("expected one email, got %d", len(email.calls))
	}
}

func TestDispatcher_ReturnsSendErrors(t *testing.T) {
	email := &mockEmailSender{err: errors.New("mailbox full")}
	sms := &mockSMSSender{}
	d := NewDispatcher(email, sms, nil, nil, zerolog.Nop())

	err := d.Handle(context.Background(), bookedEvent())
	if err == nil || !strings.Contains(err.Error(), "mailbox full") {
		t.Fatalf("expected joined send error, got %v", err)
	}
	if len(sms.calls) != 1 {
		t.Error("sms should still be attempted when email fails")
	}
}

func newDeliveryLog(t *testing.T) (*RedisDeliveryLog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDeliveryLog(client, "test:delivered", time.Hour), mr
}

func TestDispatcher_RedeliverySkipsSucceededChannels(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{err: errors.New("carrier timeout")}
	log, _ := newDeliveryLog(t)
	d := NewDispatcher(email, sms, nil, nil, zerolog.Nop()).WithDeliveryLog(log)

	if err := d.Handle(context.Background(), bookedEvent()); err == nil {
		t.Fatal("expected the sms failure to be returned")
	}
	if len(email.calls) != 1 || len(sms.calls) != 1 {
		t.Fatalf("first attempt: email=%d sms=%d", len(email.calls), len(sms.calls))
	}

	// the consumer redelivers the same event once the carrier recovers
	sms.err = nil
	if err := d.Handle(context.Background(), bookedEvent()); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(email.calls) != 1 {
		t.Errorf("email must not be resent, got %d sends", len(email.calls))
	}
	if len(sms.calls) != 2 {
		t.Errorf("sms should be retried once, got %d sends", len(sms.calls))
	}

	// a third delivery sends nothing at all
	if err := d.Handle(context.Background(), bookedEvent()); err != nil {
		t.Fatal(err)
	}
	if len(email.calls) != 1 || len(sms.calls) != 2 {
		t.Errorf("fully delivered event was resent: email=%d sms=%d", len(email.calls), len(sms.calls))
	}
}

func TestDispatcher_WithoutDeliveryLogResendsEverything(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{err: errors.New("carrier timeout")}
	d := NewDispatcher(email, sms, nil, nil, zerolog.Nop())

	_ = d.Handle(context.Background(), bookedEvent())
	sms.err = nil
	if err := d.Handle(context.Background(), bookedEvent()); err != nil {
		t.Fatal(err)
	}
	if len(email.calls) != 2 {
		t.Errorf("expected at-least-once resend of email, got %d", len(email.calls))
	}
}

func TestDispatcher_DeliveryLogUnavailable(t *testing.T) {
	email := &mockEmailSender{}
	log, mr := newDeliveryLog(t)
	d := NewDispatcher(email, nil, nil, nil, zerolog.Nop()).WithDeliveryLog(log)
	mr.Close()

	if err := d.Handle(context.Background(), bookedEvent()); err == nil {
		t.Fatal("expected an error when delivery marks cannot be read")
	}
	if len(email.calls) != 0 {
		t.Error("nothing should be sent while the delivery log is unreadable")
	}
}

func TestRedisDeliveryLog(t *testing.T) {
	ctx := context.Background()
	log, mr := newDeliveryLog(t)

	done, err := log.Delivered(ctx, "e1", ChannelEmail)
	if err != nil || done {
		t.Fatalf("expected not delivered, got %v %v", done, err)
	}
	if err := log.MarkDelivered(ctx, "e1", ChannelEmail); err != nil {
		t.Fatal(err)
	}
	if done, _ := log.Delivered(ctx, "e1", ChannelEmail); !done {
		t.Error("expected email marked")
	}
	if done, _ := log.Delivered(ctx, "e1", ChannelSMS); done {
		t.Error("channels are tracked separately")
	}
	if ttl := mr.TTL("test:delivered:e1:email"); ttl != time.Hour {
		t.Errorf("expected 1h ttl, got %s", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if done, _ := log.Delivered(ctx, "e1", ChannelEmail); done {
		t.Error("mark should expire")
	}
}

type fakeSendGrid struct {
	msg    *mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.msg = m
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status, Body: "body"}, nil
}

func TestSendGridSender(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	s := &SendGridSender{client: fake, fromEmail: "noreply@nexacare.test", fromName: "NexaCare"}

	if err := s.SendEmail(context.Background(), "pat@example.com", "Hello", "Body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.msg.Subject != "Hello" || fake.msg.From.Address != "noreply@nexacare.test" {
		t.Errorf("unexpected message: subject=%q from=%q", fake.msg.Subject, fake.msg.From.Address)
	}

	fake.status = 401
	if err := s.SendEmail(context.Background(), "pat@example.com", "Hello", "Body"); err == nil {
		t.Error("expected error on 401")
	}

	fake.err = errors.New("dial tcp")
	if err := s.SendEmail(context.Background(), "pat@example.com", "Hello", "Body"); err == nil {
		t.Error("expected transport error")
	}
}

type fakeTwilio struct {
	params *openapi.CreateMessageParams
	err    error
}

func (f *fakeTwilio) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = p
	return &openapi.ApiV2010Message{}, f.err
}

func TestTwilioSender(t *testing.T) {
	fake := &fakeTwilio{}
	s := &TwilioSender{api: fake, from: "+15550000"}

	if err := s.SendSMS(context.Background(), "+15550100", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *fake.params.To != "+15550100" || *fake.params.From != "+15550000" || *fake.params.Body != "hi" {
		t.Errorf("unexpected params: %+v", fake.params)
	}

	fake.err = errors.New("invalid number")
	if err := s.SendSMS(context.Background(), "bad", "hi"); err == nil {
		t.Error("expected error")
	}
}
