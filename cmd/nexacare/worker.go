package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nexacare/nexacare/internal/config"
	"github.com/nexacare/nexacare/internal/platform/events"
	"github.com/nexacare/nexacare/internal/platform/metrics"
	"github.com/nexacare/nexacare/internal/platform/notification"
)

func notifyWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-worker",
		Short: "Consume appointment events from Redis and send email/SMS notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifyWorker(cmd.Context())
		},
	}
}

// newDispatcher enables each channel only when its provider is configured.
func newDispatcher(cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) *notification.Dispatcher {
	var (
		email notification.EmailSender
		sms   notification.SMSSender
	)
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
		email = notification.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName)
	} else {
		logger.Warn().Msg("SendGrid not configured; email notifications disabled")
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		sms = notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	} else {
		logger.Warn().Msg("Twilio not configured; SMS notifications disabled")
	}
	return notification.NewDispatcher(email, sms, notification.NewTemplateEngine(),
		metrics.NewNotificationMetrics(reg), logger.With().Str("component", "notification").Logger())
}

func runNotifyWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the notify worker")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	dispatcher := newDispatcher(cfg, prometheus.DefaultRegisterer, logger).
		WithDeliveryLog(notification.NewRedisDeliveryLog(client, cfg.EventsStream+":delivered", 7*24*time.Hour))
	consumer := events.NewRedisStreamConsumer(client, events.ConsumerConfig{
		Stream:    cfg.EventsStream,
		Group:     cfg.NotifyGroup,
		Consumer:  cfg.NotifyConsumer,
		Batch:     16,
		Block:     5 * time.Second,
		ClaimIdle: cfg.NotifyClaimIdle,
	}, logger)

	logger.Info().
		Str("stream", cfg.EventsStream).
		Str("group", cfg.NotifyGroup).
		Str("consumer", cfg.NotifyConsumer).
		Dur("claim_idle", cfg.NotifyClaimIdle).
		Msg("notify worker started")
	if err := consumer.Run(ctx, dispatcher.Handle); err != nil {
		return fmt.Errorf("notify worker: %w", err)
	}
	logger.Info().Msg("notify worker stopped")
	return nil
}
