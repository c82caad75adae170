package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	SinkLog   = "log"
	SinkRedis = "redis"
	SinkSQS   = "sqs"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	Store       string `mapstructure:"STORE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	SlotStartHour      int    `mapstructure:"SLOT_START_HOUR"`
	SlotEndHour        int    `mapstructure:"SLOT_END_HOUR"`
	SlotMinutes        int    `mapstructure:"SLOT_MINUTES"`
	SlotBreakHour      int    `mapstructure:"SLOT_BREAK_HOUR"`
	BookingMinLeadDays int    `mapstructure:"BOOKING_MIN_LEAD_DAYS"`
	ClinicTimezone     string `mapstructure:"CLINIC_TIMEZONE"`

	EventsSink     string `mapstructure:"EVENTS_SINK"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	EventsStream   string `mapstructure:"EVENTS_STREAM"`
	EventsMaxLen   int64  `mapstructure:"EVENTS_MAX_LEN"`
	NotifyGroup    string `mapstructure:"NOTIFY_GROUP"`
	NotifyConsumer string `mapstructure:"NOTIFY_CONSUMER"`
	AWSRegion      string `mapstructure:"AWS_REGION"`
	AWSEndpointURL string `mapstructure:"AWS_ENDPOINT_URL"`
	EventsQueueURL string `mapstructure:"EVENTS_QUEUE_URL"`

	// NotifyClaimIdle is how long another worker's unacked entry waits before
	// this worker takes it over.
	NotifyClaimIdle time.Duration `mapstructure:"NOTIFY_CLAIM_IDLE"`

	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `mapstructure:"SENDGRID_FROM_NAME"`
	TwilioAccountSID  string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `mapstructure:"TWILIO_FROM_NUMBER"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"SLOT_START_HOUR", "SLOT_END_HOUR", "SLOT_MINUTES", "SLOT_BREAK_HOUR",
	"BOOKING_MIN_LEAD_DAYS", "CLINIC_TIMEZONE",
	"EVENTS_SINK", "REDIS_URL", "EVENTS_STREAM", "EVENTS_MAX_LEN", "NOTIFY_GROUP", "NOTIFY_CONSUMER",
	"NOTIFY_CLAIM_IDLE",
	"AWS_REGION", "AWS_ENDPOINT_URL", "EVENTS_QUEUE_URL",
	"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "SENDGRID_FROM_NAME",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
}

// Load reads configuration from the environment and an optional .env file.
// It does not validate; callers decide which checks their command needs.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("SLOT_START_HOUR", 10)
	v.SetDefault("SLOT_END_HOUR", 20)
	v.SetDefault("SLOT_MINUTES", 30)
	v.SetDefault("SLOT_BREAK_HOUR", 13)
	v.SetDefault("BOOKING_MIN_LEAD_DAYS", 1)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("EVENTS_SINK", SinkLog)
	v.SetDefault("EVENTS_STREAM", "nexacare:appointments")
	v.SetDefault("EVENTS_MAX_LEN", 100000)
	v.SetDefault("NOTIFY_GROUP", "notifications")
	v.SetDefault("NOTIFY_CONSUMER", "notify-1")
	v.SetDefault("NOTIFY_CLAIM_IDLE", "1m")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("SENDGRID_FROM_NAME", "NexaCare")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = splitList(cfg.CORSOrigins[0])
	} else if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WarnIfDev logs a loud banner when header-based dev auth will be active.
func (c *Config) WarnIfDev() {
	if !c.IsDev() || c.AuthIssuer != "" || c.AuthSigningKey != "" {
		return
	}
	log.Warn().Msg("ENV=development: dev auth is active and X-Dev-User/X-Dev-Role headers are trusted. Do NOT use this configuration in production.")
}

// Location resolves CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// BreakHour returns nil when the break is disabled.
func (c *Config) BreakHour() *int {
	if c.SlotBreakHour < 0 {
		return nil
	}
	h := c.SlotBreakHour
	return &h
}

// Validate checks that the configuration is safe to serve with.
func (c *Config) Validate() error {
	if c.SlotStartHour < 0 || c.SlotStartHour > 23 {
		return fmt.Errorf("SLOT_START_HOUR must be within 0-23, got %d", c.SlotStartHour)
	}
	if c.SlotEndHour <= c.SlotStartHour || c.SlotEndHour > 24 {
		return fmt.Errorf("SLOT_END_HOUR must be after SLOT_START_HOUR and at most 24, got %d", c.SlotEndHour)
	}
	if c.SlotMinutes <= 0 {
		return fmt.Errorf("SLOT_MINUTES must be positive, got %d", c.SlotMinutes)
	}
	if c.SlotBreakHour > 23 {
		return fmt.Errorf("SLOT_BREAK_HOUR must be within 0-23 or negative to disable, got %d", c.SlotBreakHour)
	}
	if c.BookingMinLeadDays < 0 {
		return fmt.Errorf("BOOKING_MIN_LEAD_DAYS must not be negative, got %d", c.BookingMinLeadDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	switch c.EventsSink {
	case SinkLog:
	case SinkRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when EVENTS_SINK is %q", SinkRedis)
		}
	case SinkSQS:
		if c.EventsQueueURL == "" {
			return fmt.Errorf("EVENTS_QUEUE_URL is required when EVENTS_SINK is %q", SinkSQS)
		}
	default:
		return fmt.Errorf("EVENTS_SINK must be one of log, redis, sqs, got %q", c.EventsSink)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	return nil
}
