package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryLog records which channels have already delivered an event. The
// stream consumer redelivers a whole event when any channel fails, so the
// dispatcher consults the log to avoid resending the channels that went
// through.
type DeliveryLog interface {
	Delivered(ctx context.Context, eventID string, ch Channel) (bool, error)
	MarkDelivered(ctx context.Context, eventID string, ch Channel) error
}

// RedisDeliveryLog keeps one expiring key per event and channel.
type RedisDeliveryLog struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeliveryLog stores marks under prefix. ttl should outlive the
// longest redelivery window; marks older than that are forgotten.
func NewRedisDeliveryLog(client *redis.Client, prefix string, ttl time.Duration) *RedisDeliveryLog {
	if client == nil {
		panic("notification: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeliveryLog{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisDeliveryLog) key(eventID string, ch Channel) string {
	return l.prefix + ":" + eventID + ":" + string(ch)
}

func (l *RedisDeliveryLog) Delivered(ctx context.Context, eventID string, ch Channel) (bool, error) {
	err := l.client.Get(ctx, l.key(eventID, ch)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notification: read delivery mark: %w", err)
	}
	return true, nil
}

func (l *RedisDeliveryLog) MarkDelivered(ctx context.Context, eventID string, ch Channel) error {
	if err := l.client.Set(ctx, l.key(eventID, ch), time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("notification: write delivery mark: %w", err)
	}
	return nil
}
