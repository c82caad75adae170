package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const payloadField = "event"

// RedisStreamPublisher appends events to a Redis stream with XADD.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher returns a publisher on stream. A positive maxLen
// trims the stream approximately to that many entries.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	if client == nil {
		panic("events: redis client cannot be nil")
	}
	if stream == "" {
		panic("events: redis stream cannot be empty")
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, e Event) error {
	body, err := encode(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":       string(e.Type),
			payloadField: string(body),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("events: xadd %s: %w", p.stream, err)
	}
	return nil
}

// RedisStreamConsumer reads a stream through a consumer group and acks each
// entry once its handler succeeds. A failed entry stays in the group's
// pending list. Every poll retries this consumer's own pending entries
// before reading new ones, and claims entries another consumer has left idle
// for longer than ClaimIdle, so a crashed worker's backlog is not stranded.
type RedisStreamConsumer struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	batch     int64
	block     time.Duration
	claimIdle time.Duration
	logger    zerolog.Logger
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Batch    int64
	// Block is how long one read waits for new entries. Negative disables blocking.
	Block time.Duration
	// ClaimIdle is how long an entry must sit unacked under another consumer
	// before this one takes it over. Zero uses one minute; negative disables
	// claiming.
	ClaimIdle time.Duration
}

func NewRedisStreamConsumer(client *redis.Client, cfg ConsumerConfig, logger zerolog.Logger) *RedisStreamConsumer {
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimIdle == 0 {
		cfg.ClaimIdle = time.Minute
	}
	return &RedisStreamConsumer{
		client:    client,
		stream:    cfg.Stream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		batch:     cfg.Batch,
		block:     cfg.Block,
		claimIdle: cfg.ClaimIdle,
		logger:    logger.With().Str("component", "events").Str("stream", cfg.Stream).Logger(),
	}
}

// EnsureGroup creates the consumer group, and the stream with it, if missing.
func (c *RedisStreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("events: create group %s: %w", c.group, err)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (c *RedisStreamConsumer) Run(ctx context.Context, h Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Poll(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("stream read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll runs one delivery round and returns how many entries were acked:
// stale entries claimed from other consumers, then this consumer's own
// pending entries, then new entries. An entry is handled at most once per
// round.
func (c *RedisStreamConsumer) Poll(ctx context.Context, h Handler) (int, error) {
	seen := make(map[string]bool)
	acked := 0

	if c.claimIdle > 0 {
		claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimIdle,
			Start:    "0-0",
			Count:    c.batch,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return acked, fmt.Errorf("events: xautoclaim %s: %w", c.stream, err)
		}
		n, err := c.process(ctx, claimed, h, seen)
		acked += n
		if err != nil {
			return acked, err
		}
	}

	// "0" replays entries delivered to this consumer but never acked. It
	// never blocks.
	pending, err := c.read(ctx, "0", -1)
	if err != nil {
		return acked, err
	}
	n, err := c.process(ctx, pending, h, seen)
	acked += n
	if err != nil {
		return acked, err
	}

	fresh, err := c.read(ctx, ">", c.block)
	if err != nil {
		return acked, err
	}
	n, err = c.process(ctx, fresh, h, seen)
	return acked + n, err
}

func (c *RedisStreamConsumer) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    c.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("events: xreadgroup %s %s: %w", c.stream, id, err)
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *RedisStreamConsumer) process(ctx context.Context, msgs []redis.XMessage, h Handler, seen map[string]bool) (int, error) {
	acked := 0
	for _, msg := range msgs {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		if !c.handle(ctx, msg, h) {
			continue
		}
		if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
			return acked, fmt.Errorf("events: xack %s: %w", msg.ID, err)
		}
		acked++
	}
	return acked, nil
}

// handle reports whether msg should be acked. Undecodable entries are acked
// so they do not block the group forever. That includes pending entries
// whose payload was trimmed from the stream by MAXLEN, which come back with
// no fields.
func (c *RedisStreamConsumer) handle(ctx context.Context, msg redis.XMessage, h Handler) bool {
	raw, _ := msg.Values[payloadField].(string)
	e, err := decode([]byte(raw))
	if err != nil {
		c.logger.Error().Err(err).Str("entry_id", msg.ID).Msg("dropping malformed event")
		return true
	}
	if err := h(ctx, e); err != nil {
		c.logger.Warn().Err(err).
			Str("entry_id", msg.ID).
			Str("event_type", string(e.Type)).
			Msg("event handler failed, leaving entry pending")
		return false
	}
	return true
}
