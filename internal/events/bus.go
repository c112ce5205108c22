package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
)

// Handler processes one event. A nil return acknowledges it; an error
// leaves it pending, and it is delivered again on a later read of the same
// consumer or claimed by another consumer once idle for ClaimMinIdle.
type Handler func(ctx context.Context, e Event) error

// Options configures a Bus.
type Options struct {
	Namespace     string
	Stream        string
	ConsumerGroup string
	BatchSize     int64
	BlockTimeout  time.Duration // Negative disables blocking reads
	MaxLen        int64
	ClaimMinIdle  time.Duration // Zero means one minute; negative disables claiming
	Logger        *slog.Logger
}

// Bus publishes to and consumes from one Redis stream.
type Bus struct {
	rdb       redis.Cmdable
	stream    string
	group     string
	batchSize int64
	block     time.Duration
	maxLen    int64
	claimIdle time.Duration
	logger    *slog.Logger
}

// NewBus creates a bus. Stream and consumer group are required.
func NewBus(rdb redis.Cmdable, opts Options) (*Bus, error) {
	if opts.Stream == "" || opts.ConsumerGroup == "" {
		return nil, fmt.Errorf("stream and consumer group are required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.BlockTimeout == 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ClaimMinIdle == 0 {
		opts.ClaimMinIdle = time.Minute
	}
	return &Bus{
		rdb:       rdb,
		stream:    blackboard.EventStreamKey(opts.Namespace, opts.Stream),
		group:     opts.ConsumerGroup,
		batchSize: opts.BatchSize,
		block:     opts.BlockTimeout,
		maxLen:    opts.MaxLen,
		claimIdle: opts.ClaimMinIdle,
		logger:    logging.Component(opts.Logger, "events"),
	}, nil
}

// Stream returns the Redis key of the stream.
func (b *Bus) Stream() string {
	return b.stream
}

// Publish appends an event and returns its stream ID. A zero Timestamp is
// set to now.
func (b *Bus) Publish(ctx context.Context, e Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	values, err := e.encode()
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{Stream: b.stream, Values: values}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	id, err := b.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", b.group, err)
	}
	return nil
}

// Consume reads events for consumer until ctx is cancelled.
// Returns nil on cancellation.
func (b *Bus) Consume(ctx context.Context, consumer string, h Handler) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}
	logging.Event(b.logger, "consumer_started", "stream", b.stream, "group", b.group, "consumer", consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := b.ReadOnce(ctx, consumer, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ReadOnce makes one delivery pass for consumer and returns how many events
// were acknowledged. It retries the consumer's own pending events first,
// then claims events other consumers left idle for ClaimMinIdle, then reads
// at most one batch of new events.
func (b *Bus) ReadOnce(ctx context.Context, consumer string, h Handler) (int, error) {
	acked := 0

	own, err := b.readGroup(ctx, consumer, "0", -1)
	if err != nil {
		return 0, err
	}
	acked += b.dispatchAll(ctx, own, h)

	if b.claimIdle > 0 {
		claimed, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.stream,
			Group:    b.group,
			Consumer: consumer,
			MinIdle:  b.claimIdle,
			Start:    "0-0",
			Count:    b.batchSize,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return acked, fmt.Errorf("failed to claim idle events on %s: %w", b.stream, err)
		}
		if len(claimed) > 0 {
			logging.Event(b.logger, "events_claimed", "consumer", consumer, "count", len(claimed))
		}
		acked += b.dispatchAll(ctx, claimed, h)
	}

	fresh, err := b.readGroup(ctx, consumer, ">", b.block)
	if err != nil {
		return acked, err
	}
	return acked + b.dispatchAll(ctx, fresh, h), nil
}

// readGroup reads from the group starting at id: ">" for new events, "0"
// for the consumer's pending list.
func (b *Bus) readGroup(ctx context.Context, consumer, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: consumer,
		Streams:  []string{b.stream, id},
		Count:    b.batchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.stream, err)
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (b *Bus) dispatchAll(ctx context.Context, msgs []redis.XMessage, h Handler) int {
	acked := 0
	for _, msg := range msgs {
		if b.dispatch(ctx, msg, h) {
			acked++
		}
	}
	return acked
}

func (b *Bus) dispatch(ctx context.Context, msg redis.XMessage, h Handler) bool {
	e, err := Decode(msg.ID, msg.Values)
	if err != nil {
		// Undecodable entries will never succeed; acknowledge and drop.
		b.logger.Error("dropping malformed event", "id", msg.ID, "error", err)
		b.ack(ctx, msg.ID)
		return false
	}
	if err := h(ctx, e); err != nil {
		b.logger.Error("event handler failed, leaving pending",
			"id", msg.ID, "event_type", string(e.Type), "project_id", e.ProjectID, "error", err)
		return false
	}
	b.ack(ctx, msg.ID)
	return true
}

func (b *Bus) ack(ctx context.Context, id string) {
	if err := b.rdb.XAck(ctx, b.stream, b.group, id).Err(); err != nil {
		b.logger.Warn("failed to ack event", "id", id, "error", err)
	}
}

// Pending returns how many delivered events are not yet acknowledged.
func (b *Bus) Pending(ctx context.Context) (int64, error) {
	p, err := b.rdb.XPending(ctx, b.stream, b.group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}
