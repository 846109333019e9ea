// Package events publishes simulation progress on Redis Streams.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types.
const (
	RunStarted     = "run_started"
	PersonaActed   = "persona_acted"
	PersonaFailed  = "persona_failed"
	RunFinished    = "run_finished"
	streamPrefix   = "personasim:run:"
	defaultMaxLen  = 10000
	defaultReadCnt = 10
)

// Event is one simulation progress notification.
type Event struct {
	ID        string          `json:"id,omitempty"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Persona   string          `json:"persona,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes events to one stream per run.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus creates a Redis-backed event bus.
func NewBus(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// NewBusFromClient wraps an existing client. Closing the bus closes it.
func NewBusFromClient(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

// Stream returns the stream key for a run.
func Stream(runID string) string { return streamPrefix + runID }

// Publish appends ev to its run's stream.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	stream := Stream(ev.RunID)
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	ev.ID = id

	b.logger.Debug("published event",
		zap.String("run", ev.RunID),
		zap.String("type", ev.Type),
		zap.String("persona", ev.Persona))
	return nil
}

// PublishPayload marshals payload and publishes it as an event of typ.
func (b *Bus) PublishPayload(ctx context.Context, runID, typ, persona string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = data
	}
	return b.Publish(ctx, &Event{RunID: runID, Type: typ, Persona: persona, Payload: raw})
}

// History returns every event recorded for a run, oldest first.
func (b *Bus) History(ctx context.Context, runID string) ([]*Event, error) {
	msgs, err := b.rdb.XRange(ctx, Stream(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Stream(runID), err)
	}
	out := make([]*Event, 0, len(msgs))
	for _, m := range msgs {
		if ev := decode(m); ev != nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe follows a run's stream from now on. The channel closes when ctx
// is canceled.
func (b *Bus) Subscribe(ctx context.Context, runID string) <-chan *Event {
	ch := make(chan *Event, 16)
	stream := Stream(runID)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   defaultReadCnt,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read events failed", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, m := range r.Messages {
					lastID = m.ID
					ev := decode(m)
					if ev == nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

func decode(m redis.XMessage) *Event {
	data, ok := m.Values["data"].(string)
	if !ok {
		return nil
	}
	var ev Event
	if json.Unmarshal([]byte(data), &ev) != nil {
		return nil
	}
	ev.ID = m.ID
	return &ev
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
