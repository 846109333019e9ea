package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxBroadcastHistory = 100

// BroadcastRecord tracks a sent broadcast for history.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
}

// Broadcaster announces simulation runs on every connected platform.
type Broadcaster struct {
	gateway *Gateway
	history []BroadcastRecord
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		gateway: gw,
		logger:  logger,
	}
}

// Send broadcasts a message to all or selected platforms via the gateway.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("broadcast type is required")
	}

	b.logger.Info("sending broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title),
		zap.Strings("platforms", msg.Platforms),
	)

	if err := b.gateway.Broadcast(ctx, msg); err != nil {
		return err
	}

	targets := msg.Platforms
	if len(targets) == 0 {
		targets = b.gateway.Adapters()
	}

	b.mu.Lock()
	b.history = append(b.history, BroadcastRecord{
		Message: msg,
		SentAt:  time.Now(),
		Targets: targets,
	})
	if len(b.history) > maxBroadcastHistory {
		b.history = b.history[len(b.history)-maxBroadcastHistory:]
	}
	b.mu.Unlock()
	return nil
}

// PublishPayload turns run start and finish notifications into broadcasts.
// Per-persona progress is left to the event stream.
func (b *Broadcaster) PublishPayload(ctx context.Context, runID, typ, _ string, payload any) error {
	var title string
	switch BroadcastType(typ) {
	case BroadcastRunStarted:
		title = "Simulation started"
	case BroadcastRunFinished:
		title = "Simulation finished"
	default:
		return nil
	}
	return b.Send(ctx, &BroadcastMessage{
		Type:    BroadcastType(typ),
		Title:   title,
		Content: describeRun(runID, payload),
	})
}

// History returns up to limit of the most recent broadcast records.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	start := len(b.history) - limit
	return append([]BroadcastRecord(nil), b.history[start:]...)
}

// describeRun renders "run <id>" followed by the payload's fields as
// sorted key=value pairs.
func describeRun(runID string, payload any) string {
	var sb strings.Builder
	sb.WriteString("run " + runID)
	data, err := json.Marshal(payload)
	if err != nil {
		return sb.String()
	}
	var fields map[string]any
	if json.Unmarshal(data, &fields) != nil {
		return sb.String()
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, fields[k])
	}
	return sb.String()
}
