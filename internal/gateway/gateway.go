package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Gateway fans interviews in from every chat platform and replies back out
// through the adapter the message came from.
type Gateway struct {
	mu       sync.RWMutex
	adapters map[string]GatewayAdapter
	handler  MessageHandler
	avatars  string
	logger   *zap.Logger
}

// NewGateway creates a gateway with no adapters.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]GatewayAdapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages. It may be called
// before or after adapters are registered.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

// SetAvatarBase sets the URL prefix persona icons are built from. Empty
// means emoji only.
func (g *Gateway) SetAvatarBase(base string) {
	g.mu.Lock()
	g.avatars = base
	g.mu.Unlock()
}

func (g *Gateway) dispatch(msg *InboundMessage) {
	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()
	if h == nil {
		g.logger.Warn("dropping inbound message, no handler set",
			zap.String("platform", msg.Platform))
		return
	}
	h(msg)
}

// Register adds an adapter. An adapter already registered for the same
// platform is closed and replaced.
func (g *Gateway) Register(adapter GatewayAdapter) {
	platform := adapter.Platform()
	adapter.OnMessage(g.dispatch)

	g.mu.Lock()
	old := g.adapters[platform]
	g.adapters[platform] = adapter
	g.mu.Unlock()

	if old != nil && old != adapter {
		if err := old.Close(); err != nil {
			g.logger.Warn("close replaced adapter", zap.String("platform", platform), zap.Error(err))
		}
	}
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// snapshot returns the adapters sorted by platform so callers can work
// without holding the lock.
func (g *Gateway) snapshot(only []string) []GatewayAdapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []GatewayAdapter
	if len(only) > 0 {
		for _, p := range only {
			if a, ok := g.adapters[p]; ok {
				out = append(out, a)
			}
		}
	} else {
		for _, a := range g.adapters {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform() < out[j].Platform() })
	return out
}

// ConnectAll connects every adapter. One platform failing does not stop the
// others; the failures are returned together.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, a := range g.snapshot(nil) {
		if err := a.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", a.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("connect %s: %w", a.Platform(), err))
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", a.Platform()))
	}
	return errors.Join(errs...)
}

// Send delivers a reply through the adapter for msg.Platform, dressing it
// as the speaking persona when one is named.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	avatars := g.avatars
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	if msg.Persona == nil && msg.PersonaName != "" {
		msg.Persona = NewDisplayPersona(msg.PersonaName, avatars)
	}
	return adapter.Send(ctx, msg)
}

// Broadcast sends msg to msg.Platforms, or to every adapter when none are
// named. Unknown platform names are skipped.
func (g *Gateway) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	var errs []error
	for _, a := range g.snapshot(msg.Platforms) {
		if err := a.Broadcast(ctx, msg); err != nil {
			g.logger.Error("broadcast failed",
				zap.String("platform", a.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("broadcast %s: %w", a.Platform(), err))
		}
	}
	return errors.Join(errs...)
}

// Close shuts down every adapter and returns the failures together.
func (g *Gateway) Close() error {
	var errs []error
	for _, a := range g.snapshot(nil) {
		if err := a.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", a.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", a.Platform(), err))
		}
	}
	return errors.Join(errs...)
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	adapters := g.snapshot(nil)
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Platform()
	}
	return names
}

// StatusAll reports every adapter's connection state, sorted by platform.
// Adapters without their own tracking are reported as connected.
func (g *Gateway) StatusAll() []AdapterStatus {
	adapters := g.snapshot(nil)
	out := make([]AdapterStatus, 0, len(adapters))
	for _, a := range adapters {
		if r, ok := a.(StatusReporter); ok {
			out = append(out, r.Status())
			continue
		}
		out = append(out, AdapterStatus{Platform: a.Platform(), Connected: true})
	}
	return out
}
