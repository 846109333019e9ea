package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/persona-sim/internal/schema"
)

const repairInstruction = "The following text was supposed to be valid JSON but could not be parsed. " +
	"Reply with the corrected JSON only, no explanation and no code fences.\n\n"

// RetryPolicy bounds how often a failing call is repeated. The wait
// before the n-th retry is Wait * Factor^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	Wait        time.Duration
	Factor      float64
}

// Params are the generation settings applied to every request.
type Params struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Client wraps a Backend with caching, retry with exponential backoff and
// JSON coercion of structured replies.
type Client struct {
	backend Backend
	cache   Cache
	params  Params
	retry   RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithCache enables response caching.
func WithCache(c Cache) ClientOption {
	return func(cl *Client) { cl.cache = c }
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(cl *Client) { cl.sleep = fn }
}

// NewClient creates a client around backend.
func NewClient(backend Backend, params Params, retry RetryPolicy, logger *zap.Logger, opts ...ClientOption) *Client {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.Wait <= 0 {
		retry.Wait = 2 * time.Second
	}
	if retry.Factor <= 0 {
		retry.Factor = 1
	}
	c := &Client{
		backend: backend,
		params:  params,
		retry:   retry,
		sleep:   sleepCtx,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Backend returns the wrapped backend.
func (c *Client) Backend() Backend { return c.backend }

// Model returns the configured model name.
func (c *Client) Model() string { return c.params.Model }

type sendOptions struct {
	system     string
	schema     any
	schemaName string
}

// SendOption customizes one SendMessage call.
type SendOption func(*sendOptions)

// WithSystemMessage prepends a system message.
func WithSystemMessage(s string) SendOption {
	return func(o *sendOptions) { o.system = s }
}

// WithResponseSchema requests structured output and decodes the reply
// into cognitive actions.
func WithResponseSchema(name string, s any) SendOption {
	return func(o *sendOptions) {
		o.schemaName = name
		o.schema = s
	}
}

// SendMessage sends messages to the backend. Invalid requests fail at once
// with ErrInvalidRequest; transient failures are retried and end in
// ErrAttemptsExhausted. With a response schema the reply is coerced into
// actions, falling back to a repair round trip and then to an empty list
// when the reply is not JSON or not shaped like actions. A reply that is
// shaped like actions but lacks required keys returns schema.ErrMissingKey.
func (c *Client) SendMessage(ctx context.Context, messages []Message, opts ...SendOption) (*Result, error) {
	var o sendOptions
	for _, fn := range opts {
		fn(&o)
	}

	req := c.newRequest(messages, o.system)
	if o.schema != nil {
		req.ResponseSchema = o.schema
		req.SchemaName = o.schemaName
	}

	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	role := resp.Role
	if role == "" {
		role = RoleAssistant
	}
	if o.schema == nil {
		return &Result{Role: role, Kind: KindText, Text: resp.Content}, nil
	}

	if v, ok := ExtractJSON(resp.Content); ok {
		actions, err := schema.DecodeCognitiveActions(v)
		if err == nil || errors.Is(err, schema.ErrMissingKey) {
			return actionsResult(role, actions, err)
		}
		c.logger.Warn("model reply is not a list of actions, attempting repair",
			zap.String("content", truncate(resp.Content, 200)), zap.Error(err))
	} else {
		c.logger.Warn("unparseable model reply, attempting repair", zap.String("content", truncate(resp.Content, 200)))
	}

	if v, ok := c.repair(ctx, resp.Content); ok {
		actions, err := schema.DecodeCognitiveActions(v)
		if err == nil || errors.Is(err, schema.ErrMissingKey) {
			return actionsResult(role, actions, err)
		}
	}
	c.logger.Error("model reply could not be repaired, returning no actions")
	return &Result{Role: role, Kind: KindActions}, nil
}

// actionsResult wraps decoded actions. Only missing-key errors get here.
func actionsResult(role string, actions []schema.CognitiveAction, err error) (*Result, error) {
	if err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	return &Result{Role: role, Kind: KindActions, Actions: actions}, nil
}

func (c *Client) newRequest(messages []Message, system string) *ChatRequest {
	msgs := make([]Message, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, messages...)
	return &ChatRequest{
		Model:            c.params.Model,
		Messages:         msgs,
		Temperature:      c.params.Temperature,
		MaxTokens:        c.params.MaxTokens,
		TopP:             c.params.TopP,
		FrequencyPenalty: c.params.FrequencyPenalty,
		PresencePenalty:  c.params.PresencePenalty,
	}
}

func (c *Client) repair(ctx context.Context, broken string) (any, bool) {
	req := c.newRequest([]Message{{Role: RoleUser, Content: repairInstruction + broken}}, "")
	resp, err := c.call(ctx, req)
	if err != nil {
		c.logger.Warn("repair request failed", zap.Error(err))
		return nil, false
	}
	return ExtractJSON(resp.Content)
}

// call performs one logical request: cache lookup, then bounded attempts
// against the backend with exponential backoff between them.
func (c *Client) call(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var key string
	if c.cache != nil {
		k, err := CacheKey(req)
		if err != nil {
			return nil, err
		}
		key = k
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache lookup failed", zap.Error(err))
		} else if ok {
			c.logger.Debug("cache hit", zap.String("key", key))
			return cached, nil
		}
	}

	wait := c.retry.Wait
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := c.backend.Chat(ctx, req)
		if err == nil {
			c.logger.Debug("got response",
				zap.String("backend", c.backend.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", time.Since(start)))
			if c.cache != nil {
				if err := c.cache.Put(ctx, key, resp); err != nil {
					c.logger.Warn("cache store failed", zap.Error(err))
				}
			}
			return resp, nil
		}
		if isCanceled(ctx, err) {
			return nil, err
		}
		lastErr = err

		switch classify(err) {
		case failureInvalid:
			c.logger.Error("invalid request, won't retry", zap.Int("attempt", attempt), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		case failureRateLimit:
			c.logger.Warn("rate limited, backing off", zap.Int("attempt", attempt), zap.Error(err))
		default:
			c.logger.Warn("request failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		if attempt == c.retry.MaxAttempts {
			break
		}
		c.logger.Info("waiting before next request", zap.Duration("wait", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		wait = time.Duration(float64(wait) * c.retry.Factor)
	}

	c.logger.Error("failed to get response", zap.Int("attempts", c.retry.MaxAttempts), zap.Error(lastErr))
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, c.retry.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + " (...)"
}

// IsProviderFailure reports whether err came from the backend rather than
// from decoding its reply.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrAttemptsExhausted)
}
