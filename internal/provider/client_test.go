package provider

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/persona-sim/internal/schema"
)

// stubBackend replays scripted replies and errors in order.
type stubBackend struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	requests []*ChatRequest
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	content := ""
	if len(s.replies) > 0 {
		if i < len(s.replies) {
			content = s.replies[i]
		} else {
			content = s.replies[len(s.replies)-1]
		}
	}
	return &ChatResponse{Role: RoleAssistant, Content: content}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestClient(b Backend, retry RetryPolicy, rec *sleepRecorder, opts ...ClientOption) *Client {
	opts = append(opts, WithSleeper(rec.sleep))
	return NewClient(b, Params{Model: "test-model", MaxTokens: 100}, retry, zap.NewNop(), opts...)
}

func TestSendMessageBackoffSchedule(t *testing.T) {
	transient := &APIError{StatusCode: 503, Body: "overloaded"}
	b := &stubBackend{
		errs:    []error{transient, &APIError{StatusCode: 429, Body: "slow down"}},
		replies: []string{"", "", "hello"},
	}
	rec := &sleepRecorder{}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 5, Wait: time.Second, Factor: 5}, rec)

	res, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Kind != KindText || res.Text != "hello" {
		t.Errorf("got %+v, want text hello", res)
	}
	if b.calls != 3 {
		t.Errorf("calls = %d, want 3", b.calls)
	}
	want := []time.Duration{time.Second, 5 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, rec.waits[i], want[i])
		}
	}
}

func TestSendMessageZeroWaitStartsAtTwoSeconds(t *testing.T) {
	b := &stubBackend{errs: []error{errors.New("boom")}, replies: []string{"", "ok"}}
	rec := &sleepRecorder{}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 3, Wait: 0, Factor: 2}, rec)
	if _, err := c.SendMessage(context.Background(), nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s]", rec.waits)
	}
}

func TestSendMessageInvalidRequestNotRetried(t *testing.T) {
	b := &stubBackend{errs: []error{&APIError{StatusCode: 400, Body: "bad"}}}
	rec := &sleepRecorder{}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 5, Wait: time.Second, Factor: 2}, rec)

	_, err := c.SendMessage(context.Background(), nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if b.calls != 1 || len(rec.waits) != 0 {
		t.Errorf("calls = %d waits = %v, want a single call and no waits", b.calls, rec.waits)
	}
}

func TestSendMessageAttemptsExhausted(t *testing.T) {
	fail := &APIError{StatusCode: 500, Body: "down"}
	b := &stubBackend{errs: []error{fail, fail, fail}}
	rec := &sleepRecorder{}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 3, Wait: time.Millisecond, Factor: 2}, rec)

	_, err := c.SendMessage(context.Background(), nil)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if !IsProviderFailure(err) {
		t.Error("exhausted attempts should count as provider failure")
	}
	if b.calls != 3 {
		t.Errorf("calls = %d, want 3", b.calls)
	}
	if len(rec.waits) != 2 {
		t.Errorf("waits = %v, want 2 waits between 3 attempts", rec.waits)
	}
}

func TestSendMessageCanceledContext(t *testing.T) {
	b := &stubBackend{errs: []error{errors.New("boom"), errors.New("boom")}}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(b, Params{}, RetryPolicy{MaxAttempts: 3, Wait: time.Hour, Factor: 1}, zap.NewNop(),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepCtx(ctx, d)
		}))
	_, err := c.SendMessage(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSendMessageSystemMessagePrepended(t *testing.T) {
	b := &stubBackend{replies: []string{"ok"}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
	_, err := c.SendMessage(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, WithSystemMessage("be brief"))
	if err != nil {
		t.Fatal(err)
	}
	msgs := b.requests[0].Messages
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("messages = %+v, want system message first", msgs)
	}
	if b.requests[0].Model != "test-model" {
		t.Errorf("model = %q", b.requests[0].Model)
	}
}

const fencedDone = "```json\n{\"action\":{\"type\":\"DONE\",\"content\":\"\",\"target\":\"\"},\"cognitive_state\":{\"goals\":\"\",\"attention\":\"\",\"emotions\":\"\"}}\n```"

func TestSendMessageStructuredFenced(t *testing.T) {
	b := &stubBackend{replies: []string{fencedDone}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
	s, _ := schema.CognitiveActionSchema()

	res, err := c.SendMessage(context.Background(), nil, WithResponseSchema("cognitive_action", s))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Kind != KindActions || len(res.Actions) != 1 {
		t.Fatalf("got %+v, want one action", res)
	}
	if res.Actions[0].Action.Type != schema.ActionDone {
		t.Errorf("type = %q, want DONE", res.Actions[0].Action.Type)
	}
	if b.requests[0].ResponseSchema == nil {
		t.Error("schema not forwarded to backend")
	}
}

func TestSendMessageRepairPass(t *testing.T) {
	b := &stubBackend{replies: []string{
		`{"action": {"type": "TALK", "content": "hi"`,
		`{"action": {"type": "TALK", "content": "hi", "target": ""}}`,
	}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
	res, err := c.SendMessage(context.Background(), nil, WithResponseSchema("x", map[string]any{}))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Action.Content != "hi" {
		t.Errorf("got %+v, want repaired action", res.Actions)
	}
	if b.calls != 2 {
		t.Errorf("calls = %d, want original plus repair", b.calls)
	}
}

func TestSendMessageRepairFailsGivesEmptyActions(t *testing.T) {
	b := &stubBackend{replies: []string{"not json at all"}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
	res, err := c.SendMessage(context.Background(), nil, WithResponseSchema("x", map[string]any{}))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Kind != KindActions || len(res.Actions) != 0 {
		t.Errorf("got %+v, want empty action list", res)
	}
}

func TestSendMessageWrongShapeGivesEmptyActions(t *testing.T) {
	for _, reply := range []string{`"I choose Ad 1"`, `42`, `[1, 2]`} {
		b := &stubBackend{replies: []string{reply}}
		c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
		res, err := c.SendMessage(context.Background(), nil, WithResponseSchema("x", map[string]any{}))
		if err != nil {
			t.Fatalf("reply %s: SendMessage: %v", reply, err)
		}
		if res.Kind != KindActions || len(res.Actions) != 0 {
			t.Errorf("reply %s: got %+v, want empty action list", reply, res)
		}
		if b.calls != 2 {
			t.Errorf("reply %s: calls = %d, want original plus repair", reply, b.calls)
		}
	}
}

func TestSendMessageWrongShapeRepaired(t *testing.T) {
	b := &stubBackend{replies: []string{
		`"I choose Ad 1"`,
		`{"action": {"type": "TALK", "content": "Ad 1", "target": ""}}`,
	}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
	res, err := c.SendMessage(context.Background(), nil, WithResponseSchema("x", map[string]any{}))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Action.Content != "Ad 1" {
		t.Errorf("got %+v, want repaired action", res.Actions)
	}
}

func TestSendMessageMissingKey(t *testing.T) {
	b := &stubBackend{replies: []string{`{"cognitive_state":{"goals":"x"}}`}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{})
	_, err := c.SendMessage(context.Background(), nil, WithResponseSchema("x", map[string]any{}))
	if !errors.Is(err, schema.ErrMissingKey) {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
}

func TestSendMessageUsesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	cache, err := NewFileCache(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	b := &stubBackend{replies: []string{"first", "second"}}
	c := newTestClient(b, RetryPolicy{MaxAttempts: 1}, &sleepRecorder{}, WithCache(cache))
	msgs := []Message{{Role: RoleUser, Content: "same question"}}

	r1, err := c.SendMessage(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.SendMessage(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Text != "first" || r2.Text != "first" {
		t.Errorf("got %q then %q, want cached first reply twice", r1.Text, r2.Text)
	}
	if b.calls != 1 {
		t.Errorf("backend calls = %d, want 1", b.calls)
	}

	// A fresh cache over the same file survives the restart.
	reloaded, err := NewFileCache(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("reloaded entries = %d, want 1", reloaded.Len())
	}
}
