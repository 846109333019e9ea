package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/persona-sim/internal/gateway"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content == "" {
		t.Error("expected error message for unknown command")
	}
}

func TestRegistryAliasesAndParsing(t *testing.T) {
	reg := NewRegistry()
	var got string
	reg.Register(&Command{
		Name:    "recall",
		Aliases: []string{"R"},
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			got = args
			return &CommandResult{Content: "ok"}, nil
		},
	})
	reg.Register(&Command{Name: "idle"})
	ctx := context.Background()

	for _, in := range []string{"/recall Joe  ads ", "/RECALL Joe  ads", "/r Joe  ads", "/recall@personasim Joe  ads", "/recall\tJoe  ads"} {
		got = ""
		res, err := reg.Dispatch(ctx, in, &CommandContext{})
		if err != nil || res.Content != "ok" {
			t.Fatalf("%q: res=%v err=%v", in, res, err)
		}
		if got != "Joe  ads" {
			t.Errorf("%q: args = %q", in, got)
		}
	}

	res, _ := reg.Dispatch(ctx, "/idle", &CommandContext{})
	if res.Content != "/idle is not available." {
		t.Errorf("nil handler reply = %q", res.Content)
	}
	if len(reg.List()) != 2 {
		t.Errorf("aliases should not be listed: %d", len(reg.List()))
	}
}

func TestIsCommand(t *testing.T) {
	tests := map[string]bool{
		"/help":         true,
		"  /memory Joe": true,
		"/":             false,
		"/ hello":       false,
		"//comment":     false,
		"@Joe /help":    false,
		"hello":         false,
	}
	for in, want := range tests {
		if got := IsCommand(in); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

type stubPersonas []PersonaInfo

func (s stubPersonas) List() []PersonaInfo { return s }

type stubStatus []gateway.AdapterStatus

func (s stubStatus) StatusAll() []gateway.AdapterStatus { return s }

func TestBuiltins(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg,
		stubPersonas{{ID: "p1", Name: "Joe", Occupation: "Data Analyst", Status: "idle"}},
		stubStatus{{Platform: "discord", Connected: true, Details: "bot=sim"}, {Platform: "slack", Error: "bad token"}},
	)
	ctx := context.Background()

	res, _ := reg.Dispatch(ctx, "/help", &CommandContext{})
	for _, name := range []string{"/help", "/personas", "/status"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help missing %s:\n%s", name, res.Content)
		}
	}

	res, _ = reg.Dispatch(ctx, "/personas", &CommandContext{})
	if !strings.Contains(res.Content, "[p1] Joe, occupation: Data Analyst, status: idle") {
		t.Errorf("personas = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/status", &CommandContext{})
	if !strings.Contains(res.Content, "discord: connected (bot=sim)") ||
		!strings.Contains(res.Content, "slack: disconnected error: bad token") {
		t.Errorf("status = %q", res.Content)
	}
}

type stubMemory struct {
	situation string
	recent    []string
	lastN     int
}

func (s *stubMemory) SetContext(_ context.Context, persona, situation string) error {
	if persona != "Joe" {
		return errors.New("persona not found")
	}
	s.situation = situation
	return nil
}

func (s *stubMemory) Recent(_ context.Context, _ string, n int) ([]string, error) {
	s.lastN = n
	return s.recent, nil
}

func (s *stubMemory) Recall(_ context.Context, _, query string) (string, error) {
	if query == "nothing" {
		return "", nil
	}
	return "# Fact\nI watched " + query, nil
}

func TestMemoryCommands(t *testing.T) {
	m := &stubMemory{recent: []string{"[stimulus] hi", "[action] hello"}}
	reg := NewRegistry()
	RegisterMemoryCommands(reg, m)
	ctx := context.Background()
	cc := &CommandContext{}

	res, _ := reg.Dispatch(ctx, "/context Joe You are watching TV ads.", cc)
	if m.situation != "You are watching TV ads." || res.Content != "Context updated for Joe." {
		t.Errorf("context: %q / %q", m.situation, res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/context Ann at home", cc)
	if !strings.HasPrefix(res.Content, "Failed:") {
		t.Errorf("unknown persona = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/memory Joe", cc)
	if m.lastN != defaultMemoryWindow || !strings.Contains(res.Content, "2. [action] hello") {
		t.Errorf("memory n=%d: %q", m.lastN, res.Content)
	}
	reg.Dispatch(ctx, "/memory Joe 3", cc)
	if m.lastN != 3 {
		t.Errorf("count = %d, want 3", m.lastN)
	}
	res, _ = reg.Dispatch(ctx, "/memory Joe many", cc)
	if res.Content != "Count must be a positive number." {
		t.Errorf("bad count = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/recall Joe the ad", cc)
	if res.Content != "# Fact\nI watched the ad" {
		t.Errorf("recall = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/recall Joe nothing", cc)
	if res.Content != "No memories found." {
		t.Errorf("empty recall = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/recall Joe", cc)
	if !strings.HasPrefix(res.Content, "Usage:") {
		t.Errorf("missing query = %q", res.Content)
	}
}

func TestParseAttributes(t *testing.T) {
	got := parseAttributes("age=29 occupation=Software Engineer nationality=Indonesian stray")
	if got["age"] != 29 {
		t.Errorf("age = %#v", got["age"])
	}
	if got["occupation"] != "Software Engineer" {
		t.Errorf("occupation = %#v", got["occupation"])
	}
	if got["nationality"] != "Indonesian stray" {
		t.Errorf("nationality = %#v", got["nationality"])
	}
	if len(parseAttributes("leading words")) != 0 {
		t.Error("words before the first key should be ignored")
	}
}
