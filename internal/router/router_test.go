package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/command"
	"github.com/nidhogg/persona-sim/internal/gateway"
	"github.com/nidhogg/persona-sim/internal/prompt"
	"github.com/nidhogg/persona-sim/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoBackend has every persona repeat what it was asked. The newest
// stimulus sits just before the closing act instruction.
type echoBackend struct{}

func (echoBackend) Name() string { return "echo" }

func (echoBackend) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-2].Content
	heard := "something"
	switch {
	case strings.Contains(last, "which ad"):
		heard = "which ad"
	case strings.Contains(last, "hush"):
		return &provider.ChatResponse{Content: `[{"action":{"type":"DONE","content":"","target":""},"cognitive_state":{"goals":"","attention":"","emotions":""}}]`}, nil
	}
	return &provider.ChatResponse{Content: `[
		{"action":{"type":"TALK","content":"you asked ` + heard + `","target":""},"cognitive_state":{"goals":"","attention":"","emotions":""}},
		{"action":{"type":"DONE","content":"","target":""},"cognitive_state":{"goals":"","attention":"","emotions":""}}
	]`}, nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []*gateway.OutboundMessage
}

func (c *captureSender) Send(_ context.Context, m *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *captureSender) last() *gateway.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type snapshotRecorder struct{ personas []string }

func (s *snapshotRecorder) SaveSnapshot(_ context.Context, persona, _ string, events []byte) error {
	s.personas = append(s.personas, persona)
	return nil
}

func newRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	logger := zap.NewNop()
	client := provider.NewClient(echoBackend{}, provider.Params{Model: "test"},
		provider.RetryPolicy{MaxAttempts: 1, Wait: time.Millisecond}, logger)
	renderer := prompt.NewRenderer("", logger)
	return agent.NewRegistry(func(name string) *agent.Person {
		return agent.NewPerson(name, agent.Deps{Client: client, Renderer: renderer, Logger: logger}, agent.Options{})
	}, logger)
}

func inbound(content string) *gateway.InboundMessage {
	return &gateway.InboundMessage{Platform: "rest", ChannelID: "c1", UserName: "tester", Content: content}
}

func TestSinglePersonaAnswersWithoutMention(t *testing.T) {
	reg := newRegistry(t)
	e, err := reg.Create(map[string]any{"name": "Joe"})
	require.NoError(t, err)
	sender := &captureSender{}
	snaps := &snapshotRecorder{}
	mr := New(reg, sender, snaps, nil, zap.NewNop())

	mr.Handle(inbound("which ad do you like?"))

	out := sender.last()
	assert.Equal(t, "you asked which ad", out.Content)
	assert.Equal(t, e.ID, out.PersonaID)
	assert.Equal(t, "Joe", out.PersonaName)
	assert.Equal(t, "c1", out.ChannelID)
	assert.Equal(t, []string{"Joe"}, snaps.personas)
}

func TestMentionPicksPersona(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.Create(map[string]any{"name": "Ann"})
	require.NoError(t, err)
	am, err := reg.Create(map[string]any{"name": "Ann Marie"})
	require.NoError(t, err)
	sender := &captureSender{}
	mr := New(reg, sender, nil, nil, zap.NewNop())

	mr.Handle(inbound("hello everyone"))
	assert.Equal(t, "No persona matched. Mention a persona with @Name.", sender.last().Content)

	mr.Handle(inbound("@ann marie which ad?"))
	assert.Equal(t, am.ID, sender.last().PersonaID)

	entry, clean := mr.resolvePersona("Hey @Ann, which ad?")
	require.NotNil(t, entry)
	assert.Equal(t, "Ann", entry.Person.Name())
	assert.Equal(t, "Hey , which ad?", clean)
}

func TestEveryoneMention(t *testing.T) {
	reg := newRegistry(t)
	for _, n := range []string{"Ayu", "Budi"} {
		_, err := reg.Create(map[string]any{"name": n})
		require.NoError(t, err)
	}
	sender := &captureSender{}
	mr := New(reg, sender, nil, nil, zap.NewNop())

	mr.Handle(inbound("@all which ad?"))
	assert.Equal(t, "> *Ayu*: you asked which ad\n> *Budi*: you asked which ad", sender.last().Content)

	mr.Handle(inbound("@all hush"))
	assert.Equal(t, "> *Ayu*: (Ayu stays silent.)\n> *Budi*: (Budi stays silent.)", sender.last().Content)
}

func TestSlashCommandsBypassPersonas(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.Create(map[string]any{"name": "Joe", "occupation": "Data Analyst"})
	require.NoError(t, err)
	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, command.NewDirectory(reg), gateway.NewGateway(zap.NewNop()))
	sender := &captureSender{}
	mr := New(reg, sender, nil, cmds, zap.NewNop())

	mr.Handle(inbound("/personas"))
	out := sender.last()
	assert.Contains(t, out.Content, "Joe, occupation: Data Analyst, status: idle")
	assert.Empty(t, out.PersonaID)

	e, _ := reg.GetByName("Joe")
	assert.Equal(t, 0, e.Person.Episodic().Len())
}
