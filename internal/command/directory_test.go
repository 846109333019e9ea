package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/embedding"
	"github.com/nidhogg/persona-sim/internal/memory"
	"github.com/nidhogg/persona-sim/internal/prompt"
	"github.com/nidhogg/persona-sim/internal/provider"
	"github.com/nidhogg/persona-sim/internal/rag"
	"github.com/nidhogg/persona-sim/internal/vectorstore"
)

type talkBackend struct{}

func (talkBackend) Name() string { return "talk" }

func (talkBackend) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: `[
		{"action":{"type":"TALK","content":"I prefer the mountain trip","target":""},"cognitive_state":{"goals":"","attention":"","emotions":""}},
		{"action":{"type":"DONE","content":"","target":""},"cognitive_state":{"goals":"","attention":"","emotions":""}}
	]`}, nil
}

func newDirectory(t *testing.T) (*Directory, *agent.Registry) {
	t.Helper()
	logger := zap.NewNop()
	client := provider.NewClient(talkBackend{}, provider.Params{Model: "test"},
		provider.RetryPolicy{MaxAttempts: 1, Wait: time.Millisecond}, logger)
	renderer := prompt.NewRenderer("", logger)
	reg := agent.NewRegistry(func(name string) *agent.Person {
		kb := rag.New(embedding.NewHashProvider(64), vectorstore.NewMemory(), rag.Options{}, logger)
		return agent.NewPerson(name, agent.Deps{
			Client:   client,
			Renderer: renderer,
			Semantic: memory.NewSemantic(kb, logger),
			Logger:   logger,
		}, agent.Options{})
	}, logger)
	return NewDirectory(reg), reg
}

func TestDirectoryCommands(t *testing.T) {
	dir, reg := newDirectory(t)
	cmds := NewRegistry()
	RegisterPersonaCommands(cmds, dir)
	RegisterMemoryCommands(cmds, dir)
	ctx := context.Background()
	cc := &CommandContext{}

	res, err := cmds.Dispatch(ctx, "/create_persona Rina age=31 occupation=Travel Agent", cc)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Rina (3 attributes)")

	res, _ = cmds.Dispatch(ctx, "/create_persona Rina shoe_size=9", cc)
	assert.Contains(t, res.Content, "Failed to create persona")

	list := dir.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Travel Agent", list[0].Occupation)

	res, _ = cmds.Dispatch(ctx, "/persona rina", cc)
	assert.Contains(t, res.Content, `"age": 31`)

	res, _ = cmds.Dispatch(ctx, "/context Rina You are comparing holiday packages.", cc)
	assert.Equal(t, "Context updated for Rina.", res.Content)
	e, _ := reg.GetByName("Rina")
	assert.Equal(t, "You are comparing holiday packages.", e.Person.State().Context)

	_, err = reg.ListenAndAct(ctx, e.ID, "Which trip do you prefer?")
	require.NoError(t, err)

	recent, err := dir.Recent(ctx, "Rina", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Contains(t, recent[0], "[action]")
	assert.Contains(t, recent[0], "I prefer the mountain trip")

	hits, err := dir.Recall(ctx, e.ID, "mountain trip")
	require.NoError(t, err)
	assert.Contains(t, hits, "mountain trip")

	_, err = dir.Recent(ctx, "Nobody", 1)
	assert.ErrorIs(t, err, agent.ErrPersonNotFound)
}
