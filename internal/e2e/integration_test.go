//go:build integration

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/embedding"
	"github.com/nidhogg/persona-sim/internal/events"
	"github.com/nidhogg/persona-sim/internal/memory"
	"github.com/nidhogg/persona-sim/internal/prompt"
	"github.com/nidhogg/persona-sim/internal/provider"
	"github.com/nidhogg/persona-sim/internal/rag"
	"github.com/nidhogg/persona-sim/internal/simulation"
	"github.com/nidhogg/persona-sim/internal/store"
	"github.com/nidhogg/persona-sim/internal/vectorstore"
)

const scenarioYAML = `
project: coffee ads
situation: You are shopping for coffee on a Monday morning.
questions: Which ad would make you buy? Select only one.
options:
  - "**Mountain Roast**: bold and smoky"
  - "**Sunrise Blend**: light and fruity"
`

// pickBackend always chooses the second ad.
type pickBackend struct {
	mu    sync.Mutex
	calls int
}

func (b *pickBackend) Name() string { return "pick" }

func (b *pickBackend) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if req.ResponseSchema == nil {
		return &provider.ChatResponse{Content: `{"ad_number": 2, "ad_title": "Sunrise Blend"}`}, nil
	}
	return &provider.ChatResponse{Content: `[
		{"action":{"type":"TALK","content":"Sunrise Blend, I like light coffee","target":""},"cognitive_state":{"goals":"buy coffee","attention":"ads","emotions":"calm"}},
		{"action":{"type":"DONE","content":"","target":""},"cognitive_state":{"goals":"","attention":"","emotions":""}}
	]`}, nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(testRedisURL)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestStoreRunsAndResponses(t *testing.T) {
	ctx := context.Background()
	// Applied files are recorded, so a second pass is a no-op.
	require.NoError(t, testStore.Migrate(ctx, "../../migrations"))
	runID := uuid.New().String()

	run := &store.Run{ID: runID, Situation: "s", Request: "q"}
	require.NoError(t, testStore.CreateRun(ctx, run))
	assert.Equal(t, store.RunRunning, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	require.NoError(t, testStore.SaveResponse(ctx, &store.Response{
		RunID: runID, Seq: 1, Persona: "Ana", Talk: "second",
	}))
	require.NoError(t, testStore.SaveResponse(ctx, &store.Response{
		RunID: runID, Seq: 0, Persona: "Joe", Talk: "first",
		Actions:    json.RawMessage(`[{"action":{"type":"DONE"}}]`),
		Extraction: json.RawMessage(`{"ad_number":1}`),
	}))
	require.NoError(t, testStore.FinishRun(ctx, runID, errors.New("persona Ana: rejected")))

	got, err := testStore.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, got.Status)
	assert.Equal(t, "persona Ana: rejected", got.Error)
	require.NotNil(t, got.FinishedAt)

	responses, err := testStore.ListResponses(ctx, runID)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "Joe", responses[0].Persona)
	assert.JSONEq(t, `{"ad_number":1}`, string(responses[0].Extraction))
	assert.JSONEq(t, `[]`, string(responses[1].Actions))
	assert.Nil(t, responses[1].Extraction)

	runs, err := testStore.ListRuns(ctx, 100)
	require.NoError(t, err)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, runID)

	_, err = testStore.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStorePersonasAndSnapshots(t *testing.T) {
	ctx := context.Background()
	id := uuid.New().String()
	name := "Rina " + id[:8]

	require.NoError(t, testStore.SavePersona(ctx, id, name, map[string]any{"name": name, "age": 31}))
	require.NoError(t, testStore.SavePersona(ctx, id, name, map[string]any{"name": name, "age": 32}))

	p, err := testStore.GetPersona(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, name, p.Name)
	assert.Equal(t, float64(32), p.Profile["age"])

	all, err := testStore.ListPersonas(ctx)
	require.NoError(t, err)
	found := 0
	for _, rec := range all {
		if rec.ID == id {
			found++
		}
	}
	assert.Equal(t, 1, found)

	_, err = testStore.LatestSnapshot(ctx, name)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, testStore.SaveSnapshot(ctx, name, "", []byte(`[{"role":"user","content":"old"}]`)))
	require.NoError(t, testStore.SaveSnapshot(ctx, name, "run-2", []byte(`[{"role":"user","content":"new"}]`)))
	data, err := testStore.LatestSnapshot(ctx, name)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","content":"new"}]`, string(data))
}

func TestPGVectorCollections(t *testing.T) {
	ctx := context.Background()
	base, err := vectorstore.NewPGVector(ctx, testDSN, "persona_memory")
	require.NoError(t, err)
	defer base.Close()

	ana := base.WithCollection("persona_memory_ana")
	joe := base.WithCollection("persona_memory_joe")

	embedder := embedding.NewHashProvider(64)
	kb := rag.New(embedder, ana, rag.Options{ChunkSize: 200}, testLogger)
	require.NoError(t, kb.AddDocument(ctx, "Ana drinks green tea every afternoon.", "tea", nil))
	require.NoError(t, kb.AddDocument(ctx, "Ana rides her bicycle to the office.", "bike", nil))

	vecs, err := embedder.Embed(ctx, []string{"unrelated"})
	require.NoError(t, err)
	require.NoError(t, joe.Add(ctx, []vectorstore.Document{{ID: "x", Text: "unrelated", Embedding: vecs[0]}}))

	n, err := ana.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = joe.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := kb.Retrieve(ctx, "green tea afternoon", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Text, "green tea")
}

func TestEventBusHistoryAndSubscribe(t *testing.T) {
	bus := events.NewBusFromClient(newRedis(t), testLogger)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runID := uuid.New().String()

	sub := bus.Subscribe(ctx, runID)
	// XREAD with "$" only sees entries added after the first read starts.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, bus.PublishPayload(ctx, runID, events.RunStarted, "", map[string]any{"personas": 1}))
	require.NoError(t, bus.PublishPayload(ctx, runID, events.PersonaActed, "Joe", map[string]any{"talk": "hi"}))

	select {
	case ev := <-sub:
		assert.Equal(t, events.RunStarted, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no event from subscription")
	}

	history, err := bus.History(ctx, runID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Joe", history[1].Persona)
	assert.JSONEq(t, `{"talk":"hi"}`, string(history[1].Payload))

	cancel()
	for range sub {
	}
}

func TestRedisCacheSharesReplies(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	defer rdb.Close()

	cache := provider.NewRedisCache(rdb, "personasim:test:"+uuid.New().String()+":", time.Minute)
	backend := &pickBackend{}
	client := provider.NewClient(backend, provider.Params{Model: "test"},
		provider.RetryPolicy{MaxAttempts: 1, Wait: time.Millisecond}, testLogger, provider.WithCache(cache))

	msgs := []provider.Message{{Role: provider.RoleUser, Content: "which coffee?"}}
	first, err := client.SendMessage(ctx, msgs)
	require.NoError(t, err)
	second, err := client.SendMessage(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, backend.calls)
}

func TestGraphExportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, err := memory.NewGraphExporter(testNeo4jURI, "", "", testLogger)
	require.NoError(t, err)
	defer g.Close(ctx)
	require.NoError(t, g.Ping(ctx))

	now := time.Now()
	evs := []memory.Event{
		{Role: "user", Content: json.RawMessage(`"hello"`), Type: memory.EventStimulus, Timestamp: &now},
		memory.OmissionEvent(),
		{Role: "assistant", Content: json.RawMessage(`"hi"`), Type: memory.EventAction, Timestamp: &now},
	}
	runID := uuid.New().String()
	require.NoError(t, g.ExportTrace(ctx, runID, "Joe", evs))
	require.NoError(t, g.ExportTrace(ctx, runID, "Joe", evs))

	n, err := g.CountEvents(ctx, runID, "Joe")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSimulationPersistsEverywhere(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	bus := events.NewBusFromClient(rdb, testLogger)
	defer bus.Close()
	graph, err := memory.NewGraphExporter(testNeo4jURI, "", "", testLogger)
	require.NoError(t, err)
	defer graph.Close(ctx)

	backend := &pickBackend{}
	client := provider.NewClient(backend, provider.Params{Model: "test"},
		provider.RetryPolicy{MaxAttempts: 1, Wait: time.Millisecond}, testLogger)
	renderer := prompt.NewRenderer("", testLogger)
	factory := func(name string) *agent.Person {
		return agent.NewPerson(name, agent.Deps{Client: client, Renderer: renderer, Logger: testLogger}, agent.Options{})
	}
	runner := simulation.NewRunner(factory, agent.NewExtractor(client, renderer, testLogger), testLogger,
		simulation.WithStore(testStore),
		simulation.WithPublisher(bus),
		simulation.WithTraceExporter(graph),
	)

	sc, err := simulation.ParseScenario([]byte(scenarioYAML))
	require.NoError(t, err)
	report, err := runner.Run(ctx, sc)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "Sunrise Blend, I like light coffee", report.Results[0].Talk)

	run, err := testStore.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFinished, run.Status)

	responses, err := testStore.ListResponses(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "Joe", responses[0].Persona)
	assert.JSONEq(t, `{"ad_number": 2, "ad_title": "Sunrise Blend"}`, string(responses[0].Extraction))

	snap, err := testStore.LatestSnapshot(ctx, "Joe")
	require.NoError(t, err)
	restored := memory.NewEpisodic(0, 0)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, 3, restored.Len())

	history, err := bus.History(ctx, report.RunID)
	require.NoError(t, err)
	var types []string
	for _, ev := range history {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.RunStarted, events.PersonaActed, events.RunFinished}, types)

	n, err := graph.CountEvents(ctx, report.RunID, "Joe")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
