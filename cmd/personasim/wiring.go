package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/config"
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

const defaultConfigPath = "configs/personasim.json"

// app is everything a command needs, built once from the config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	client    *provider.Client
	renderer  *prompt.Renderer
	embedder  embedding.Provider
	newStore  func(ctx context.Context, persona string) (vectorstore.Store, error)
	display   *agent.Display
	store     *store.Store
	bus       *events.Bus
	graph     *memory.GraphExporter
	closers   []func()
	ctx       context.Context
	runnerOps []simulation.RunnerOption
}

// loadConfig reads the config named by --config, $CONFIG_PATH or the
// default path. A missing default file means defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if env := config.LoadEnv(); env != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "loaded environment from %s\n", env)
	}
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	return cfg.Build()
}

// newApp wires the model client, memory backends and the optional
// Postgres, Redis and Neo4j integrations. Optional integrations that fail
// to connect are logged and skipped.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, ctx: ctx}

	var rdb *redis.Client
	if cfg.Database.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Database.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(err))
			rdb.Close()
			rdb = nil
		} else {
			a.bus = events.NewBusFromClient(rdb, logger)
			a.closers = append(a.closers, func() { a.bus.Close() })
			a.runnerOps = append(a.runnerOps, simulation.WithPublisher(a.bus))
		}
	}

	backendCfg := cfg.LLM.BackendSettings()
	backend, err := provider.DefaultRegistry(logger).New(ctx, cfg.LLM.Backend, provider.BackendConfig{
		Endpoint: backendCfg.Endpoint,
		APIKey:   backendCfg.APIKey,
		Model:    backendCfg.Model,
		Timeout:  cfg.LLM.TimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}
	var clientOpts []provider.ClientOption
	if cfg.Cache.Enabled {
		switch {
		case cfg.Cache.Backend == "redis" && rdb != nil:
			clientOpts = append(clientOpts, provider.WithCache(provider.NewRedisCache(rdb, cfg.Cache.RedisPrefix, 0)))
		case cfg.Cache.Backend == "redis":
			logger.Warn("redis cache requested but Redis is unavailable, caching disabled")
		default:
			fc, err := provider.NewFileCache(cfg.Cache.File, logger)
			if err != nil {
				return nil, err
			}
			clientOpts = append(clientOpts, provider.WithCache(fc))
		}
	}
	a.client = provider.NewClient(backend, provider.Params{
		Model:            backendCfg.Model,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		TopP:             cfg.LLM.TopP,
		FrequencyPenalty: cfg.LLM.FrequencyPenalty,
		PresencePenalty:  cfg.LLM.PresencePenalty,
	}, provider.RetryPolicy{
		MaxAttempts: cfg.LLM.MaxAttempts,
		Wait:        cfg.LLM.WaitDuration(),
		Factor:      cfg.LLM.BackoffFactor,
	}, logger, clientOpts...)
	a.renderer = prompt.NewRenderer(cfg.Simulation.TemplatesDir, logger)

	a.embedder, err = embedding.New(ctx, embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, err
	}
	if err := a.wireVectorStore(ctx); err != nil {
		return nil, err
	}

	if cfg.Database.Postgres.DSN != "" {
		s, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		} else if err := s.Migrate(ctx, "migrations"); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		} else {
			a.store = s
			a.closers = append(a.closers, s.Close)
			a.runnerOps = append(a.runnerOps, simulation.WithStore(s))
		}
	}

	if neo := cfg.Database.Neo4j; neo.URI != "" {
		g, err := memory.NewGraphExporter(neo.URI, neo.User, neo.Password, logger)
		if err == nil {
			err = g.Ping(ctx)
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, traces will not be exported", zap.Error(err))
		} else {
			a.graph = g
			a.closers = append(a.closers, func() { g.Close(context.Background()) })
			a.runnerOps = append(a.runnerOps, simulation.WithTraceExporter(g))
		}
	}

	if cfg.Simulation.Display {
		a.display = agent.NewDisplay(os.Stdout)
	}
	return a, nil
}

var collectionUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// collectionFor names a persona's private collection. The random suffix
// keeps two personas with the same name apart.
func collectionFor(base, persona string) string {
	name := collectionUnsafe.ReplaceAllString(strings.ToLower(persona), "_")
	return fmt.Sprintf("%s_%s_%s", base, strings.Trim(name, "_"), uuid.New().String()[:8])
}

// wireVectorStore picks how each persona's semantic memory is indexed.
func (a *app) wireVectorStore(ctx context.Context) error {
	base := a.cfg.VectorStore.Collection
	switch a.cfg.VectorStore.Backend {
	case "qdrant":
		q, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Host: a.cfg.Database.Qdrant.Host,
			Port: a.cfg.Database.Qdrant.Port,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { q.Close() })
		a.newStore = func(ctx context.Context, persona string) (vectorstore.Store, error) {
			dim, err := a.dimension(ctx)
			if err != nil {
				return nil, err
			}
			s := q.WithCollection(collectionFor(base, persona))
			if err := s.EnsureCollection(ctx, uint64(dim)); err != nil {
				return nil, err
			}
			return s, nil
		}
	case "pgvector":
		pg, err := vectorstore.NewPGVector(ctx, a.cfg.Database.Postgres.DSN, base)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.newStore = func(_ context.Context, persona string) (vectorstore.Store, error) {
			return pg.WithCollection(collectionFor(base, persona)), nil
		}
	default:
		a.newStore = func(context.Context, string) (vectorstore.Store, error) {
			return vectorstore.NewMemory(), nil
		}
	}
	return nil
}

// dimension returns the embedding width, probing the provider once when
// it is not configured.
func (a *app) dimension(ctx context.Context) (int, error) {
	if d := a.embedder.Dimension(); d > 0 {
		return d, nil
	}
	if _, err := a.embedder.Embed(ctx, []string{"dimension probe"}); err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if d := a.embedder.Dimension(); d > 0 {
		return d, nil
	}
	return 0, errors.New("embedding provider reports no dimension")
}

// semantic builds a persona's semantic memory and loads the configured
// documents and web pages into it.
func (a *app) semantic(persona string) *memory.Semantic {
	vs, err := a.newStore(a.ctx, persona)
	if err != nil {
		a.logger.Warn("vector store unavailable, persona runs without semantic memory",
			zap.String("persona", persona), zap.Error(err))
		return nil
	}
	kb := rag.New(a.embedder, vs, rag.Options{
		ChunkSize:    a.cfg.Memory.ChunkSize,
		ChunkOverlap: a.cfg.Memory.ChunkOverlap,
	}, a.logger)
	sem := memory.NewSemantic(kb, a.logger)
	sem.AddDocumentsPaths(a.ctx, a.cfg.Memory.DocumentsPaths)
	sem.AddWebURLs(a.ctx, a.cfg.Memory.WebURLs)
	return sem
}

// newPerson is the agent.Factory every command uses.
func (a *app) newPerson(name string) *agent.Person {
	deps := agent.Deps{
		Client:   a.client,
		Renderer: a.renderer,
		Episodic: memory.NewEpisodic(a.cfg.Memory.FixedPrefixLength, a.cfg.Memory.LookbackLength),
		Semantic: a.semantic(name),
		Display:  a.display,
		Logger:   a.logger,
	}
	return agent.NewPerson(name, deps, agent.Options{
		MaxActionsBeforeDone: a.cfg.Simulation.MaxActionsBeforeDone,
		StepRetries:          a.cfg.Simulation.StepRetries,
		TopK:                 a.cfg.Memory.TopK,
		RAI: prompt.RAIToggles{
			HarmfulContent: a.cfg.Simulation.RAIHarmfulContentPrevention,
			Copyright:      a.cfg.Simulation.RAICopyrightInfringementPrevention,
		},
	})
}

func (a *app) runner(extra ...simulation.RunnerOption) *simulation.Runner {
	opts := append(append([]simulation.RunnerOption(nil), a.runnerOps...), extra...)
	return simulation.NewRunner(a.newPerson, agent.NewExtractor(a.client, a.renderer, a.logger), a.logger, opts...)
}

// Close releases every connection in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// bootstrap loads config, logger and app for a command.
func bootstrap(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logger)
}
