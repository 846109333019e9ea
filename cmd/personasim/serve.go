package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/persona-sim/internal/agent"
	"github.com/nidhogg/persona-sim/internal/api"
	"github.com/nidhogg/persona-sim/internal/command"
	"github.com/nidhogg/persona-sim/internal/gateway"
	msgrouter "github.com/nidhogg/persona-sim/internal/router"
	"github.com/nidhogg/persona-sim/internal/simulation"
)

func serveCmd() *cobra.Command {
	var withJoe bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and chat gateways for persona interviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()
			return serve(cmd.Context(), a, withJoe)
		},
	}
	cmd.Flags().BoolVar(&withJoe, "joe", false, "register Joe the analyst at startup")
	return cmd
}

func serve(ctx context.Context, a *app, withJoe bool) error {
	logger := a.logger
	registry := agent.NewRegistry(a.newPerson, logger)
	restorePersonas(ctx, a, registry)
	if withJoe {
		if _, err := registry.Create(agent.JoeProfile()); err != nil {
			return fmt.Errorf("register joe: %w", err)
		}
	}

	gw := gateway.NewGateway(logger)
	gw.SetAvatarBase(a.cfg.Gateway.AvatarBase)
	broadcaster := gateway.NewBroadcaster(gw, logger)

	dir := command.NewDirectory(registry)
	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, dir, gw)
	command.RegisterMemoryCommands(cmds, dir)
	command.RegisterPersonaCommands(cmds, dir)

	// Wire message router BEFORE registering adapters (Register captures handler)
	var snapshots msgrouter.SnapshotSaver
	if a.store != nil {
		snapshots = a.store
	}
	router := msgrouter.New(registry, gw, snapshots, cmds, logger)
	gw.SetHandler(router.Handle)

	restAdapter := gateway.NewRESTAdapter(a.cfg.Gateway.RESTTimeoutDuration(), logger)
	gw.Register(restAdapter)
	if sc := a.cfg.Gateway.Slack; sc.Enabled && sc.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, logger))
	}
	if dc := a.cfg.Gateway.Discord; dc.Enabled && dc.BotToken != "" {
		discord := gateway.NewDiscordAdapter(dc.BotToken, logger)
		for channel, url := range dc.Webhooks {
			discord.SetWebhook(channel, url)
		}
		discord.SetAnnounceChannel(dc.AnnounceChannel)
		gw.Register(discord)
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	defer gw.Close()

	deps := api.Deps{
		Registry:    registry,
		Runner:      a.runner(simulation.WithPublisher(broadcaster)),
		Broadcaster: broadcaster,
		RESTGateway: restAdapter,
		Gateway:     gw,
	}
	if a.store != nil {
		deps.Runs = a.store
		deps.Personas = a.store
	}
	if a.bus != nil {
		deps.Events = a.bus
	}
	handler := api.NewHandler(deps, logger)

	port := a.cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("personasim listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// restorePersonas re-registers stored personas and their latest episodic
// snapshot. Failures only cost the affected persona.
func restorePersonas(ctx context.Context, a *app, registry *agent.Registry) {
	if a.store == nil {
		return
	}
	records, err := a.store.ListPersonas(ctx)
	if err != nil {
		a.logger.Warn("load personas failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		e, err := registry.Create(rec.Profile)
		if err != nil {
			a.logger.Warn("restore persona failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		data, err := a.store.LatestSnapshot(ctx, rec.Name)
		if err != nil {
			continue
		}
		if err := e.Person.Episodic().Restore(data); err != nil {
			a.logger.Warn("restore episodic memory failed", zap.String("persona", rec.Name), zap.Error(err))
		}
	}
	a.logger.Info("personas restored", zap.Int("count", len(registry.List())))
}
