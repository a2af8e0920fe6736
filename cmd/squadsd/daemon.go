package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fluxhive/squads/internal/adapters/github"
	"github.com/fluxhive/squads/internal/backend"
	"github.com/fluxhive/squads/internal/bus"
	"github.com/fluxhive/squads/internal/cadence"
	"github.com/fluxhive/squads/internal/cadenceloop"
	"github.com/fluxhive/squads/internal/config"
	"github.com/fluxhive/squads/internal/executor"
	"github.com/fluxhive/squads/internal/feedback"
	"github.com/fluxhive/squads/internal/identity"
	"github.com/fluxhive/squads/internal/intake"
	"github.com/fluxhive/squads/internal/logging"
	otelpkg "github.com/fluxhive/squads/internal/otel"
	"github.com/fluxhive/squads/internal/push"
	"github.com/fluxhive/squads/internal/storeclient"
	"github.com/fluxhive/squads/internal/supervisor"
)

const deviceTokenRole = "store"

// runDaemon wires every component the daemon composes and runs them until
// ctx is cancelled, then shuts down in reverse order.
func runDaemon(ctx context.Context, cfg config.Config) int {
	logger, closer, err := logging.New(cfg.StateDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGING_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting", "version", Version, "state_dir", cfg.StateDir)

	otelProvider, err := otelpkg.Init(ctx, resolveOtelConfig())
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otelpkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	eventBus := bus.NewWithLogger(logger)

	storeToken := cfg.StoreToken
	if storeToken == "" {
		device, err := identity.LoadOrCreateDevice(cfg.StateDir)
		if err != nil {
			fatalStartup(logger, "E_IDENTITY_INIT", err)
		}
		deviceID, err := device.DeviceID()
		if err != nil {
			fatalStartup(logger, "E_IDENTITY_INIT", err)
		}
		tokens, err := identity.LoadTokenStore(cfg.StateDir)
		if err != nil {
			fatalStartup(logger, "E_IDENTITY_INIT", err)
		}
		if tok, ok := tokens.Get(deviceID, deviceTokenRole); ok {
			storeToken = tok.Token
		}
	}

	store := storeclient.New(storeclient.Config{BaseURL: cfg.StoreURL, Token: storeToken, Logger: logger})

	wsURL, cadenceIntervalMs, cadenceLimit := cfg.GatewayURL, 5_000, 20
	if handshake, err := store.Handshake(ctx); err != nil {
		logger.Warn("handshake failed, using defaults", "error", err)
	} else {
		if handshake.WSURL != "" {
			wsURL = handshake.WSURL
		}
		if handshake.CadenceLoopMs > 0 {
			cadenceIntervalMs = handshake.CadenceLoopMs
		}
		if handshake.CadenceLoopLimit > 0 {
			cadenceLimit = handshake.CadenceLoopLimit
		}
	}

	registry := backend.NewRegistry(map[string]backend.Executor{
		backend.ClaudeCLI: executor.NewCLIExecutor(cfg.ClaudeBin, logger),
		backend.CodexCLI:  executor.NewCLIExecutor(codexBin(), logger),
	})

	ghClient := github.New(os.Getenv("GITHUB_TOKEN"))
	ghAdapter := &github.Adapter{Client: ghClient}

	feedbackWorker := feedback.New(feedback.Config{
		Store: instrumentedFeedbackClient{
			Client:  feedbackStore{store: store},
			bus:     eventBus,
			metrics: metrics,
		},
		GoldenPath:  ghClient.GetGoldenPath,
		PostComment: ghClient.PostComment,
		Logger:      logger,
	})

	intakeWorker := intake.New(intake.Config{
		Store: intakeStore{store: store, bus: eventBus, metrics: metrics},
		Adapters: map[string]intake.Adapter{
			"github": ghAdapter,
		},
		Logger: logger,
	})

	cadenceScheduler := cadence.New(cadence.Scheduler{
		ListStreams:      store.ListStreams,
		GetPlaybook:      store.GetPlaybookBySlug,
		Markers:          store,
		CreateRun:        runCreator(store, eventBus, metrics, logger),
		ListCronTriggers: store.GetEnabledCronTriggers,
		Logger:           logger,
	})

	cadenceLoop := cadenceloop.New(cadenceloop.Config{
		ListPage:   listTodoPackets(store),
		Claim:      claimAndExecuteFromPacket(store, registry, cfg.Backend, cfg.RepoWorkspaceRoot, eventBus, logger),
		Limit:      cadenceLimit,
		IntervalMs: cadenceIntervalMs,
		Logger:     logger,
	})

	pushClient := push.New(push.Config{
		WSURL:      wsURL,
		MintTicket: store.MintPushTicket,
		Logger:     logger,
		OnEvent: func(ev push.Event) {
			switch ev.Kind {
			case "connected":
				eventBus.Publish(bus.TopicPushConnected, bus.PushConnectionEvent{})
			case "disconnected":
				metrics.PushReconnects.Add(ctx, 1)
				reason := ""
				if ev.Err != nil {
					reason = ev.Err.Error()
				}
				eventBus.Publish(bus.TopicPushDisconnected, bus.PushConnectionEvent{Reason: reason})
			case "task.available":
				cadenceLoop.TriggerNow()
			}
		},
	})

	sup := supervisor.New(supervisor.Config{
		ReadyTasks:         subscribeReadyTasks(ctx, store, logger),
		GetReadyTasks:      store.GetReadyTasks,
		CountByStatus:      countByStatus(store),
		Dispatch:           buildDispatch(store, registry, cfg.Backend, cfg.RepoWorkspaceRoot, metrics, eventBus),
		CheckCadences:      cadenceScheduler.CheckCadences,
		SetAdminValue:      store.SetAdminValue,
		MaxConcurrent:      cfg.MaxConcurrent,
		MaxPendingReview:   cfg.MaxPendingReview,
		AutoPauseThreshold: cfg.AutoPauseAfterNFails,
		Logger:             logger,
	})

	watcher := config.NewWatcher(cfg.StateDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	} else {
		go func() {
			for ev := range watcher.Events() {
				logger.Info("config reload detected", "path", ev.Path)
			}
		}()
	}

	sup.Start(ctx)
	go feedbackWorker.Run(ctx)
	go intakeWorker.Run(ctx)
	pushClient.Start(ctx)
	cadenceLoop.Start(ctx)

	logger.Info("daemon ready")
	<-ctx.Done()

	logger.Info("shutting down")
	cadenceLoop.Stop()
	pushClient.Stop()
	sup.Stop()
	eventBus.Close()

	return 0
}

// resolveOtelConfig builds an otelpkg.Config from the small set of
// environment variables squadsd recognizes for telemetry export, defaulting
// to disabled (noop providers) when SQUAD_OTEL_ENABLED is unset.
func resolveOtelConfig() otelpkg.Config {
	enabled := os.Getenv("SQUAD_OTEL_ENABLED") == "1" || os.Getenv("SQUAD_OTEL_ENABLED") == "true"
	return otelpkg.Config{
		Enabled:     enabled,
		Exporter:    envOr("SQUAD_OTEL_EXPORTER", "stdout"),
		Endpoint:    os.Getenv("SQUAD_OTEL_ENDPOINT"),
		ServiceName: envOr("SQUAD_OTEL_SERVICE_NAME", "squadsd"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
