package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ensemble/internal/api"
	"ensemble/internal/board"
	"ensemble/internal/board/sqlite"
	"ensemble/internal/catalog"
	"ensemble/internal/conductor"
	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/mud"
	"ensemble/internal/notification"
	"ensemble/internal/pipeline"
	"ensemble/internal/pipeline/activities"
	pipelineworker "ensemble/internal/pipeline/worker"
	"ensemble/internal/server"
	"ensemble/internal/simulation"
	"ensemble/internal/version"
	"ensemble/internal/watcher"
)

const temporalDevServerStartTimeout = 30 * time.Second

func runServer(args []string) int {
	cfg, err := server.LoadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.ShowVersion {
		info := version.Get()
		if info.Version == "" || info.Version == "dev" {
			fmt.Fprintln(os.Stdout, "ensemble dev")
		} else {
			fmt.Fprintf(os.Stdout, "ensemble version %s\n", info.Version)
		}
		return 0
	}

	logBuffer := logging.NewEntryBuffer(logging.DefaultBufferSize)
	logLevel := logging.LevelInfo
	if cfg.Verbose {
		logLevel = logging.LevelDebug
	} else if cfg.Quiet {
		logLevel = logging.LevelWarning
	}
	logger := logging.NewLogger(logBuffer, logLevel)
	if cfg.Verbose {
		server.LogStartupFlags(logger, cfg)
	}
	logger.Info("ensemble starting", map[string]string{
		"version": version.Get().Version,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir failed", map[string]string{
			"dir":   cfg.DataDir,
			"error": err.Error(),
		})
		return 1
	}

	registry := metrics.Default

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	stopSignalWatch := watchShutdownSignals(logger, rootCancel, stopSignals)
	defer stopSignalWatch()

	coordinator := newShutdownCoordinator(logger)

	// Domain buses plus the firehose every stream endpoint reads from.
	conductorBus := event.NewBus[conductor.Event](rootCtx, event.BusOptions{Name: "conductor_events", Registry: registry, HistorySize: 64})
	simulationBus := event.NewBus[simulation.Event](rootCtx, event.BusOptions{Name: "simulation_events", Registry: registry})
	mudBus := event.NewBus[mud.Event](rootCtx, event.BusOptions{Name: "mud_events", Registry: registry})
	boardBus := event.NewBus[board.Event](rootCtx, event.BusOptions{Name: "board_events", Registry: registry})
	pipelineBus := event.NewBus[pipeline.Event](rootCtx, event.BusOptions{Name: "pipeline_events", Registry: registry})
	watcherBus := event.NewBus[watcher.Event](rootCtx, event.BusOptions{Name: "watcher_events", Registry: registry})
	firehose := event.NewBus[event.Envelope](rootCtx, event.BusOptions{Name: "firehose", Registry: registry, HistorySize: 256})
	coordinator.Add("event buses", func(context.Context) error {
		conductorBus.Close()
		simulationBus.Close()
		mudBus.Close()
		boardBus.Close()
		pipelineBus.Close()
		watcherBus.Close()
		firehose.Close()
		return nil
	})

	event.Forward(rootCtx, conductorBus, firehose, "conductor")
	event.Forward(rootCtx, simulationBus, firehose, "simulation")
	event.Forward(rootCtx, mudBus, firehose, "mud")
	event.Forward(rootCtx, boardBus, firehose, "board")
	event.Forward(rootCtx, pipelineBus, firehose, "pipeline")
	event.Forward(rootCtx, watcherBus, firehose, "watcher")
	event.Forward(rootCtx, notification.Bus(), firehose, "notification")

	cat, err := catalog.New(cfg.CatalogOverride)
	if err != nil {
		logger.Error("catalog load failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	logger.Info("catalog loaded", map[string]string{
		"templates": strconv.Itoa(len(cat.Templates())),
	})

	conductorEngine, err := conductor.NewEngine(conductor.Options{
		InitialBPM: cfg.InitialBPM,
		Bus:        conductorBus,
		Logger:     logger,
		Registry:   registry,
	})
	if err != nil {
		logger.Error("conductor init failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	go conductorEngine.Run(rootCtx)

	roster, err := simulation.LoadRoster(cfg.RosterPath)
	if err != nil {
		logger.Error("roster load failed", map[string]string{
			"path":  cfg.RosterPath,
			"error": err.Error(),
		})
		return 1
	}
	simulationEngine := simulation.NewEngine(roster, simulation.Options{
		Interval: cfg.TickInterval,
		Bus:      simulationBus,
		Logger:   logger,
		Registry: registry,
	})
	go simulationEngine.Run(rootCtx)
	logger.Info("simulation started", map[string]string{
		"characters": strconv.Itoa(len(roster)),
	})

	world, err := mud.LoadWorld(cfg.WorldPath)
	if err != nil {
		logger.Error("world load failed", map[string]string{
			"path":  cfg.WorldPath,
			"error": err.Error(),
		})
		return 1
	}
	mudEngine, err := mud.NewEngine(world, mud.Options{
		Bus:      mudBus,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		logger.Error("mud init failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}

	boardStore, err := sqlite.Open(cfg.BoardDatabasePath())
	if err != nil {
		logger.Error("board store open failed", map[string]string{
			"path":  cfg.BoardDatabasePath(),
			"error": err.Error(),
		})
		return 1
	}
	coordinator.Add("board store", func(context.Context) error {
		return boardStore.Close()
	})
	boardService, err := board.NewService(boardStore, board.ServiceOptions{
		LeaseDuration: cfg.LeaseDuration,
		Bus:           boardBus,
		Logger:        logger,
		Registry:      registry,
	})
	if err != nil {
		logger.Error("board init failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	go boardService.Run(rootCtx)

	temporalDevServer, devServerError := server.StartTemporalDevServer(&cfg, logger)
	if devServerError != nil {
		logger.Warn("temporal dev server start failed", map[string]string{
			"error": devServerError.Error(),
		})
	}
	if temporalDevServer != nil {
		coordinator.Add("temporal dev server", func(context.Context) error {
			temporalDevServer.Stop(logger)
			return nil
		})
	}
	if cfg.TemporalDevServer && !cfg.TemporalEnabled {
		logger.Warn("temporal dev server running while pipeline disabled", nil)
	}

	var workflowClient pipeline.WorkflowClient
	if cfg.TemporalEnabled {
		if temporalDevServer != nil {
			server.WaitForTemporalServer(cfg.TemporalHost, temporalDevServerStartTimeout, temporalDevServer.Done(), logger)
		}
		var clientError error
		workflowClient, clientError = pipeline.NewClient(pipeline.ClientConfig{
			HostPort:  cfg.TemporalHost,
			Namespace: cfg.TemporalNamespace,
		})
		if clientError != nil {
			logger.Warn("temporal client unavailable", map[string]string{
				"host":      cfg.TemporalHost,
				"namespace": cfg.TemporalNamespace,
				"error":     clientError.Error(),
			})
		} else {
			logger.Info("temporal client connected", map[string]string{
				"host":      cfg.TemporalHost,
				"namespace": cfg.TemporalNamespace,
			})
			coordinator.Add("temporal client", func(context.Context) error {
				workflowClient.Close()
				return nil
			})
		}
	}
	pipelineService := pipeline.NewService(workflowClient, logger)

	if workflowClient != nil {
		handlers := activities.NewDocumentActivities(cat, pipelineBus, logger)
		if workerError := pipelineworker.StartWorker(workflowClient, handlers); workerError != nil {
			logger.Warn("pipeline worker start failed", map[string]string{
				"error": workerError.Error(),
			})
		} else {
			coordinator.Add("pipeline worker", func(context.Context) error {
				pipelineworker.StopWorker()
				return nil
			})
		}
	}

	fsWatcher, err := watcher.New(watcher.Options{
		Logger:     logger,
		MaxWatches: cfg.MaxWatches,
	})
	if err != nil {
		logger.Warn("filesystem watcher unavailable", map[string]string{
			"error": err.Error(),
		})
	}
	if fsWatcher != nil {
		coordinator.Add("filesystem watcher", func(context.Context) error {
			return fsWatcher.Close()
		})
		fsWatcher.SetErrorHandler(func(watchErr error) {
			watcherBus.Publish(watcher.Event{
				EventType:  watcher.EventTypeWatchError,
				OccurredAt: time.Now().UTC(),
			})
		})
		watchRosterFile(fsWatcher, watcherBus, simulationEngine, logger, cfg.RosterPath)
		watchCatalogOverride(fsWatcher, watcherBus, cat, logger, cfg.CatalogOverride)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Conductor:    conductorEngine,
		ConductorBus: conductorBus,
		Simulation:   simulationEngine,
		Mud:          mudEngine,
		Board:        boardService,
		Pipeline:     pipelineService,
		Catalog:      cat,
		Firehose:     firehose,
		Logger:       logger,
		Registry:     registry,
		AuthToken:    cfg.AuthToken,
	})

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("ensemble listening", map[string]string{
		"addr":    httpServer.Addr,
		"version": version.Get().Version,
	})

	runner := &ServerRunner{
		Logger:          logger,
		ShutdownTimeout: httpServerShutdownTimeout,
	}
	serveFailure := runner.Run(rootCtx, ManagedServer{
		Name:     "api",
		Serve:    httpServer.ListenAndServe,
		Shutdown: httpServer.Shutdown,
	})

	rootCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer shutdownCancel()
	if err := coordinator.Run(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", map[string]string{
			"error": err.Error(),
		})
	}

	if serveFailure != nil {
		return 1
	}
	return 0
}
