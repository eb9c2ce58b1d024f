package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bmvlink/pkg/config"
	"bmvlink/pkg/facade"
	"bmvlink/pkg/healthcheck"
	"bmvlink/pkg/logger"
	"bmvlink/pkg/publish"
	"bmvlink/pkg/recorder"
	"bmvlink/pkg/registry"
	"bmvlink/pkg/transport"
)

// Application wires the config, register table, transport, engine, facade
// and its optional side-services (recording, publishing, health) into one
// running process. Facade Pattern - simplified interface for a complex
// system, same shape as the teacher's own Application.
type Application struct {
	cfg       *config.AppConfig
	fac       *facade.Facade
	rec       *recorder.Recorder
	pub       *publish.Publisher
	publishID int
}

// NewApplication loads app-config.json and registers.yaml, opens the
// serial port, and constructs the process-wide facade.
func NewApplication(appConfigPath, registersPath string) (*Application, error) {
	cfg, err := config.LoadAppConfig(appConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading application config: %w", err)
	}

	logger.GlobalLogging = &cfg.Logging
	logger.LogStartup("logging initialized with level: %s", cfg.Logging.Level)

	table, err := config.LoadRegisterTable(registersPath)
	if err != nil {
		return nil, fmt.Errorf("error loading register table: %w", err)
	}
	cache := registry.NewCache()
	table.Seed(cache)
	logger.LogInfo("registered %d descriptors from %s", len(table), registersPath)

	port, err := transport.OpenPort(transport.DefaultConfig(cfg.Serial.Device))
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", cfg.Serial.Device, err)
	}

	app := &Application{cfg: cfg}

	if cfg.Recording.Enabled {
		rec, err := recorder.Open(cfg.Recording.Path)
		if err != nil {
			return nil, fmt.Errorf("error opening recording file: %w", err)
		}
		app.rec = rec
		port = recorder.WrapPort(port, rec)
		logger.LogInfo("recording raw lines to %s", cfg.Recording.Path)
	}

	fac, err := facade.OpenWithPort(port, cache, cfg.ToEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("error constructing protocol facade: %w", err)
	}
	app.fac = fac

	if cfg.Publish.Enabled {
		app.pub = publish.NewPublisher(cfg.Publish)
	}

	return app, nil
}

// Start connects any optional side-services, brings up the engine loop and
// begins serving the health endpoint if configured.
func (app *Application) Start(ctx context.Context) error {
	logger.LogInfo("starting bmvlink...")

	if app.pub != nil {
		if err := app.pub.Connect(ctx); err != nil {
			return fmt.Errorf("error connecting publisher: %w", err)
		}
		id, err := app.fac.RegisterListener("ChangeList", app.pub.ChangeListListener())
		if err != nil {
			return fmt.Errorf("error registering publish listener: %w", err)
		}
		app.publishID = id
		app.fac.Engine().SetDiagnosticPublisher(app.pub)
	}

	app.fac.Start(ctx)

	if app.cfg.HealthCheck.Port != 0 {
		handler := healthcheck.NewHandler(app.fac.Engine())
		go func() {
			if err := healthcheck.ListenAndServe(app.cfg.HealthCheck.Port, handler); err != nil {
				logger.LogError("health endpoint stopped: %v", err)
			}
		}()
		logger.LogInfo("health endpoint listening on :%d", app.cfg.HealthCheck.Port)
	}

	logger.LogInfo("bmvlink started successfully")
	return nil
}

// Stop gracefully tears down the engine and any optional side-services.
func (app *Application) Stop() {
	logger.LogInfo("stopping bmvlink...")

	if app.pub != nil {
		app.fac.DeregisterListener("ChangeList", app.publishID)
		app.pub.Disconnect()
	}

	app.fac.Stop()

	if app.rec != nil {
		if err := app.rec.Close(); err != nil {
			logger.LogWarn("error closing recording file: %v", err)
		}
	}

	logger.LogInfo("bmvlink stopped")
}

func main() {
	appConfigPath := flag.String("config", "app-config.json", "path to the application config")
	registersPath := flag.String("registers", "registers.yaml", "path to the register descriptor table")
	diagnosticMode := flag.Bool("diagnostic", false, "run a single ping/version diagnostic and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app, err := NewApplication(*appConfigPath, *registersPath)
	if err != nil {
		logger.LogError("application creation error: %v", err)
		os.Exit(1)
	}

	if *diagnosticMode {
		if err := app.runDiagnostic(ctx); err != nil {
			logger.LogError("diagnostic failed: %v", err)
			os.Exit(1)
		}
		logger.LogInfo("diagnostic completed successfully")
		return
	}

	if err := app.Start(ctx); err != nil {
		logger.LogError("application start error: %v", err)
		os.Exit(1)
	}

	<-sigChan
	logger.LogInfo("stop signal received...")
	app.Stop()
}

// runDiagnostic starts the engine for five seconds, enqueues a ping and a
// version query, logs the engine's frame and timeout counters, then shuts
// down.
func (app *Application) runDiagnostic(ctx context.Context) error {
	diagCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	app.fac.Start(diagCtx)
	defer app.fac.Stop()

	if err := app.fac.Ping(false); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := app.fac.AppVersion(false); err != nil {
		return fmt.Errorf("version query: %w", err)
	}

	<-diagCtx.Done()
	snap := app.fac.Diagnostics()
	logger.LogInfo("frames committed: %d, frames rejected: %d, timeouts: %d",
		snap.FramesCommitted, snap.FramesRejected, snap.Timeouts)
	return nil
}
