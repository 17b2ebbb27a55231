package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/nowplaying/internal/arbiter"
	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/engine"
	"github.com/genricoloni/nowplaying/internal/executor"
	"github.com/genricoloni/nowplaying/internal/exporter"
	"github.com/genricoloni/nowplaying/internal/fetcher"
	"github.com/genricoloni/nowplaying/internal/monitor"
	"github.com/genricoloni/nowplaying/internal/overlay"
	"github.com/genricoloni/nowplaying/internal/process"
	"github.com/genricoloni/nowplaying/internal/processor"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// AppOptions is the complete dependency graph of the daemon
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		clockwork.NewRealClock,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),

		// Artwork
		fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
		fx.Annotate(fetcher.NewITunesResolver, fx.As(new(domain.ArtworkResolver))),
		fx.Annotate(processor.NewCoverProcessor, fx.As(new(domain.ImageProcessor))),

		// Platform
		newExecutor,
		monitor.NewScreenResolution,
		fx.Annotate(process.NewScanner, fx.As(new(process.Scanner))),

		// Producers
		fx.Annotate(monitor.NewMprisMonitor, fx.As(new(domain.SessionWatcher))),
		fx.Annotate(process.NewWatcher, fx.As(new(domain.ProcessWatcher))),

		// Export
		exporter.NewFileSink,
		exporter.NewHub,
		newExporter,

		arbiter.NewArbiter,
		fx.Annotate(arbiter.NewTransport, fx.As(new(engine.Commander))),
		newController,
		newEngine,
	),
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// newExecutor opens the platform executor and closes it with the app.
// It is exposed under each narrow interface its consumers ask for.
func newExecutor(lc fx.Lifecycle, logger *zap.Logger) (
	domain.Executor,
	process.WindowLister,
	arbiter.KeyPresser,
	overlay.CursorSource,
	error,
) {
	e, err := executor.NewExecutor(logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return e.Close()
		},
	})
	return e, e, e, e, nil
}

// newExporter fans accepted states out to the snapshot files and the overlay hub
func newExporter(sink *exporter.FileSink, hub *exporter.Hub) domain.Exporter {
	return exporter.Multi{sink, hub}
}

func newController(
	logger *zap.Logger,
	cfg domain.Config,
	cursor overlay.CursorSource,
	screen *domain.ScreenResolution,
	hub *exporter.Hub,
	clock clockwork.Clock,
) *overlay.Controller {
	return overlay.NewController(logger, cfg, cursor, screen, hub, clock)
}

func newEngine(
	logger *zap.Logger,
	cfg domain.Config,
	sessions domain.SessionWatcher,
	procs domain.ProcessWatcher,
	arb *arbiter.Arbiter,
	transport engine.Commander,
	controller *overlay.Controller,
	hub *exporter.Hub,
	sink *exporter.FileSink,
	clock clockwork.Clock,
) *engine.Engine {
	return engine.NewEngine(logger, cfg, sessions, procs, arb, transport, controller, hub, hub, sink, clock)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, eng *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Now Playing Daemon Started")
			return eng.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return eng.Stop(ctx)
		},
	})
}
