// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/taped/internal/api"
	"github.com/JakeFAU/taped/internal/clock/system"
	"github.com/JakeFAU/taped/internal/config"
	"github.com/JakeFAU/taped/internal/crawler"
	collyfetcher "github.com/JakeFAU/taped/internal/fetcher/colly"
	"github.com/JakeFAU/taped/internal/hash/sha256"
	"github.com/JakeFAU/taped/internal/metrics"
	"github.com/JakeFAU/taped/internal/playback"
	"github.com/JakeFAU/taped/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/taped/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/taped/internal/publisher/pubsub"
	"github.com/JakeFAU/taped/internal/storage"
	gcsstorage "github.com/JakeFAU/taped/internal/storage/gcs"
	localstorage "github.com/JakeFAU/taped/internal/storage/local"
	memorystorage "github.com/JakeFAU/taped/internal/storage/memory"
	pgstore "github.com/JakeFAU/taped/internal/storage/postgres"
	"github.com/JakeFAU/taped/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	pipeline  *crawler.Pipeline
	store     *store.Store
	player    *playback.Controller
	apiServer *api.Server

	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *gcs.Client
	pgSnapshots     *pgstore.SnapshotStore
}

// Build creates the application's dependencies. Nothing touches the
// upstream until Run or Crawl is called.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	metrics.Init()
	app.logger.Info("building application dependencies",
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
		zap.Int("server_port", cfg.Server.Port),
	)

	var err error
	app.pipeline, err = setupPipeline(app)
	if err != nil {
		return nil, err
	}

	provider, err := setupSnapshots(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	app.store, err = store.New(store.Config{
		RefreshInterval: cfg.Catalog.RefreshInterval,
		RefreshBackoff:  cfg.Catalog.RefreshBackoff,
		StartupBackoff:  cfg.Catalog.StartupBackoff,
	}, app.pipeline, provider,
		store.WithPublisher(publisher),
		store.WithHasher(sha256.New()),
		store.WithClock(clock),
		store.WithSleeper(clock),
		store.WithLogger(logger),
	)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("catalog store init failed: %w", err)
	}

	app.player, err = playback.NewController(app.store, playback.NewExecLauncher(playback.ExecConfig{
		Player: cfg.Playback.Player,
		Args:   cfg.Playback.Args,
	}), logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("playback init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.store, app.player, api.Config{
		StaticDir:      cfg.Server.StaticDir,
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger)

	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the catalog store.
func (a *App) Store() *store.Store {
	return a.store
}

// Run serves HTTP while the catalog is loaded or built and then refreshed in
// the background. It blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.store.Start(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return a.store.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	if stopErr := a.player.Stop(); stopErr != nil {
		a.logger.Warn("stop player on shutdown failed", zap.Error(stopErr))
	}
	return err
}

// Crawl runs one full build, persists it, and returns the cassette count.
func (a *App) Crawl(ctx context.Context) (int, error) {
	if err := a.store.Refresh(ctx); err != nil {
		return 0, err
	}
	snap, err := a.store.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("read published catalog: %w", err)
	}
	return len(snap.Catalog), nil
}

// Close gracefully shuts down the application.
func (a *App) Close() error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgSnapshots != nil {
		a.pgSnapshots.Close()
	}
}

func setupPipeline(app *App) (*crawler.Pipeline, error) {
	up := app.cfg.Upstream
	var opts []collyfetcher.Option
	if up.RequestsPerSecond > 0 {
		opts = append(opts, collyfetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   up.RequestsPerSecond,
			DefaultBurst: up.Burst,
		})))
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", up.RequestsPerSecond),
			zap.Int("burst", up.Burst),
		)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     up.UserAgent,
		RespectRobots: up.RespectRobots,
		Timeout:       app.cfg.UpstreamTimeout(),
		Concurrency:   up.Concurrency,
	}, opts...)
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", up.UserAgent),
		zap.Int("concurrency", up.Concurrency),
	)

	pipeline, err := crawler.NewPipeline(crawler.Config{
		BaseURL:     up.BaseURL,
		FeedPath:    up.FeedPath,
		PageSize:    up.PageSize,
		Concurrency: up.Concurrency,
	}, fetcher, app.logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return pipeline, nil
}

func setupSnapshots(ctx context.Context, app *App) (storage.Provider, error) {
	snap := app.cfg.Snapshot
	switch snap.Backend {
	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		provider, err := gcsstorage.New(client, gcsstorage.Config{Bucket: snap.GCSBucket, Object: snap.GCSObject})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot backend", zap.String("uri", provider.URI()))
		return provider, nil
	case config.BackendPostgres:
		provider, err := pgstore.New(ctx, pgstore.Config{DSN: snap.PostgresDSN, Table: snap.PostgresTable})
		if err != nil {
			return nil, fmt.Errorf("postgres snapshot store init failed: %w", err)
		}
		app.pgSnapshots = provider
		app.logger.Info("using postgres snapshot backend", zap.String("table", snap.PostgresTable))
		return provider, nil
	case config.BackendMemory:
		app.logger.Warn("using in-memory snapshot backend; the catalog is crawled on every start")
		return memorystorage.NewSnapshotStore(nil), nil
	default:
		provider, err := localstorage.New(localstorage.Config{Path: snap.Path})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		app.logger.Info("using local snapshot backend", zap.String("path", provider.Path()))
		return provider, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher, err = gcppublisher.New(app.pubsubClient, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}
