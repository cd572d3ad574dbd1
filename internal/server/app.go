// Package server builds the application's dependencies from configuration
// and runs the HTTP server and chat simulator until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-emissaries/internal/api"
	"github.com/JakeFAU/spider-emissaries/internal/chat"
	"github.com/JakeFAU/spider-emissaries/internal/clock/system"
	"github.com/JakeFAU/spider-emissaries/internal/config"
	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	collyfetcher "github.com/JakeFAU/spider-emissaries/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/spider-emissaries/internal/fetcher/headless"
	"github.com/JakeFAU/spider-emissaries/internal/hash/digest"
	"github.com/JakeFAU/spider-emissaries/internal/logging"
	"github.com/JakeFAU/spider-emissaries/internal/names"
	"github.com/JakeFAU/spider-emissaries/internal/policy/blocklist"
	"github.com/JakeFAU/spider-emissaries/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/spider-emissaries/internal/publisher/pubsub"
	"github.com/JakeFAU/spider-emissaries/internal/scraper"
	gcsstorage "github.com/JakeFAU/spider-emissaries/internal/storage/gcs"
	localstorage "github.com/JakeFAU/spider-emissaries/internal/storage/local"
	memorystorage "github.com/JakeFAU/spider-emissaries/internal/storage/memory"
	pgstore "github.com/JakeFAU/spider-emissaries/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/spider-emissaries/internal/storage/sqlite"
	"github.com/JakeFAU/spider-emissaries/internal/textmodel"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     emissary.Store
	apiServer *api.Server
	simulator *chat.Simulator
	headless  *headlessfetcher.Fetcher
	publisher *gcppublisher.Publisher
	closers   []io.Closer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("archive", cfg.Archive.Backend),
	)

	if err := app.build(ctx); err != nil {
		// Release whatever was opened before the failure.
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	a.store, err = setupStore(ctx, a)
	if err != nil {
		return err
	}
	archive, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	scrape, err := setupScraper(a)
	if err != nil {
		return err
	}

	hasher, err := digest.New(a.cfg.Models.LabelHash)
	if err != nil {
		return fmt.Errorf("label hasher init failed: %w", err)
	}
	models, err := textmodel.New(textmodel.Config{
		StateSize:     a.cfg.Models.StateSize,
		SentenceTries: a.cfg.Models.SentenceTries,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, textmodel.Deps{
		Store:   a.store,
		Scraper: scrape,
		Hasher:  hasher,
		Archive: archive,
		Logger:  a.logger.Named("textmodel"),
	})
	if err != nil {
		return fmt.Errorf("model service init failed: %w", err)
	}

	a.apiServer, err = api.NewServer(*a.cfg, api.Deps{
		Store:  a.store,
		Models: models,
		Proxy:  scrape,
		Names:  names.New(nil),
		Logger: a.logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}

	if !a.cfg.Chat.Enabled {
		a.logger.Info("chat simulator disabled")
		return nil
	}
	clock := system.New()
	var pub emissary.Publisher
	if publisher != nil {
		pub = publisher
	}
	a.simulator, err = chat.New(chat.Config{
		MinDelay: a.cfg.Chat.MinDelay,
		MaxDelay: a.cfg.Chat.MaxDelay,
	}, chat.Deps{
		Store:     a.store,
		Models:    models,
		Clock:     clock,
		Sleeper:   clock,
		Publisher: pub,
		Logger:    a.logger.Named("chat"),
	})
	if err != nil {
		return fmt.Errorf("chat simulator init failed: %w", err)
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or
// SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	var wg sync.WaitGroup
	if a.simulator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("chat simulator started",
				zap.Duration("min_delay", a.cfg.Chat.MinDelay),
				zap.Duration("max_delay", a.cfg.Chat.MaxDelay),
			)
			if err := a.simulator.Run(ctx); err != nil {
				a.logger.Error("chat simulator stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	return closeErr
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.logger.Info("shutdown complete")
	// Sync fails on stderr/stdout on some platforms; ignore it.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func setupStore(ctx context.Context, app *App) (emissary.Store, error) {
	db := app.cfg.Database
	switch db.Driver {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.logger.Info("using postgres store")
		return store, nil
	case "sqlite":
		store, err := sqlitestore.Open(db.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.logger.Info("using sqlite store", zap.String("dsn", db.DSN))
		return store, nil
	default:
		app.logger.Warn("using in-memory store, data is lost on restart")
		return memorystorage.NewStore(), nil
	}
}

func setupArchive(ctx context.Context, app *App) (emissary.BlobStore, error) {
	archive := app.cfg.Archive
	switch archive.Backend {
	case "gcs":
		blobStore, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.closers = append(app.closers, blobStore)
		app.logger.Info("archiving models to GCS", zap.String("bucket", archive.Bucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(archive.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.closers = append(app.closers, blobStore)
		app.logger.Info("archiving models locally", zap.String("path", archive.Local.BaseDir))
		return blobStore, nil
	case "memory":
		app.logger.Info("archiving models in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("model archive disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (*gcppublisher.Publisher, error) {
	ps := app.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, chat events are not published")
		return nil, nil
	}
	pub, err := gcppublisher.New(ctx, ps.ProjectID, ps.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return pub, nil
}

func setupScraper(app *App) (*scraper.Scraper, error) {
	sc := app.cfg.Scraper
	collyCfg := collyfetcher.Config{
		UserAgent:     sc.UserAgent,
		RespectRobots: sc.RespectRobots,
		Timeout:       app.cfg.ScrapeTimeout(),
		MaxBodyBytes:  sc.MaxBodyBytes,
	}
	blocked := blocklist.New(sc.BlockedHosts)
	if blocked != nil {
		collyCfg.Blocked = blocked
	}
	probe := collyfetcher.New(collyCfg)
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", sc.UserAgent))

	deps := scraper.Deps{Probe: probe, Logger: app.logger.Named("scraper")}
	if app.cfg.Headless.Enabled {
		headless, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         sc.UserAgent,
			NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.headless = headless
		deps.Headless = headless
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	}
	if blocked != nil {
		deps.Blocked = blocked
		app.logger.Info("outbound blocklist enabled", zap.Strings("patterns", sc.BlockedHosts))
	}
	if sc.RateLimit.Enabled {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   sc.RateLimit.DefaultRPS,
			DefaultBurst: sc.RateLimit.DefaultBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", sc.RateLimit.DefaultRPS),
			zap.Int("default_burst", sc.RateLimit.DefaultBurst),
		)
	}

	s, err := scraper.New(scraper.Config{
		Extract:            sc.Extract,
		PromotionThreshold: app.cfg.Headless.PromotionThresh,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}
	return s, nil
}
