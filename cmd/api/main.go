package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/history"
	"github.com/Namann-14/artifex/internal/http/handlers"
	"github.com/Namann-14/artifex/internal/http/httpapi"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/infra/credentials"
	"github.com/Namann-14/artifex/internal/infra/geoip"
	"github.com/Namann-14/artifex/internal/middleware"
	"github.com/Namann-14/artifex/internal/orchestrator"
	"github.com/Namann-14/artifex/internal/providers"
	"github.com/Namann-14/artifex/internal/providers/qwen"
	"github.com/Namann-14/artifex/internal/providers/synthetic"
	"github.com/Namann-14/artifex/internal/quota"
	"github.com/Namann-14/artifex/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx := context.Background()
	app := handlers.NewApp(cfg, logger)

	// Postgres is only dialed when a backend needs it.
	var (
		pool   *pgxpool.Pool
		runner *infra.SQLRunner
	)
	if cfg.QuotaBackend == infra.BackendPostgres || cfg.HistoryBackend == infra.BackendPostgres {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		runner = infra.NewSQLRunner(pool, logger)
		app.Checks["database"] = pool.Ping
	}

	ledger, err := buildLedger(ctx, cfg, runner, app)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.QuotaBackend).Msg("failed to build quota ledger")
	}
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if sweeper, ok := ledger.(quota.Sweeper); ok {
		go quota.RunSweeper(sweepCtx, sweeper, 2*cfg.RunWindow(), cfg.Jobs.StaleSweepInterval, logger)
	}
	store, closeHistory, err := buildHistory(cfg, runner)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.HistoryBackend).Msg("failed to open history store")
	}
	defer closeHistory()

	objects, static, err := buildObjectStore(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to build object store")
	}
	media := storage.NewMediaStore(objects, storage.MediaStoreOptions{MaxBytes: cfg.Storage.MaxBytes, Logger: &logger})

	caps, err := domain.LoadCapabilities(cfg.TierCapabilitiesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load tier capabilities")
	}

	registry, err := buildProviders(ctx, cfg, runner, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build providers")
	}
	logger.Info().Str("default", registry.Default()).Strs("providers", registry.Names()).Msg("providers ready")

	tracker := orchestrator.NewTracker(orchestrator.DefaultRetention)
	app.Generator = orchestrator.New(orchestrator.Deps{
		Ledger:       ledger,
		Providers:    registry,
		Media:        media,
		History:      store,
		Capabilities: caps,
		Policy:       orchestrator.PolicyFromConfig(cfg.Jobs),
		Observers:    []orchestrator.Observer{tracker, orchestrator.MetricsObserver{}},
		Logger:       &logger,
	})
	app.Jobs = tracker
	app.History = store
	app.Ledger = ledger
	app.Capabilities = caps

	opts := httpapi.Options{Metrics: middleware.NewMetrics("api"), Static: static}
	opts.Metrics.MustRegister(prometheus.DefaultRegisterer)

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		opts.CountryLookup = resolver.CountryCode
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, opts))

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Generations run inside their handlers, so the grace period has to cover
	// a whole run or the reservation outlives the process.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), max(cfg.HTTPIdleTimeout, cfg.RunWindow()))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if left := tracker.Wait(shutdownCtx, 250*time.Millisecond); left > 0 {
		logger.Error().Int("in_flight", left).Msg("stopping with unfinished jobs, the quota sweep will release them")
	}
	logger.Info().Msg("server stopped")
}

func buildLedger(ctx context.Context, cfg *infra.Config, runner *infra.SQLRunner, app *handlers.App) (quota.Ledger, error) {
	switch cfg.QuotaBackend {
	case infra.BackendPostgres:
		return quota.NewPostgresLedger(runner), nil
	case infra.BackendRedis:
		client, err := quota.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		app.Checks["redis"] = func(ctx context.Context) error { return pingRedis(ctx, client) }
		return quota.NewRedisLedger(client), nil
	case infra.BackendMemory:
		return quota.NewMemoryLedger(), nil
	}
	return nil, fmt.Errorf("unsupported quota backend %q", cfg.QuotaBackend)
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

func buildHistory(cfg *infra.Config, runner *infra.SQLRunner) (history.Store, func(), error) {
	switch cfg.HistoryBackend {
	case infra.BackendPostgres:
		return history.NewPostgresStore(runner), func() {}, nil
	case infra.BackendSQLite:
		store, err := history.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported history backend %q", cfg.HistoryBackend)
}

// buildObjectStore returns the media backend and, for the filesystem backend,
// the handler that serves its files.
func buildObjectStore(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (storage.ObjectStore, http.Handler, error) {
	switch cfg.Storage.Backend {
	case infra.BackendMinio:
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.Storage.MinioEndpoint,
			AccessKey: cfg.Storage.MinioAccessKey,
			SecretKey: cfg.Storage.MinioSecretKey,
			Bucket:    cfg.Storage.MinioBucket,
			UseSSL:    cfg.Storage.MinioUseSSL,
			PublicURL: cfg.Storage.MinioPublicURL,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case infra.BackendFilesystem:
		store, err := storage.NewFileStore(cfg.Storage.Path, cfg.Storage.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Handler(), nil
	}
	return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
}

// buildProviders registers qwen as the default when a DashScope key is
// available, from the environment or the integration_tokens table. The
// synthetic provider is always registered.
func buildProviders(ctx context.Context, cfg *infra.Config, runner *infra.SQLRunner, logger *infra.Logger) (*providers.Registry, error) {
	fallback := synthetic.NewClient(synthetic.Options{Logger: logger})

	var creds *credentials.Store
	if runner != nil {
		creds = credentials.NewStore(runner)
	}
	key, err := creds.Resolve(ctx, credentials.ProviderDashScope, cfg.Qwen.APIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load dashscope key from database")
	}
	if key == "" {
		logger.Warn().Msg("no dashscope key configured, serving synthetic outputs")
		return providers.NewRegistry(fallback), nil
	}

	client, err := qwen.NewClient(qwen.Options{
		APIKey:         key,
		BaseURL:        cfg.Qwen.BaseURL,
		ImageModel:     cfg.Qwen.ImageModel,
		EditModel:      cfg.Qwen.EditModel,
		VideoModel:     cfg.Qwen.VideoModel,
		Logger:         logger,
		RequestTimeout: cfg.Qwen.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return providers.NewRegistry(client, fallback), nil
}
