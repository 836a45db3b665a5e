// Package app wires configuration, storage and external services into the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/echolog/echolog-server/internal/analysis"
	"github.com/echolog/echolog-server/internal/billing"
	"github.com/echolog/echolog-server/internal/billing/awsce"
	"github.com/echolog/echolog-server/internal/billing/pgexport"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/blob/gcs"
	"github.com/echolog/echolog-server/internal/blob/local"
	"github.com/echolog/echolog-server/internal/blob/s3store"
	"github.com/echolog/echolog-server/internal/config"
	"github.com/echolog/echolog-server/internal/dashboard"
	"github.com/echolog/echolog-server/internal/db"
	"github.com/echolog/echolog-server/internal/events"
	"github.com/echolog/echolog-server/internal/genai/gemini"
	httpx "github.com/echolog/echolog-server/internal/http"
	"github.com/echolog/echolog-server/internal/http/api"
	"github.com/echolog/echolog-server/internal/jobs"
	"github.com/echolog/echolog-server/internal/logging"
	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/echolog/echolog-server/internal/retention"
	"github.com/echolog/echolog-server/internal/settings"
	"github.com/echolog/echolog-server/internal/speech"
	speechgoogle "github.com/echolog/echolog-server/internal/speech/google"
	"github.com/echolog/echolog-server/internal/transcription"
	"github.com/echolog/echolog-server/internal/util"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Options holds command line inputs.
type Options struct {
	ConfigPath string
}

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, opts Options) error {
	dsn, err := config.LoadDatabaseDSN(opts.ConfigPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn, db.PoolConfig{})
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the API server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if errClose := closers[i].Close(); errClose != nil {
				log.WithError(errClose).Warn("shutdown: close failed")
			}
		}
	}()

	conn, err := db.Open(cfg.Database.DSN, db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings: initial load failed, using defaults")
	}
	settings.StartRefresher(ctx, conn, cfg.Retention.SettingsRefresh)

	redisClient := newRedisClient(ctx, cfg.Redis)
	if redisClient != nil {
		closers = append(closers, redisClient)
	}

	blobs, blobCloser, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	if blobCloser != nil {
		closers = append(closers, blobCloser)
	}

	transcriber, err := speechgoogle.New(ctx, cfg.Speech.CredentialsFile)
	if err != nil {
		return fmt.Errorf("speech client: %w", err)
	}
	closers = append(closers, transcriber)

	generator, err := gemini.New(ctx, gemini.Config{
		APIKey:   cfg.GenAI.APIKey,
		Model:    cfg.GenAI.Model,
		BaseURL:  cfg.GenAI.BaseURL,
		Project:  cfg.GenAI.Project,
		Location: cfg.GenAI.Location,
		Timeout:  cfg.GenAI.Timeout,
	})
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}

	reporter, warehouseCloser, err := openReporter(ctx, cfg.Billing, redisClient)
	if err != nil {
		return err
	}
	if warehouseCloser != nil {
		closers = append(closers, warehouseCloser)
	}

	publisher := events.New(events.Config{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})
	closers = append(closers, publisher)

	var locker jobs.Locker = jobs.NoopLocker{}
	if redisClient != nil {
		locker = jobs.NewRedisLocker(redisClient)
	}

	coordinator := transcription.NewCoordinator(transcription.Options{
		DB:     conn,
		Blobs:  blobs,
		Speech: transcriber,
		SpeechConfig: speech.Config{
			LanguageCode:               cfg.Speech.LanguageCode,
			SampleRateHertz:            cfg.Speech.SampleRateHertz,
			Encoding:                   cfg.Speech.Encoding,
			Model:                      cfg.Speech.Model,
			UseEnhanced:                cfg.Speech.UseEnhanced,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Events:  publisher,
		Locker:  locker,
		TempDir: cfg.Server.TempDir,
	})

	retention.NewCleaner(conn, blobs, cfg.Retention.Interval).Start(ctx)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), httpx.CORSMiddleware(cfg.Server.CORSOrigins), httpx.RequestLogMiddleware(metrics.DefaultMetrics))

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	api.RegisterRoutes(engine, api.Deps{
		DB:          conn,
		JWTSecret:   cfg.JWT.Secret,
		JWTExpiry:   cfg.JWT.Expiry,
		Coordinator: coordinator,
		Analysis:    analysis.NewService(conn, generator, cfg.GenAI.MaxOutputTokens),
		Dashboard:   dashboard.NewService(conn),
		Billing:     reporter,
		Blobs:       blobs,
		PlaybackTTL: cfg.Storage.PlaybackURLTTL,
		MetricsPath: metricsPath,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("echolog server listening on %s (storage=%s, billing=%s)", cfg.Server.Addr, blobs.Name(), cfg.Billing.Backend)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down http server")
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

// newRedisClient connects when an address is configured. A failed ping
// disables redis instead of failing startup.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		log.WithError(errPing).Warnf("redis %s unreachable, job lock and report cache disabled", cfg.Addr)
		_ = client.Close()
		return nil
	}
	return client
}

// openBlobStore builds the configured backend. The closer may be nil.
func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, io.Closer, error) {
	storage := cfg.Storage
	switch storage.Backend {
	case config.StorageGCS:
		store, err := gcs.New(ctx, storage.Bucket, storage.Prefix, storage.CredentialsFile, storage.UploadURLTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs store: %w", err)
		}
		return store, store, nil
	case config.StorageS3:
		store, err := s3store.New(ctx, storage.Bucket, storage.Prefix, storage.AWSProfile, storage.AWSRegion, storage.UploadURLTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("s3 store: %w", err)
		}
		return store, nil, nil
	default:
		dir := storage.LocalDir
		if dir == "" {
			dir = filepath.Join(util.WritablePath(), "blobs")
		}
		baseURL := storage.PublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost" + cfg.Server.Addr
		}
		store, err := local.New(dir, storage.Prefix, baseURL, cfg.JWT.Secret, storage.UploadURLTTL)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// openReporter builds the billing reporter. With no backend the reporter is
// nil and the costs endpoint reports it as not configured.
func openReporter(ctx context.Context, cfg config.BillingConfig, cache *redis.Client) (*billing.Reporter, io.Closer, error) {
	var (
		warehouse billing.Warehouse
		closer    io.Closer
	)
	switch cfg.Backend {
	case config.BillingCostExplorer:
		ce, err := awsce.New(ctx, cfg.AWSProfile, cfg.HistoryMonths)
		if err != nil {
			return nil, nil, fmt.Errorf("cost explorer: %w", err)
		}
		warehouse = ce
	case config.BillingExport:
		export, pool, err := pgexport.Open(ctx, cfg.ExportDSN, cfg.ExportTable)
		if err != nil {
			return nil, nil, err
		}
		warehouse = export
		closer = closerFunc(pool.Close)
	default:
		return nil, nil, nil
	}
	reporter := billing.NewReporter(warehouse, cache, billing.ReporterConfig{
		WindowDays: cfg.WindowDays,
		Currency:   cfg.Currency,
		CacheTTL:   cfg.CacheTTL,
	})
	return reporter, closer, nil
}

// closerFunc adapts a no-error close func to io.Closer.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
