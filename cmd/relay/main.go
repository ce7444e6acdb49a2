package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/rvs-verify/internal/everify"
	"github.com/xela07ax/rvs-verify/internal/faces"
	"github.com/xela07ax/rvs-verify/internal/infra"
	"github.com/xela07ax/rvs-verify/internal/journal"
	"github.com/xela07ax/rvs-verify/internal/liveness"
	"github.com/xela07ax/rvs-verify/internal/metrics"
	"github.com/xela07ax/rvs-verify/internal/relay/handler"
	"github.com/xela07ax/rvs-verify/internal/relay/server"
	"github.com/xela07ax/rvs-verify/internal/relay/service"
	"github.com/xela07ax/rvs-verify/internal/repository/postgres"
)

func main() {
	flags := pflag.NewFlagSet("relay", pflag.ExitOnError)
	cfgPath := flags.String("config", "", "path to config file (yaml)")
	migrate := flags.Bool("migrate", false, "apply database migrations before start")
	flags.String("server.host", "127.0.0.1", "listen host")
	flags.Int("server.port", 5000, "listen port")
	flags.String("logger.level", "info", "log level: debug, info, warn, error")
	flags.String("logger.format", "json", "log format: json, console")
	_ = flags.Parse(os.Args[1:])

	cfg, err := infra.LoadConfig(*cfgPath, flags)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateRelay(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(cfg, *migrate, logger); err != nil {
		logger.Fatal("relay stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, migrate bool, logger *zap.Logger) error {
	// Контекст жизни процесса: SIGINT/SIGTERM запускают graceful shutdown
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура и ресурсы
	db, err := postgres.Open(appCtx, cfg.Database.DSN(), postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := postgres.Migrate(appCtx, db); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	slot, closeSlot, err := newSlot(appCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeSlot()

	store, err := newFaceStore(appCtx, cfg.Faces)
	if err != nil {
		return err
	}
	downloader := faces.NewDownloader(&http.Client{Timeout: cfg.Faces.DownloadTimeout}, store, logger)

	// 2. Журнал вызовов: пишет пачками, не блокирует запросы
	j := journal.New(postgres.NewJournalRepo(db), cfg.Journal.BufferSize, logger,
		journal.WithBatch(cfg.Journal.BatchSize, cfg.Journal.FlushInterval),
		journal.WithBufferGauge(m.JournalBufferFill),
	)
	j.Start()

	// 3. Внешний API: лимитер + предохранитель + повторы, поверх токен
	transport := everify.NewReliabilityWrapper(
		everify.NewHTTPTransport(cfg.Everify.BaseURL, nil),
		everify.ReliabilityConfig{
			Attempts:      cfg.Everify.MaxRetries,
			RetryDelay:    cfg.Everify.RetryDelay,
			CallTimeout:   cfg.Everify.Timeout,
			RateLimit:     cfg.Everify.RateLimit,
			RateBurst:     cfg.Everify.RateBurst,
			CBMaxRequests: cfg.Everify.CBMaxRequests,
			CBInterval:    cfg.Everify.CBInterval,
			CBTimeout:     cfg.Everify.CBTimeout,
			CBMaxFailures: cfg.Everify.CBMaxFailures,
		},
		logger,
		m.CircuitBreakerState,
	)
	tokens := everify.NewTokenSource(transport, cfg.Everify.ClientID, cfg.Everify.ClientSecret, logger)
	client := everify.NewClient(transport, tokens, logger)

	// 4. Слои HTTP
	queryH := handler.NewQueryHandler(client, logger, func(kind string) {
		m.ErrorTotal.WithLabelValues(kind).Inc()
	})
	livenessH := handler.NewLivenessHandler(slot, logger)
	verificationH := handler.NewVerificationHandler(
		service.NewVerificationService(postgres.NewVerificationRepo(db), downloader, logger),
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRelayServer(logger, m, reg, j, queryH, livenessH, verificationH),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-appCtx.Done():
		logger.Info("relay stopping...")
	case err := <-errCh:
		j.Stop()
		return fmt.Errorf("listen: %w", err)
	}

	// 5. Graceful Shutdown: сначала запросы, потом журнал
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	j.Stop()
	logger.Info("relay exited properly")
	return nil
}

// newSlot: Redis, если задан адрес, иначе память процесса.
func newSlot(ctx context.Context, cfg infra.RedisConfig, logger *zap.Logger) (liveness.Slot, func(), error) {
	if !cfg.Enabled() {
		logger.Info("liveness slot: in-memory")
		return liveness.NewMemorySlot(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.Info("liveness slot: redis", zap.String("addr", cfg.Addr))
	return liveness.NewRedisSlot(rdb, cfg.SlotTTL), func() { rdb.Close() }, nil
}

func newFaceStore(ctx context.Context, cfg infra.FacesConfig) (faces.Store, error) {
	if !cfg.UseS3() {
		return faces.NewFileStore(cfg.Dir), nil
	}
	s3, err := faces.NewS3Store(ctx, faces.S3Config{
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		Prefix:       cfg.S3Prefix,
		UsePathStyle: cfg.S3Endpoint != "",
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}
