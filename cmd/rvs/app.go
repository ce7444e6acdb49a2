package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/infra"
	"github.com/xela07ax/rvs-verify/internal/metrics"
	"github.com/xela07ax/rvs-verify/internal/release"
	"github.com/xela07ax/rvs-verify/internal/repository/postgres"
	"github.com/xela07ax/rvs-verify/internal/users"
)

// app — собранные зависимости одной команды CLI.
type app struct {
	cfg    *infra.Config
	logger *zap.Logger
	db     *sql.DB
	rdb    *redis.Client // nil, если Redis не настроен
	reg    *prometheus.Registry

	recorder      *audit.Logger
	userRepo      *postgres.UserRepo
	actionRepo    *postgres.ActionRepo
	verifications *postgres.VerificationRepo
	userSvc       *users.Service
	releaseSvc    *release.Service
}

func newApp(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*app, error) {
	db, err := postgres.Open(ctx, cfg.Database.DSN(), postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		reg:           prometheus.NewRegistry(),
		userRepo:      postgres.NewUserRepo(db),
		actionRepo:    postgres.NewActionRepo(db),
		verifications: postgres.NewVerificationRepo(db),
	}

	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}

	m := metrics.New(a.reg)

	// Журнал аудита: проверка личности по users_list, запись отдельным соединением на попытку
	a.recorder = audit.NewLogger(
		audit.NewValidator(a.userRepo, logger),
		postgres.NewActionStore(cfg.Database.DSN(), cfg.Audit.ConnectTimeout),
		logger,
		audit.WithRetry(cfg.Audit.MaxAttempts, cfg.Audit.RetryBase),
		audit.WithTransient(postgres.IsTransient),
		audit.WithObserver(func(outcome string) {
			m.AuditWrites.WithLabelValues(outcome).Inc()
		}),
	)

	a.userSvc = users.NewService(a.userRepo, a.recorder, logger)
	a.releaseSvc = release.NewService(postgres.NewReleaseRepo(db), a.userRepo, a.recorder, logger)
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
}

func (a *app) migrate(ctx context.Context) error {
	if err := postgres.Migrate(ctx, a.db); err != nil {
		return err
	}
	fmt.Println("Migrations applied.")
	return nil
}

func (a *app) login(ctx context.Context, username, password string) (string, error) {
	if username == "" {
		return "", errors.New("operator username is required (--user or $RVS_USER)")
	}
	u, err := a.userSvc.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			return "", errors.New("authentication failed: invalid username or password")
		}
		return "", err
	}
	return u.Username, nil
}

func (a *app) registryEmpty(ctx context.Context) (bool, error) {
	list, err := a.userRepo.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	return len(list) == 0, nil
}
