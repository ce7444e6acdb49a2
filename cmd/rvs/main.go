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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/rvs-verify/internal/domain"
	"github.com/xela07ax/rvs-verify/internal/infra"
)

// errNotVerified — сессия завершилась, но субъект не верифицирован (код выхода 1).
var errNotVerified = errors.New("not verified")

const usageText = `Usage: rvs [global flags] <command> [flags]

Commands:
  verify     verify a client by personal details or QR code
  release    register a document release
  audit      browse the audit log (audit tags lists action tags)
  users      manage operators: list, add, delete
  migrate    apply database migrations

Global flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := pflag.NewFlagSet("rvs", pflag.ContinueOnError)
	global.SetInterspersed(false)
	cfgPath := global.String("config", "", "path to config file (yaml)")
	username := global.StringP("user", "u", os.Getenv("RVS_USER"), "operator username (default $RVS_USER)")
	password := global.String("password", "", "operator password (default $RVS_PASSWORD)")
	metricsAddr := global.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	global.String("session.relay_url", "http://127.0.0.1:5000", "local relay base URL")
	global.String("logger.level", "info", "log level: debug, info, warn, error")
	global.String("logger.format", "json", "log format: json, console")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	if *password == "" {
		*password = os.Getenv("RVS_PASSWORD")
	}

	cfg, err := infra.LoadConfig(*cfgPath, global)
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Printf("logger: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer a.close()

	if *metricsAddr != "" {
		srv := a.serveMetrics(*metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	err = a.dispatch(ctx, cmd, cmdArgs, *username, *password)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		global.Usage()
		return 2
	case errors.Is(err, errNotVerified):
		return 1
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		return 1
	}
}

var errUsage = errors.New("unknown command")

func (a *app) dispatch(ctx context.Context, cmd string, args []string, username, password string) error {
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "users":
		// Первого оператора создаем без входа: реестр пуст
		if len(args) > 0 && args[0] == "add" {
			empty, err := a.registryEmpty(ctx)
			if err != nil {
				return err
			}
			if empty {
				return a.users(ctx, domain.SystemActor, args)
			}
		}
	case "verify", "release", "audit":
	default:
		return fmt.Errorf("%w %q", errUsage, cmd)
	}

	operator, err := a.login(ctx, username, password)
	if err != nil {
		return err
	}

	switch cmd {
	case "verify":
		return a.verify(ctx, operator, args)
	case "release":
		return a.release(ctx, operator, args)
	case "audit":
		return a.audit(ctx, operator, args)
	default:
		return a.users(ctx, operator, args)
	}
}

func (a *app) serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}
