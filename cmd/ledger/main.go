package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/baharkarakas/insider-ledger/internal/config"
	"github.com/baharkarakas/insider-ledger/internal/db"
	"github.com/baharkarakas/insider-ledger/internal/logger"
	"github.com/baharkarakas/insider-ledger/internal/metrics"
	"github.com/baharkarakas/insider-ledger/internal/repository"
	"github.com/baharkarakas/insider-ledger/internal/repository/csvstore"
	"github.com/baharkarakas/insider-ledger/internal/repository/postgres"
	"github.com/baharkarakas/insider-ledger/internal/services"
)

const usage = `usage: ledger <command> [flags]

commands:
  create        -user -password [-amount]
  deposit       -user -password -amount [-details]
  withdraw      -user -password -amount [-details]
  transfer      -user -password -to -amount [-details]
  balance       -user -password
  history       -user -password [-n]
  passwd        -user -password -new
  accounts
  transactions  [-n]
  stats
  search        -term
  audit
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app is everything a command needs, built once per invocation.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	store   repository.Store
	txn     *services.TransactionService
	reports *services.ReportService
	m       *metrics.Metrics
	out     io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	log := logger.NewWithWriter(cfg.Env, stderr).With("invocation", uuid.NewString())
	slog.SetDefault(log)

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("store open", "store", cfg.Store, "err", err)
		fmt.Fprintf(stderr, "error: %v: %v\n", services.ErrStorageUnavailable, err)
		return 1
	}
	defer store.Close()

	mu := &sync.RWMutex{}
	m := metrics.New()
	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		txn:     services.NewTransactionService(store, mu, log, m, cfg.BcryptCost),
		reports: services.NewReportService(store, mu, cfg.HistoryLimit, cfg.AllHistoryLimit),
		m:       m,
		out:     stdout,
	}

	code := 0
	if err := safe(ctx, a, cmd, args[1:]); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		code = exitCode(err)
	}

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn("metrics textfile", "path", cfg.MetricsFile, "err", err)
		}
	}
	return code
}

// safe runs cmd and turns a panic into an error so the metrics textfile is
// still written and the exit code stays meaningful.
func safe(ctx context.Context, a *app, cmd command, args []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Error("panic", "err", rec)
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()
	return cmd(ctx, a, args)
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repository.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.NewStore(pool, cfg.StrictLoad, log), nil
	default:
		return csvstore.Open(csvstore.Options{Dir: cfg.DataDir, Strict: cfg.StrictLoad, Logger: log})
	}
}
