package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Spok95/filter-ledger/internal/config"
	"github.com/Spok95/filter-ledger/internal/infra/db"
	httpx "github.com/Spok95/filter-ledger/internal/infra/http"
	"github.com/Spok95/filter-ledger/internal/infra/logger"
	"github.com/Spok95/filter-ledger/internal/infra/metrics"
	"github.com/Spok95/filter-ledger/internal/infra/notify"
	"github.com/Spok95/filter-ledger/internal/service/catalog"
	"github.com/Spok95/filter-ledger/internal/service/completion"
	"github.com/Spok95/filter-ledger/internal/service/ledger"
	"github.com/Spok95/filter-ledger/internal/service/projection"
	"github.com/Spok95/filter-ledger/internal/service/workorders"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/Spok95/filter-ledger/internal/storage/memory"
	"github.com/Spok95/filter-ledger/internal/storage/postgres"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	path := flag.String("config", envOr("CONFIG_PATH", "config/example.yaml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.App.Env, cfg.App.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openStore: postgres — миграции и пул; memory — для локального запуска.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	if err := db.Migrate(cfg.Postgres.DSN); err != nil {
		return nil, nil, err
	}
	log.Info("migrations applied")

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	log.Info("db connected")
	return postgres.New(pool), pool.Close, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)

	cat, err := catalog.New(ctx, store, log, cfg.Inventory.SupportedCycles)
	if err != nil {
		return err
	}
	go cat.Refresh(ctx, cfg.Inventory.ResolverRefresh)

	opts := []ledger.Option{ledger.WithMetrics(m)}
	var docs httpx.DocumentSender
	if cfg.Telegram.Token != "" {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		log.Info("telegram authorized", "bot", api.Self.UserName)
		tg := notify.NewTelegram(api, log, cfg.Telegram.AdminChatID)
		opts = append(opts, ledger.WithNotifier(tg))
		docs = tg
	} else {
		log.Info("telegram token is empty, notifications disabled")
	}

	l := ledger.New(store, log, opts...)
	location := cfg.Inventory.DefaultLocation

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, httpx.Deps{
		Catalog:          cat,
		Ledger:           l,
		Completion:       completion.New(store, l, cat, location, log),
		WorkOrders:       workorders.New(store, l, cat, location, m, log),
		Projection:       projection.New(store, cat, cfg.Inventory.CriticalMonths, log),
		Documents:        docs,
		Location:         location,
		ProjectionMonths: cfg.Inventory.ProjectionMonths,
		Log:              log,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("graceful shutdown complete")
	return nil
}
