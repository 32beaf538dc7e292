package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Spok95/resto-billing/internal/billing"
	"github.com/Spok95/resto-billing/internal/bot"
	"github.com/Spok95/resto-billing/internal/config"
	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	"github.com/Spok95/resto-billing/internal/domain/subscriptions"
	"github.com/Spok95/resto-billing/internal/infra/db"
	httpx "github.com/Spok95/resto-billing/internal/infra/http"
	"github.com/Spok95/resto-billing/internal/infra/logger"
	"github.com/Spok95/resto-billing/internal/infra/metrics"
	"github.com/Spok95/resto-billing/internal/infra/payments"
	"github.com/Spok95/resto-billing/internal/scheduler"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		log.Error("invalid timezone", "timezone", cfg.App.Timezone, "err", err)
		return
	}

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	var api *tgbotapi.BotAPI
	var notifier billing.Notifier = bot.NewLogNotifier(log)
	if cfg.Telegram.Token != "" {
		api, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error("telegram init failed", "err", err)
			return
		}
		notifier = bot.NewNotifier(api)
		log.Info("telegram authorized", "username", api.Self.UserName)
	} else {
		log.Warn("telegram token is empty, notifications go to the log")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := billing.New(
		subscriptions.NewRepo(pool),
		restaurants.NewRepo(pool),
		notifier,
		cfg.Billing,
		log,
		billing.WithMetrics(metrics.New(reg)),
	)

	paySvc := payments.NewService(payments.NewRepo(pool), engine, log)

	schedCfg := scheduler.Config{
		Reconcile: cfg.Scheduler.Reconcile,
		Audit:     cfg.Scheduler.Audit,
		Location:  loc,
	}

	var tg *bot.Bot
	if api != nil {
		tg = bot.New(api, log, cfg.Telegram.AdminChatID, engine)
		schedCfg.OnAudit = tg.SendAuditReport
	}

	sched := scheduler.New(engine, log, schedCfg)
	if err := sched.Start(ctx); err != nil {
		log.Error("scheduler start failed", "err", err)
		return
	}
	log.Info("scheduler started", "reconcile", cfg.Scheduler.Reconcile, "audit", cfg.Scheduler.Audit)

	srv := httpx.New(httpx.Config{
		Addr:          cfg.HTTP.Addr,
		ExposeMetrics: cfg.Metrics.Enabled,
		Gatherer:      reg,
		AdminToken:    cfg.HTTP.AdminToken,
		Admin:         engine,
		Payments:      payments.NewHandler(log, paySvc),
		Log:           log,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	if tg != nil {
		go func() {
			if err := tg.Run(ctx, 60); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bot stopped", "err", err)
			}
		}()
		log.Info("bot started", "admin_chat_id", cfg.Telegram.AdminChatID)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("scheduled job still running at shutdown")
	}
	log.Info("graceful shutdown complete")
}
