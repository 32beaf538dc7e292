package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Spok95/resto-billing/internal/billing"
)

// Engine is the part of billing.Engine the jobs drive.
type Engine interface {
	RunReconciliation(ctx context.Context, now time.Time) (billing.ReconcileResult, error)
	Audit(ctx context.Context, now time.Time) (billing.AuditReport, error)
}

type Config struct {
	Reconcile string
	// Audit is optional; empty disables the scheduled audit.
	Audit    string
	Location *time.Location
	// OnAudit receives every scheduled audit report, e.g. to deliver it to admins.
	OnAudit func(ctx context.Context, rep billing.AuditReport)
}

// Scheduler runs the daily reconciliation and the optional audit on cron specs.
type Scheduler struct {
	cron   *cron.Cron
	engine Engine
	log    *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(engine Engine, log *slog.Logger, cfg Config) *Scheduler {
	log = log.With("component", "scheduler")
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{cron: c, engine: engine, log: log, cfg: cfg, now: time.Now}
}

// Start registers the jobs and starts the cron loop. Jobs run with ctx so a
// shutdown interrupts a sweep between records.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Reconcile, func() { s.reconcile(ctx) }); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", s.cfg.Reconcile, err)
	}
	s.log.Info("scheduled reconciliation job", "schedule", s.cfg.Reconcile, "tz", s.cfg.Location.String())

	if s.cfg.Audit != "" {
		if _, err := s.cron.AddFunc(s.cfg.Audit, func() { s.audit(ctx) }); err != nil {
			return fmt.Errorf("schedule audit %q: %w", s.cfg.Audit, err)
		}
		s.log.Info("scheduled audit job", "schedule", s.cfg.Audit)
	}

	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.engine.RunReconciliation(ctx, s.now())
	if err != nil {
		s.log.Error("reconciliation job failed", "err", err, "changed", res.Changed)
	}
}

func (s *Scheduler) audit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := s.engine.Audit(ctx, s.now())
	if err != nil {
		s.log.Error("audit job failed", "err", err)
		return
	}
	if s.cfg.OnAudit != nil {
		s.cfg.OnAudit(ctx, rep)
	}
}
