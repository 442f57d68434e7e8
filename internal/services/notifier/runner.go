package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "github.com/educapro/notifier/internal/config/notifier"
)

var (
	mScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_scans_total",
		Help: "Completed scan cycles, by loop.",
	}, []string{"loop"})
	mScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_scan_errors_total",
		Help: "Scan cycles aborted by an upstream error, by loop.",
	}, []string{"loop"})
	mRemindersFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_reminders_fired_total",
		Help: "Reminder notifications created by the scanner.",
	})
	mReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_reconciled_total",
		Help: "Notifications re-driven by reconciliation, by outcome.",
	}, []string{"outcome"})
	mLoopDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifier_loop_duration_seconds",
		Help:    "Scan cycle duration, by loop.",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})
)

// Runner drives the two independent periodic loops: the hourly
// reminder scan and the reconciliation pass every few minutes, plus one
// delayed reminder scan shortly after start. The loops may overlap in
// wall-clock time; the engine tolerates that.
type Runner struct {
	log        *zap.Logger
	reminders  *ReminderScanner
	reconciler *Reconciler
	cfg        *config.Sched
}

func NewRunner(log *zap.Logger, reminders *ReminderScanner, reconciler *Reconciler, cfg *config.Sched) *Runner {
	return &Runner{
		log:        log.With(zap.String("component", "notifier.runner")),
		reminders:  reminders,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

func (r *Runner) remind(ctx context.Context) {
	start := time.Now()
	res, err := r.reminders.Scan(ctx)
	if err != nil {
		mScanErrors.WithLabelValues("reminder").Inc()
		r.log.Warn("reminder scan aborted", zap.Error(err))
		return
	}
	mScans.WithLabelValues("reminder").Inc()
	mRemindersFired.Add(float64(res.Reminders))
	mLoopDur.WithLabelValues("reminder").Observe(time.Since(start).Seconds())
	if res.Reminders > 0 || res.Errors > 0 {
		r.log.Info("reminder scan",
			zap.Int("tasks", res.Tasks),
			zap.Int("reminders", res.Reminders),
			zap.Int("errors", res.Errors),
		)
	}
}

func (r *Runner) reconcile(ctx context.Context) {
	start := time.Now()
	sum, err := r.reconciler.Run(ctx)
	if err != nil {
		mScanErrors.WithLabelValues("reconcile").Inc()
		r.log.Warn("reconcile pass aborted", zap.Error(err))
		return
	}
	mScans.WithLabelValues("reconcile").Inc()
	mReconciled.WithLabelValues("succeeded").Add(float64(sum.Succeeded))
	mReconciled.WithLabelValues("failed").Add(float64(sum.Failed))
	mLoopDur.WithLabelValues("reconcile").Observe(time.Since(start).Seconds())
}

// Run blocks until ctx is canceled, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.ReminderSpec, func() { r.remind(ctx) }); err != nil {
		return fmt.Errorf("reminder spec %q: %w", r.cfg.ReminderSpec, err)
	}
	if _, err := c.AddFunc(r.cfg.ReconcileSpec, func() { r.reconcile(ctx) }); err != nil {
		return fmt.Errorf("reconcile spec %q: %w", r.cfg.ReconcileSpec, err)
	}

	// one early scan so a fresh deploy doesn't wait for the next cron slot
	startup := time.AfterFunc(r.cfg.StartupDelay, func() { r.remind(ctx) })
	defer startup.Stop()

	c.Start()
	r.log.Info("runner started",
		zap.String("reminder_spec", r.cfg.ReminderSpec),
		zap.String("reconcile_spec", r.cfg.ReconcileSpec),
		zap.Duration("startup_delay", r.cfg.StartupDelay),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("runner stopped")
	return ctx.Err()
}
