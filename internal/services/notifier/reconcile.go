package notifier

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
)

// Summary aggregates one reconciliation pass.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Reconciler re-drives notifications left pending (crash between
// persist and dispatch) or scheduled with an elapsed send time. It is
// both timer-driven and exposed for on-demand runs.
type Reconciler struct {
	log    *zap.Logger
	store  notification.Store
	engine *Engine
	clock  func() time.Time
}

func NewReconciler(log *zap.Logger, store notification.Store, engine *Engine) *Reconciler {
	return &Reconciler{
		log:    log.With(zap.String("component", "notifier.reconcile")),
		store:  store,
		engine: engine,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) WithClock(clk func() time.Time) *Reconciler {
	if clk == nil {
		return r
	}
	cp := *r
	cp.clock = clk
	return &cp
}

// Run executes one pass: pending first, then due-scheduled, each item
// dispatched sequentially. A per-item failure is logged and counted,
// never aborts the rest of the batch.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	tr := otel.Tracer("notifier.reconcile")
	ctx, span := tr.Start(ctx, "reconcile.run")
	defer span.End()

	pending, err := r.store.ListByState(ctx, notification.StatePending)
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("list pending: %w", err)
	}
	due, err := r.store.ListScheduledDue(ctx, r.clock())
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("list due scheduled: %w", err)
	}

	batch := make([]*notification.Notification, 0, len(pending)+len(due))
	batch = append(batch, pending...)
	batch = append(batch, due...)

	var sum Summary
	for _, n := range batch {
		sum.Processed++
		if _, err := r.engine.Dispatch(ctx, n.ID); err != nil {
			sum.Failed++
			r.log.Warn("reconcile dispatch failed", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		sum.Succeeded++
	}

	span.SetAttributes(
		attribute.Int("batch.processed", sum.Processed),
		attribute.Int("batch.succeeded", sum.Succeeded),
		attribute.Int("batch.failed", sum.Failed),
	)
	if sum.Processed > 0 {
		r.log.Info("reconcile pass",
			zap.Int("processed", sum.Processed),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("failed", sum.Failed),
		)
	}
	return sum, nil
}
