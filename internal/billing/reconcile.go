package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Scanned  int `json:"scanned"`
	Changed  int `json:"changed"`
	Orphaned int `json:"orphaned"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"`
}

// sweep runs fn for every stored subscription on a bounded pool. fn handles
// its own errors; one record never stops the others.
func (e *Engine) sweep(ctx context.Context, fn func(ctx context.Context, sub subs.Subscription)) (int, error) {
	all, err := e.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(e.settings.workers())
	for _, sub := range all {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()
	return len(all), ctx.Err()
}

// RunReconciliation re-evaluates every subscription at now, applies due
// transitions and heals plan drift. It is the daily job's entry point and is
// safe to call again at any time.
func (e *Engine) RunReconciliation(ctx context.Context, now time.Time) (ReconcileResult, error) {
	started := time.Now()
	var (
		mu  sync.Mutex
		res ReconcileResult
	)

	scanned, err := e.sweep(ctx, func(ctx context.Context, sub subs.Subscription) {
		r, err := e.reconcileOne(ctx, sub.RestaurantID, now)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			res.Failed++
			e.log.Error("reconcile failed",
				"restaurant_id", sub.RestaurantID,
				"err", err,
			)
		case r.orphan:
			res.Orphaned++
		default:
			if r.changed {
				res.Changed++
			}
			res.Notified += r.notified
		}
	})
	res.Scanned = scanned

	e.metrics.Sweep("reconcile", time.Since(started), map[string]int{
		"changed":  res.Changed,
		"orphaned": res.Orphaned,
		"failed":   res.Failed,
	})
	e.log.Info("reconciliation finished",
		"scanned", res.Scanned,
		"changed", res.Changed,
		"orphaned", res.Orphaned,
		"failed", res.Failed,
		"notified", res.Notified,
		"took", time.Since(started),
	)
	return res, err
}

type recordResult struct {
	orphan   bool
	changed  bool
	notified int
}

func (e *Engine) reconcileOne(ctx context.Context, restaurantID int64, now time.Time) (recordResult, error) {
	rs, err := e.tenants.Get(ctx, restaurantID)
	if errors.Is(err, restaurants.ErrNotFound) {
		e.log.Warn("subscription without restaurant", "restaurant_id", restaurantID)
		return recordResult{orphan: true}, nil
	}
	if err != nil {
		return recordResult{}, fmt.Errorf("load restaurant: %w", err)
	}

	var out outcome
	sub, events, err := e.store.Mutate(ctx, restaurantID, func(sub *subs.Subscription) ([]subs.Event, error) {
		out = advance(sub, now, e.settings)
		e.settlePlan(sub, rs.Plan, now, &out)
		return out.events, nil
	})
	if err != nil {
		return recordResult{}, err
	}
	e.written(sub, events, now)

	_ = e.syncMirror(ctx, rs, sub.Plan)
	for _, n := range out.notices {
		e.notify(ctx, rs, n)
	}
	return recordResult{changed: len(events) > 0, notified: len(out.notices)}, nil
}

// settlePlan brings the cached plan in line with the entitlement decision.
// When a transition already explains the change the plan is noted on that
// event; otherwise drift of the cache or the mirror gets a DAILY_CHECK_SYNC.
func (e *Engine) settlePlan(sub *subs.Subscription, mirror subs.Plan, now time.Time, out *outcome) {
	want := subs.PlanFor(IsEntitled(sub, now, e.settings.GraceDays))
	cached := sub.Plan
	sub.Plan = want

	if len(out.events) > 0 {
		last := &out.events[len(out.events)-1]
		if cached != want {
			last.Metadata["plan_before"] = string(cached)
			last.Metadata["plan_after"] = string(want)
		}
		return
	}
	if cached == want && mirror == want {
		return
	}

	before := cached
	if mirror != want {
		before = mirror
	}
	out.record(subs.EventDailyCheckSync, now, map[string]any{
		"before":      string(before),
		"after":       string(want),
		"cached_plan": string(cached),
		"mirror_plan": string(mirror),
	})
}
