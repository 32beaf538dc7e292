package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// AuditItem describes one record the audit had to look at twice.
type AuditItem struct {
	RestaurantID     int64       `json:"restaurant_id"`
	SubscriptionID   uuid.UUID   `json:"subscription_id"`
	StatusBefore     subs.Status `json:"status_before"`
	StatusAfter      subs.Status `json:"status_after,omitempty"`
	CachedPlanBefore subs.Plan   `json:"cached_plan_before,omitempty"`
	MirrorPlanBefore subs.Plan   `json:"mirror_plan_before,omitempty"`
	PlanAfter        subs.Plan   `json:"plan_after,omitempty"`
	Mismatch         bool        `json:"mismatch"`
	MirrorFixed      bool        `json:"mirror_fixed"`
	ExpirationFixed  bool        `json:"expiration_fixed"`
	Error            string      `json:"error,omitempty"`
}

// AuditReport is the result of Audit.
type AuditReport struct {
	RunAt            time.Time `json:"run_at"`
	Scanned          int       `json:"scanned"`
	Orphaned         int       `json:"orphaned"`
	MismatchesFound  int       `json:"mismatches_found"`
	MismatchesFixed  int       `json:"mismatches_fixed"`
	ExpirationsFixed int       `json:"expirations_fixed"`
	Failed           int       `json:"failed"`

	OrphanRestaurantIDs []int64     `json:"orphan_restaurant_ids"`
	Items               []AuditItem `json:"items"`
}

// Audit recomputes entitlement for every subscription, repairs lapsed
// statuses and plan drift, and reports what it found. It derives state the
// same way RunReconciliation does, so both converge on the same records.
func (e *Engine) Audit(ctx context.Context, now time.Time) (AuditReport, error) {
	started := time.Now()
	var (
		mu  sync.Mutex
		rep = AuditReport{RunAt: now}
	)

	scanned, err := e.sweep(ctx, func(ctx context.Context, sub subs.Subscription) {
		item, orphan, err := e.auditOne(ctx, sub.RestaurantID, now)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			rep.Failed++
			rep.Items = append(rep.Items, AuditItem{
				RestaurantID:   sub.RestaurantID,
				SubscriptionID: sub.ID,
				StatusBefore:   sub.Status,
				Error:          err.Error(),
			})
			e.log.Error("audit failed", "restaurant_id", sub.RestaurantID, "err", err)
		case orphan:
			rep.Orphaned++
			rep.OrphanRestaurantIDs = append(rep.OrphanRestaurantIDs, sub.RestaurantID)
		case item != nil:
			if item.Mismatch {
				rep.MismatchesFound++
				if item.MirrorFixed {
					rep.MismatchesFixed++
				}
			}
			if item.ExpirationFixed {
				rep.ExpirationsFixed++
			}
			rep.Items = append(rep.Items, *item)
		}
	})
	rep.Scanned = scanned

	sort.Slice(rep.OrphanRestaurantIDs, func(i, j int) bool { return rep.OrphanRestaurantIDs[i] < rep.OrphanRestaurantIDs[j] })
	sort.Slice(rep.Items, func(i, j int) bool { return rep.Items[i].RestaurantID < rep.Items[j].RestaurantID })

	e.metrics.Sweep("audit", time.Since(started), map[string]int{
		"mismatch":   rep.MismatchesFound,
		"expiration": rep.ExpirationsFixed,
		"orphaned":   rep.Orphaned,
		"failed":     rep.Failed,
	})
	e.log.Info("audit finished",
		"scanned", rep.Scanned,
		"orphaned", rep.Orphaned,
		"mismatches_found", rep.MismatchesFound,
		"mismatches_fixed", rep.MismatchesFixed,
		"expirations_fixed", rep.ExpirationsFixed,
		"failed", rep.Failed,
	)
	return rep, err
}

// auditOne returns a nil item when the record needed nothing.
func (e *Engine) auditOne(ctx context.Context, restaurantID int64, now time.Time) (*AuditItem, bool, error) {
	rs, err := e.tenants.Get(ctx, restaurantID)
	if errors.Is(err, restaurants.ErrNotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load restaurant: %w", err)
	}

	var item *AuditItem
	sub, events, err := e.store.Mutate(ctx, restaurantID, func(sub *subs.Subscription) ([]subs.Event, error) {
		it := AuditItem{
			RestaurantID:     restaurantID,
			SubscriptionID:   sub.ID,
			StatusBefore:     sub.Status,
			CachedPlanBefore: sub.Plan,
			MirrorPlanBefore: rs.Plan,
		}
		out := advance(sub, now, e.settings)
		want := subs.PlanFor(IsEntitled(sub, now, e.settings.GraceDays))
		sub.Plan = want

		it.StatusAfter = sub.Status
		it.PlanAfter = want
		it.ExpirationFixed = out.expired
		it.Mismatch = it.CachedPlanBefore != want || it.MirrorPlanBefore != want
		if len(out.events) == 0 && !it.Mismatch {
			return nil, nil
		}
		item = &it

		steps := make([]string, 0, len(out.events))
		for _, ev := range out.events {
			steps = append(steps, string(ev.Type))
		}
		return []subs.Event{newEvent(subs.EventAuditRepair, now, map[string]any{
			"status_before":      string(it.StatusBefore),
			"status_after":       string(it.StatusAfter),
			"cached_plan_before": string(it.CachedPlanBefore),
			"mirror_plan_before": string(it.MirrorPlanBefore),
			"plan_after":         string(want),
			"steps":              steps,
		})}, nil
	})
	if err != nil {
		return nil, false, err
	}
	e.written(sub, events, now)

	if item != nil && item.Mismatch {
		item.MirrorFixed = e.syncMirror(ctx, rs, sub.Plan) == nil
	}
	return item, false, nil
}
