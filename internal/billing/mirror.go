package billing

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"

	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// syncMirror writes plan to the restaurant record, retrying transient
// failures. A final failure is logged and counted but never undoes the
// transition that produced plan; the next sweep heals the drift.
func (e *Engine) syncMirror(ctx context.Context, rs *restaurants.Restaurant, plan subs.Plan) error {
	if rs.Plan == plan {
		return nil
	}
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		err := e.tenants.SetPlan(ctx, rs.ID, plan)
		if err == nil || errors.Is(err, restaurants.ErrNotFound) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		e.metrics.MirrorFailed()
		e.log.Error("plan mirror sync failed",
			"restaurant_id", rs.ID,
			"from", rs.Plan,
			"to", plan,
			"err", err,
		)
		return err
	}
	e.log.Debug("plan mirror synced", "restaurant_id", rs.ID, "from", rs.Plan, "to", plan)
	rs.Plan = plan
	return nil
}
