package billing

import (
	"time"

	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// IsEntitled reports whether sub grants PRO features at now. It is the only
// place the decision is made; the plan fields are caches of its result.
//
// The decision follows the stored status. A TRIALING or ACTIVE record past its
// end is not entitled until reconciliation moves it to GRACE, which makes it
// entitled again until the grace end. That gap between the lapse and the next
// sweep is intended: no transition is inferred here.
func IsEntitled(sub *subs.Subscription, now time.Time, graceDays int) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case subs.StatusTrialing:
		return sub.TrialEndAt != nil && now.Before(*sub.TrialEndAt)
	case subs.StatusActive:
		return sub.CurrentPeriodEndAt != nil && now.Before(*sub.CurrentPeriodEndAt)
	case subs.StatusGrace:
		end, ok := graceEnd(sub, graceDays)
		return ok && now.Before(end)
	case subs.StatusExpired, subs.StatusCanceled, subs.StatusSuspended:
		return false
	}
	return false
}

// graceEnd prefers the stored grace end. Records without one fall back to
// graceDays after the later of trial end and period end.
func graceEnd(sub *subs.Subscription, graceDays int) (time.Time, bool) {
	if sub.GraceEndAt != nil {
		return *sub.GraceEndAt, true
	}
	anchor, ok := sub.GraceAnchor()
	if !ok {
		return time.Time{}, false
	}
	return anchor.Add(days(graceDays)), true
}
