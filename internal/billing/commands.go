package billing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

const maxReasonLen = 500

var sourceTagRe = regexp.MustCompile(`^[A-Z0-9_]{1,32}$`)

// StartTrial puts the restaurant on a trial of TrialDays.
func (e *Engine) StartTrial(ctx context.Context, restaurantID int64) (*subs.Subscription, error) {
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if !e.settings.TrialEnabled {
		return nil, fail(ErrTrialDisabled, restaurantID, "trials are disabled")
	}

	trialDays := e.settings.TrialDays
	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		switch {
		case sub.Status == subs.StatusSuspended:
			return nil, fail(ErrAlreadySuspended, restaurantID, "subscription is suspended, contact support")
		case e.settings.TrialOnce && sub.TrialStartAt != nil:
			return nil, fail(ErrTrialAlreadyUsed, restaurantID, "trial already used on %s", sub.TrialStartAt.Format(time.DateOnly))
		case !sub.Status.Behavior().TrialReachable:
			return nil, fail(ErrInvalidStateTransition, restaurantID, "cannot start a trial from %s", sub.Status)
		}

		end := now.Add(days(trialDays))
		sub.TrialStartAt = subs.Ptr(now)
		sub.TrialEndAt = &end
		sub.Status = subs.StatusTrialing
		sub.GraceEndAt = nil
		sub.ClearCancellation()
		return []subs.Event{newEvent(subs.EventTrialStarted, now, map[string]any{
			"days":         trialDays,
			"trial_end_at": end,
		})}, nil
	})
	if err != nil {
		return nil, err
	}

	_ = e.syncMirror(ctx, rs, sub.Plan)
	e.notify(ctx, rs, notice{
		kind:  "TRIAL_STARTED",
		title: "Your PRO trial has started",
		body:  fmt.Sprintf("All PRO features are available until %s.", sub.TrialEndAt.Format(time.DateOnly)),
	})
	return sub, nil
}

// GrantDays adds paid days. Remaining paid time is kept: the days extend the
// current period when it is still running and start a new one at now otherwise.
// Callers dedupe retries with their own idempotency key before calling.
func (e *Engine) GrantDays(ctx context.Context, restaurantID int64, n int, source string, meta map[string]any) (*subs.Subscription, error) {
	if err := checkDays(restaurantID, n); err != nil {
		return nil, err
	}
	tag, err := sourceTag(restaurantID, source)
	if err != nil {
		return nil, err
	}
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		md := make(map[string]any, len(meta)+4)
		for k, v := range meta {
			md[k] = v
		}

		base := now
		if end := sub.CurrentPeriodEndAt; end != nil && end.After(now) {
			base = *end
			md["previous_end_at"] = *end
		} else {
			sub.CurrentPeriodStartAt = subs.Ptr(now)
		}
		newEnd := base.Add(days(n))
		sub.CurrentPeriodEndAt = &newEnd
		sub.Status = subs.StatusActive
		sub.GraceEndAt = nil
		sub.ClearCancellation()

		md["days"] = n
		md["source"] = tag
		md["period_end_at"] = newEnd
		return []subs.Event{newEvent(subs.GrantEvent(tag), now, md)}, nil
	})
	if err != nil {
		return nil, err
	}

	_ = e.syncMirror(ctx, rs, sub.Plan)
	e.notify(ctx, rs, notice{
		kind:  "PAID_EXTENDED",
		title: "PRO subscription extended",
		body:  fmt.Sprintf("%d days added. PRO is active until %s.", n, sub.CurrentPeriodEndAt.Format(time.DateOnly)),
		meta:  map[string]any{"days": n, "source": tag},
	})
	return sub, nil
}

// GrantPeriod grants one standard PRO period.
func (e *Engine) GrantPeriod(ctx context.Context, restaurantID int64, source string, meta map[string]any) (*subs.Subscription, error) {
	return e.GrantDays(ctx, restaurantID, e.settings.ProPeriodDays, source, meta)
}

// OnPaidDaysApproved is the entry point of the payment approval workflow.
func (e *Engine) OnPaidDaysApproved(ctx context.Context, restaurantID int64, n int, source string, meta map[string]any) (*subs.Subscription, error) {
	return e.GrantDays(ctx, restaurantID, n, source, meta)
}

// SetTrialDays makes the restaurant trial for exactly n days from now.
func (e *Engine) SetTrialDays(ctx context.Context, restaurantID int64, n int) (*subs.Subscription, error) {
	if err := checkDays(restaurantID, n); err != nil {
		return nil, err
	}
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		if sub.Status == subs.StatusSuspended {
			return nil, fail(ErrInvalidStateTransition, restaurantID, "unsuspend before changing the trial")
		}
		if sub.TrialStartAt == nil {
			sub.TrialStartAt = subs.Ptr(now)
		}
		end := now.Add(days(n))
		sub.TrialEndAt = &end
		sub.Status = subs.StatusTrialing
		sub.GraceEndAt = nil
		sub.ClearCancellation()
		return []subs.Event{newEvent(subs.EventAdminSetTrial, now, map[string]any{
			"days":         n,
			"trial_end_at": end,
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	_ = e.syncMirror(ctx, rs, sub.Plan)
	return sub, nil
}

// SetPaidDays replaces the paid period with now..now+n days.
func (e *Engine) SetPaidDays(ctx context.Context, restaurantID int64, n int) (*subs.Subscription, error) {
	if err := checkDays(restaurantID, n); err != nil {
		return nil, err
	}
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		if sub.Status == subs.StatusSuspended {
			return nil, fail(ErrInvalidStateTransition, restaurantID, "unsuspend before changing the paid period")
		}
		md := map[string]any{"days": n}
		if sub.CurrentPeriodEndAt != nil {
			md["previous_end_at"] = *sub.CurrentPeriodEndAt
		}
		end := now.Add(days(n))
		sub.CurrentPeriodStartAt = subs.Ptr(now)
		sub.CurrentPeriodEndAt = &end
		sub.Status = subs.StatusActive
		sub.GraceEndAt = nil
		sub.ClearCancellation()
		md["period_end_at"] = end
		return []subs.Event{newEvent(subs.EventAdminSetPaid, now, md)}, nil
	})
	if err != nil {
		return nil, err
	}
	_ = e.syncMirror(ctx, rs, sub.Plan)
	return sub, nil
}

// Suspend locks the restaurant out of PRO immediately. Remaining paid time is
// forfeited: the period end is clamped to now.
func (e *Engine) Suspend(ctx context.Context, restaurantID int64, reason string) (*subs.Subscription, error) {
	if err := checkReason(restaurantID, reason); err != nil {
		return nil, err
	}
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		if sub.Status == subs.StatusSuspended {
			return nil, fail(ErrAlreadySuspended, restaurantID, "already suspended")
		}
		md := map[string]any{
			"reason":          reason,
			"previous_status": string(sub.Status),
		}
		if end := sub.CurrentPeriodEndAt; end != nil && end.After(now) {
			md["clamped_period_end_at"] = *end
			sub.CurrentPeriodEndAt = subs.Ptr(now)
		}
		sub.Status = subs.StatusSuspended
		sub.GraceEndAt = nil
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = subs.Ptr(now)
		return []subs.Event{newEvent(subs.EventSuspended, now, md)}, nil
	})
	if err != nil {
		return nil, err
	}

	_ = e.syncMirror(ctx, rs, sub.Plan)
	e.notify(ctx, rs, notice{
		kind:  "SUSPENDED",
		title: "Subscription suspended",
		body:  "PRO features are disabled. Please contact support.",
		meta:  map[string]any{"reason": reason},
	})
	return sub, nil
}

// Unsuspend rebuilds the state the record would have had without the
// suspension, since the clock kept running meanwhile.
func (e *Engine) Unsuspend(ctx context.Context, restaurantID int64) (*subs.Subscription, error) {
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	graceDays := e.settings.GraceDays
	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		if sub.Status != subs.StatusSuspended {
			return nil, fail(ErrNotSuspended, restaurantID, "status is %s", sub.Status)
		}
		status, grace := resume(sub, now, graceDays)
		sub.Status = status
		sub.GraceEndAt = grace
		md := map[string]any{"status": string(status)}
		if IsEntitled(sub, now, graceDays) {
			sub.ClearCancellation()
		}
		if grace != nil {
			md["grace_end_at"] = *grace
		}
		return []subs.Event{newEvent(subs.EventUnsuspended, now, md)}, nil
	})
	if err != nil {
		return nil, err
	}
	_ = e.syncMirror(ctx, rs, sub.Plan)
	return sub, nil
}

// resume picks the status for a record coming out of suspension: a running
// paid period first, then a running trial, then the grace window after the
// later of both ends, otherwise EXPIRED.
func resume(sub *subs.Subscription, now time.Time, graceDays int) (subs.Status, *time.Time) {
	if end := sub.CurrentPeriodEndAt; end != nil && now.Before(*end) {
		return subs.StatusActive, nil
	}
	if end := sub.TrialEndAt; end != nil && now.Before(*end) {
		return subs.StatusTrialing, nil
	}
	if anchor, ok := sub.GraceAnchor(); ok {
		g := anchor.Add(days(graceDays))
		if now.Before(g) {
			return subs.StatusGrace, &g
		}
	}
	return subs.StatusExpired, nil
}

// Cancel records the intent to stop at the end of the current period. Status
// and entitlement stay as they are until reconciliation expires the record.
func (e *Engine) Cancel(ctx context.Context, restaurantID int64) (*subs.Subscription, error) {
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		if !sub.Status.Behavior().Cancelable {
			return nil, fail(ErrInvalidStateTransition, restaurantID, "cannot cancel a %s subscription", sub.Status)
		}
		if sub.CancelAtPeriodEnd {
			return nil, fail(ErrInvalidParameters, restaurantID, "cancellation already requested")
		}
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = subs.Ptr(now)
		md := map[string]any{"status": string(sub.Status)}
		if end, ok := sub.GraceAnchor(); ok {
			md["effective_at"] = end
		}
		return []subs.Event{newEvent(subs.EventCancelRequested, now, md)}, nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ForceExpire ends entitlement now regardless of state.
func (e *Engine) ForceExpire(ctx context.Context, restaurantID int64, reason string) (*subs.Subscription, error) {
	if err := checkReason(restaurantID, reason); err != nil {
		return nil, err
	}
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.apply(ctx, rs, func(sub *subs.Subscription, now time.Time) ([]subs.Event, error) {
		md := map[string]any{
			"reason":          reason,
			"previous_status": string(sub.Status),
		}
		if end := sub.CurrentPeriodEndAt; end == nil || end.After(now) {
			sub.CurrentPeriodEndAt = subs.Ptr(now)
			if start := sub.CurrentPeriodStartAt; start == nil || start.After(now) {
				sub.CurrentPeriodStartAt = subs.Ptr(now)
			}
		}
		sub.Status = subs.StatusExpired
		sub.GraceEndAt = nil
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = subs.Ptr(now)
		return []subs.Event{newEvent(subs.EventForceExpired, now, md)}, nil
	})
	if err != nil {
		return nil, err
	}

	_ = e.syncMirror(ctx, rs, sub.Plan)
	e.notify(ctx, rs, notice{
		kind:  "FORCE_EXPIRED",
		title: "Subscription ended",
		body:  "Your PRO subscription has been ended by support.",
	})
	return sub, nil
}

func sourceTag(restaurantID int64, source string) (string, error) {
	tag := strings.ToUpper(strings.TrimSpace(source))
	if !sourceTagRe.MatchString(tag) {
		return "", fail(ErrInvalidParameters, restaurantID, "invalid source tag %q", source)
	}
	return tag, nil
}

func checkDays(restaurantID int64, n int) error {
	if n <= 0 {
		return fail(ErrInvalidParameters, restaurantID, "days must be positive, got %d", n)
	}
	if n > MaxDays {
		return fail(ErrInvalidParameters, restaurantID, "days must be at most %d, got %d", MaxDays, n)
	}
	return nil
}

func checkReason(restaurantID int64, reason string) error {
	if !utf8.ValidString(reason) {
		return fail(ErrInvalidParameters, restaurantID, "reason is not valid UTF-8")
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return fail(ErrInvalidParameters, restaurantID, "reason longer than %d characters", maxReasonLen)
	}
	for _, r := range reason {
		if unicode.IsControl(r) && r != '\n' {
			return fail(ErrInvalidParameters, restaurantID, "reason contains control characters")
		}
	}
	return nil
}
