package billing

import (
	"fmt"
	"math"
	"time"

	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// outcome collects what advance did to a record.
type outcome struct {
	events  []subs.Event
	notices []notice
	expired bool
}

func (o *outcome) record(t subs.EventType, now time.Time, meta map[string]any) {
	o.events = append(o.events, newEvent(t, now, meta))
}

// track is one of the two timelines a record can run on.
type track struct {
	name        string
	end         time.Time
	live        subs.Status
	remindDays  int
	remindKind  string
	graceKind   string
	expiredKind string
}

func trialTrack(end time.Time, s Settings) track {
	return track{
		name:        "trial",
		end:         end,
		live:        subs.StatusTrialing,
		remindDays:  s.NotifyTrialBeforeDays,
		remindKind:  "TRIAL_ENDING",
		graceKind:   "TRIAL_GRACE",
		expiredKind: "TRIAL_EXPIRED",
	}
}

func periodTrack(end time.Time, s Settings) track {
	return track{
		name:        "period",
		end:         end,
		live:        subs.StatusActive,
		remindDays:  s.NotifyPeriodBeforeDays,
		remindKind:  "PERIOD_ENDING",
		graceKind:   "PERIOD_GRACE",
		expiredKind: "PERIOD_EXPIRED",
	}
}

// trackFor picks the timeline that governs sub, if any.
func trackFor(sub *subs.Subscription, s Settings) (track, bool) {
	switch sub.Status {
	case subs.StatusTrialing:
		if sub.TrialEndAt != nil {
			return trialTrack(*sub.TrialEndAt, s), true
		}
	case subs.StatusActive:
		if sub.CurrentPeriodEndAt != nil {
			return periodTrack(*sub.CurrentPeriodEndAt, s), true
		}
		if sub.TrialEndAt != nil {
			return periodTrack(*sub.TrialEndAt, s), true
		}
	case subs.StatusGrace:
		// grace follows whichever end is later; ties go to the paid period
		p, t := sub.CurrentPeriodEndAt, sub.TrialEndAt
		if p != nil && (t == nil || !p.Before(*t)) {
			return periodTrack(*p, s), true
		}
		if t != nil {
			return trialTrack(*t, s), true
		}
	case subs.StatusExpired, subs.StatusSuspended, subs.StatusCanceled:
	}
	return track{}, false
}

// advance moves sub forward to now: legacy repair, then the trial or paid
// timeline. It does not touch the plan fields. Running it twice at the same
// instant changes nothing the second time.
func advance(sub *subs.Subscription, now time.Time, s Settings) outcome {
	var out outcome

	if sub.Status == subs.StatusActive && sub.CurrentPeriodEndAt == nil && sub.TrialEndAt == nil {
		sub.Status = subs.StatusExpired
		sub.GraceEndAt = nil
		out.record(subs.EventLegacyExpired, now, map[string]any{
			"reason": "active without period or trial end",
		})
		out.expired = true
		return out
	}

	tr, ok := trackFor(sub, s)
	if !ok {
		return out
	}
	settle(sub, tr, now, s, &out)
	return out
}

func settle(sub *subs.Subscription, tr track, now time.Time, s Settings, out *outcome) {
	if now.Before(tr.end) {
		if sub.Status == subs.StatusGrace {
			// the end moved back into the future; grace no longer applies
			sub.Status = tr.live
			sub.GraceEndAt = nil
			out.record(subs.EventGraceCleared, now, map[string]any{
				"track":  tr.name,
				"status": string(tr.live),
			})
			return
		}
		if tr.remindDays > 0 && tr.end.Sub(now) <= days(tr.remindDays) {
			out.notices = append(out.notices, reminder(sub, tr, now))
		}
		return
	}

	if tr.live == subs.StatusTrialing && sub.CurrentPeriodEndAt != nil && now.Before(*sub.CurrentPeriodEndAt) {
		sub.Status = subs.StatusActive
		sub.GraceEndAt = nil
		out.record(subs.EventTrialConverted, now, map[string]any{
			"trial_end_at":  tr.end,
			"period_end_at": *sub.CurrentPeriodEndAt,
		})
		return
	}

	if tr.live == subs.StatusActive && sub.TrialEndAt != nil && now.Before(*sub.TrialEndAt) {
		sub.Status = subs.StatusTrialing
		sub.GraceEndAt = nil
		out.record(subs.EventTrialResumed, now, map[string]any{
			"period_end_at": tr.end,
			"trial_end_at":  *sub.TrialEndAt,
		})
		return
	}

	// grace runs from the later of the two ends, whichever track lapsed
	anchor, _ := sub.GraceAnchor()
	inGrace := sub.Status == subs.StatusGrace
	graceEnd := anchor.Add(days(s.GraceDays))
	if inGrace && sub.GraceEndAt != nil {
		graceEnd = *sub.GraceEndAt
	}

	// a pending cancellation skips grace; a grace already running is honored
	if now.Before(graceEnd) && (inGrace || !sub.CancelAtPeriodEnd) {
		if inGrace && sub.GraceEndAt != nil {
			return
		}
		sub.Status = subs.StatusGrace
		sub.GraceEndAt = &graceEnd
		out.record(subs.EventGraceStarted, now, map[string]any{
			"track":        tr.name,
			"ended_at":     anchor,
			"grace_end_at": graceEnd,
			"backfill":     inGrace,
		})
		if !inGrace {
			out.notices = append(out.notices, notice{
				kind:  tr.graceKind,
				title: "PRO access in grace period",
				body:  fmt.Sprintf("Your %s has ended. PRO stays available until %s; renew to keep it.", tr.name, graceEnd.Format(time.DateOnly)),
				meta:  map[string]any{"grace_end_at": graceEnd},
			})
		}
		return
	}

	sub.Status = subs.StatusExpired
	sub.GraceEndAt = nil
	out.record(subs.EventExpired, now, map[string]any{
		"track":    tr.name,
		"ended_at": tr.end,
	})
	out.notices = append(out.notices, notice{
		kind:  tr.expiredKind,
		title: "PRO access ended",
		body:  fmt.Sprintf("Your %s has expired. The restaurant is now on the BASIC plan.", tr.name),
	})
	out.expired = true
}

func reminder(sub *subs.Subscription, tr track, now time.Time) notice {
	left := int(math.Ceil(tr.end.Sub(now).Hours() / 24))
	return notice{
		kind:  tr.remindKind,
		title: "PRO access ends soon",
		body:  fmt.Sprintf("Your %s ends on %s (%d day(s) left).", tr.name, tr.end.Format(time.DateOnly), left),
		meta: map[string]any{
			"ends_at":   tr.end,
			"dedup_key": fmt.Sprintf("%s:%d:%s", tr.remindKind, sub.RestaurantID, now.Format(time.DateOnly)),
		},
	}
}
