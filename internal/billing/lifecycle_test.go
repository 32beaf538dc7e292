package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

func TestAdvance(t *testing.T) {
	s := DefaultSettings()
	now := t0

	tests := []struct {
		name        string
		sub         subs.Subscription
		wantStatus  subs.Status
		wantEvents  []subs.EventType
		wantNotices []string
		wantGrace   *time.Time
		wantExpired bool
	}{
		{
			name:        "legacy_active_without_ends",
			sub:         subs.Subscription{Status: subs.StatusActive},
			wantStatus:  subs.StatusExpired,
			wantEvents:  []subs.EventType{subs.EventLegacyExpired},
			wantExpired: true,
		},
		{
			name:       "trial_far_from_end",
			sub:        subs.Subscription{Status: subs.StatusTrialing, TrialEndAt: at(now.Add(day(10)))},
			wantStatus: subs.StatusTrialing,
		},
		{
			name:        "trial_reminder",
			sub:         subs.Subscription{Status: subs.StatusTrialing, TrialEndAt: at(now.Add(day(2)))},
			wantStatus:  subs.StatusTrialing,
			wantNotices: []string{"TRIAL_ENDING"},
		},
		{
			name:        "period_reminder",
			sub:         subs.Subscription{Status: subs.StatusActive, CurrentPeriodEndAt: at(now.Add(day(5)))},
			wantStatus:  subs.StatusActive,
			wantNotices: []string{"PERIOD_ENDING"},
		},
		{
			name:        "trial_lapsed_into_grace",
			sub:         subs.Subscription{Status: subs.StatusTrialing, TrialEndAt: at(now.Add(-time.Hour))},
			wantStatus:  subs.StatusGrace,
			wantEvents:  []subs.EventType{subs.EventGraceStarted},
			wantNotices: []string{"TRIAL_GRACE"},
			wantGrace:   at(now.Add(-time.Hour).Add(day(3))),
		},
		{
			name:        "period_lapsed_beyond_grace",
			sub:         subs.Subscription{Status: subs.StatusActive, CurrentPeriodEndAt: at(now.Add(-day(4)))},
			wantStatus:  subs.StatusExpired,
			wantEvents:  []subs.EventType{subs.EventExpired},
			wantNotices: []string{"PERIOD_EXPIRED"},
			wantExpired: true,
		},
		{
			name: "trial_lapsed_with_paid_period",
			sub: subs.Subscription{
				Status:             subs.StatusTrialing,
				TrialEndAt:         at(now.Add(-time.Hour)),
				CurrentPeriodEndAt: at(now.Add(day(20))),
			},
			wantStatus: subs.StatusActive,
			wantEvents: []subs.EventType{subs.EventTrialConverted},
		},
		{
			name: "period_lapsed_under_running_trial",
			sub: subs.Subscription{
				Status:             subs.StatusActive,
				TrialEndAt:         at(now.Add(day(11))),
				CurrentPeriodEndAt: at(now.Add(-day(1))),
			},
			wantStatus: subs.StatusTrialing,
			wantEvents: []subs.EventType{subs.EventTrialResumed},
		},
		{
			name: "period_lapsed_grace_from_later_trial_end",
			sub: subs.Subscription{
				Status:             subs.StatusActive,
				TrialEndAt:         at(now.Add(-time.Hour)),
				CurrentPeriodEndAt: at(now.Add(-day(2))),
			},
			wantStatus:  subs.StatusGrace,
			wantEvents:  []subs.EventType{subs.EventGraceStarted},
			wantNotices: []string{"PERIOD_GRACE"},
			wantGrace:   at(now.Add(-time.Hour).Add(day(3))),
		},
		{
			name: "trial_lapsed_grace_from_later_period_end",
			sub: subs.Subscription{
				Status:             subs.StatusTrialing,
				TrialEndAt:         at(now.Add(-day(5))),
				CurrentPeriodEndAt: at(now.Add(-day(1))),
			},
			wantStatus:  subs.StatusGrace,
			wantEvents:  []subs.EventType{subs.EventGraceStarted},
			wantNotices: []string{"TRIAL_GRACE"},
			wantGrace:   at(now.Add(-day(1)).Add(day(3))),
		},
		{
			name: "grace_running",
			sub: subs.Subscription{
				Status:             subs.StatusGrace,
				CurrentPeriodEndAt: at(now.Add(-day(1))),
				GraceEndAt:         at(now.Add(day(2))),
			},
			wantStatus: subs.StatusGrace,
			wantGrace:  at(now.Add(day(2))),
		},
		{
			name: "grace_without_stored_end_is_backfilled",
			sub: subs.Subscription{
				Status:             subs.StatusGrace,
				CurrentPeriodEndAt: at(now.Add(-day(1))),
			},
			wantStatus: subs.StatusGrace,
			wantEvents: []subs.EventType{subs.EventGraceStarted},
			wantGrace:  at(now.Add(-day(1)).Add(day(3))),
		},
		{
			name: "grace_over",
			sub: subs.Subscription{
				Status:     subs.StatusGrace,
				TrialEndAt: at(now.Add(-day(5))),
				GraceEndAt: at(now.Add(-day(2))),
			},
			wantStatus:  subs.StatusExpired,
			wantEvents:  []subs.EventType{subs.EventExpired},
			wantNotices: []string{"TRIAL_EXPIRED"},
			wantExpired: true,
		},
		{
			name: "grace_cleared_by_future_end",
			sub: subs.Subscription{
				Status:             subs.StatusGrace,
				TrialEndAt:         at(now.Add(-day(1))),
				CurrentPeriodEndAt: at(now.Add(day(30))),
				GraceEndAt:         at(now.Add(day(2))),
			},
			wantStatus: subs.StatusActive,
			wantEvents: []subs.EventType{subs.EventGraceCleared},
		},
		{
			name: "pending_cancellation_skips_grace",
			sub: subs.Subscription{
				Status:             subs.StatusActive,
				CurrentPeriodEndAt: at(now.Add(-time.Hour)),
				CancelAtPeriodEnd:  true,
				CanceledAt:         at(now.Add(-day(10))),
			},
			wantStatus:  subs.StatusExpired,
			wantEvents:  []subs.EventType{subs.EventExpired},
			wantNotices: []string{"PERIOD_EXPIRED"},
			wantExpired: true,
		},
		{
			name:       "expired_untouched",
			sub:        subs.Subscription{Status: subs.StatusExpired, TrialEndAt: at(now.Add(-day(40)))},
			wantStatus: subs.StatusExpired,
		},
		{
			name:       "suspended_untouched",
			sub:        subs.Subscription{Status: subs.StatusSuspended, CurrentPeriodEndAt: at(now.Add(-day(40))), CanceledAt: at(now.Add(-day(40)))},
			wantStatus: subs.StatusSuspended,
		},
		{
			name:       "canceled_untouched",
			sub:        subs.Subscription{Status: subs.StatusCanceled, CanceledAt: at(now.Add(-day(1)))},
			wantStatus: subs.StatusCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			sub.RestaurantID = 7
			out := advance(&sub, now, s)

			assert.Equal(t, tt.wantStatus, sub.Status)
			var types []subs.EventType
			for _, ev := range out.events {
				types = append(types, ev.Type)
			}
			assert.Equal(t, tt.wantEvents, types)
			var kinds []string
			for _, n := range out.notices {
				kinds = append(kinds, n.kind)
			}
			assert.Equal(t, tt.wantNotices, kinds)
			assert.Equal(t, tt.wantExpired, out.expired)
			if tt.wantGrace == nil {
				assert.Nil(t, sub.GraceEndAt)
			} else {
				require.NotNil(t, sub.GraceEndAt)
				assert.True(t, tt.wantGrace.Equal(*sub.GraceEndAt), "grace end %s, want %s", sub.GraceEndAt, tt.wantGrace)
			}

			// a second pass at the same instant is a no-op
			again := advance(&sub, now, s)
			assert.Empty(t, again.events)
		})
	}
}

func TestAdvance_LeavesPlanAlone(t *testing.T) {
	sub := subs.Subscription{
		Plan:               subs.PlanPro,
		Status:             subs.StatusActive,
		CurrentPeriodEndAt: at(t0.Add(-day(10))),
	}
	advance(&sub, t0, DefaultSettings())

	assert.Equal(t, subs.StatusExpired, sub.Status)
	assert.Equal(t, subs.PlanPro, sub.Plan)
}

func TestReminder_DaysLeft(t *testing.T) {
	sub := &subs.Subscription{RestaurantID: 3}
	tr := trialTrack(t0.Add(day(2)+time.Hour), DefaultSettings())

	n := reminder(sub, tr, t0)

	assert.Equal(t, "TRIAL_ENDING", n.kind)
	assert.Contains(t, n.body, "3 day(s) left")
	assert.Equal(t, "TRIAL_ENDING:3:2026-03-01", n.meta["dedup_key"])
}
