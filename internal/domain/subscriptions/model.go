package subscriptions

import (
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanBasic Plan = "BASIC"
	PlanPro   Plan = "PRO"
)

// PlanFor maps the entitlement decision onto the mirrored plan flag.
func PlanFor(entitled bool) Plan {
	if entitled {
		return PlanPro
	}
	return PlanBasic
}

// Subscription is the per-restaurant entitlement record. One row per restaurant.
type Subscription struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID int64     `json:"restaurant_id"`
	Plan         Plan      `json:"plan"`
	Status       Status    `json:"status"`

	TrialStartAt *time.Time `json:"trial_start_at,omitempty"`
	TrialEndAt   *time.Time `json:"trial_end_at,omitempty"`

	CurrentPeriodStartAt *time.Time `json:"current_period_start_at,omitempty"`
	CurrentPeriodEndAt   *time.Time `json:"current_period_end_at,omitempty"`

	GraceEndAt *time.Time `json:"grace_end_at,omitempty"`

	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy, timestamps included.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.TrialStartAt = cloneTime(s.TrialStartAt)
	c.TrialEndAt = cloneTime(s.TrialEndAt)
	c.CurrentPeriodStartAt = cloneTime(s.CurrentPeriodStartAt)
	c.CurrentPeriodEndAt = cloneTime(s.CurrentPeriodEndAt)
	c.GraceEndAt = cloneTime(s.GraceEndAt)
	c.CanceledAt = cloneTime(s.CanceledAt)
	return &c
}

// GraceAnchor returns the end the grace window extends: the later of the trial
// end and the paid period end. ok is false when neither is set.
func (s *Subscription) GraceAnchor() (t time.Time, ok bool) {
	if s.TrialEndAt != nil {
		t, ok = *s.TrialEndAt, true
	}
	if s.CurrentPeriodEndAt != nil && (!ok || s.CurrentPeriodEndAt.After(t)) {
		t, ok = *s.CurrentPeriodEndAt, true
	}
	return t, ok
}

// ClearCancellation drops a pending cancel-at-period-end request.
func (s *Subscription) ClearCancellation() {
	s.CancelAtPeriodEnd = false
	s.CanceledAt = nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Ptr is a small helper for optional timestamps.
func Ptr(t time.Time) *time.Time { return &t }

type EventType string

const (
	EventCreated         EventType = "CREATED"
	EventTrialStarted    EventType = "TRIAL_STARTED"
	EventTrialConverted  EventType = "TRIAL_CONVERTED"
	EventTrialResumed    EventType = "TRIAL_RESUMED"
	EventAdminSetTrial   EventType = "ADMIN_SET_TRIAL"
	EventAdminSetPaid    EventType = "ADMIN_SET_PAID"
	EventGraceStarted    EventType = "GRACE_STARTED"
	EventGraceCleared    EventType = "GRACE_CLEARED"
	EventExpired         EventType = "EXPIRED"
	EventLegacyExpired   EventType = "LEGACY_EXPIRED"
	EventSuspended       EventType = "SUSPENDED"
	EventUnsuspended     EventType = "UNSUSPENDED"
	EventCancelRequested EventType = "CANCEL_REQUESTED"
	EventForceExpired    EventType = "FORCE_EXPIRED"
	EventDailyCheckSync  EventType = "DAILY_CHECK_SYNC"
	EventAuditRepair     EventType = "AUDIT_REPAIR"
)

// GrantEvent builds the "<SOURCE>_GRANT" tag used for paid-day grants.
func GrantEvent(source string) EventType {
	return EventType(source + "_GRANT")
}

// Event is an append-only entry of the subscription history.
type Event struct {
	ID             int64          `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	Type           EventType      `json:"type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
