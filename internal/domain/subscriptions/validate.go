package subscriptions

import (
	"errors"
	"fmt"
	"time"
)

var ErrIntegrity = errors.New("subscriptions: integrity violation")

// Validate checks the record invariants. now is the write time used for the
// "end in the future" rules of TRIALING and ACTIVE; pass the zero time to skip them.
// All violations are returned joined, each wrapping ErrIntegrity.
func (s *Subscription) Validate(now time.Time) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...)))
	}

	if !s.Status.Valid() {
		bad("unknown status %q", s.Status)
	}
	if s.TrialStartAt != nil && s.TrialEndAt != nil && s.TrialStartAt.After(*s.TrialEndAt) {
		bad("trial starts after it ends")
	}
	if s.CurrentPeriodStartAt != nil && s.CurrentPeriodEndAt != nil && s.CurrentPeriodStartAt.After(*s.CurrentPeriodEndAt) {
		bad("period starts after it ends")
	}
	if s.GraceEndAt != nil {
		if s.Status != StatusGrace {
			bad("grace end set while status is %s", s.Status)
		}
		if anchor, ok := s.GraceAnchor(); ok && s.GraceEndAt.Before(anchor) {
			bad("grace ends before %s", anchor.Format(time.RFC3339))
		}
	}

	switch s.Status {
	case StatusTrialing:
		if s.TrialEndAt == nil {
			bad("trialing without trial end")
		} else if !now.IsZero() && !now.Before(*s.TrialEndAt) {
			bad("trialing with trial end in the past")
		}
	case StatusActive:
		if s.CurrentPeriodEndAt == nil {
			bad("active without period end")
		} else if !now.IsZero() && !now.Before(*s.CurrentPeriodEndAt) {
			bad("active with period end in the past")
		}
	case StatusSuspended:
		if s.CanceledAt == nil {
			bad("suspended without canceled_at")
		}
	case StatusGrace, StatusExpired, StatusCanceled:
	}

	return errors.Join(errs...)
}
