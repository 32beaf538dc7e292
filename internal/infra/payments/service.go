package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// ErrInvalidApproval is returned for approvals missing a payment id or restaurant.
var ErrInvalidApproval = errors.New("payments: invalid approval")

// Ledger remembers processed payment ids so a redelivered approval grants once.
type Ledger interface {
	// MarkProcessed records the payment and reports false if it was already recorded.
	MarkProcessed(ctx context.Context, paymentID string, restaurantID int64, days int) (bool, error)
	Unmark(ctx context.Context, paymentID string) error
}

// Billing is the part of billing.Engine the approval flow uses.
type Billing interface {
	OnPaidDaysApproved(ctx context.Context, restaurantID int64, days int, source string, meta map[string]any) (*subs.Subscription, error)
	GrantPeriod(ctx context.Context, restaurantID int64, source string, meta map[string]any) (*subs.Subscription, error)
	Get(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
}

// Approval is one approved payment as delivered by the payment workflow.
type Approval struct {
	PaymentID    string `json:"payment_id"`
	RestaurantID int64  `json:"restaurant_id"`
	// Days may be zero to grant one standard period.
	Days   int    `json:"days"`
	Source string `json:"source"`
}

const defaultSource = "PAYMENT"

type Service struct {
	ledger  Ledger
	billing Billing
	log     *slog.Logger
}

func NewService(ledger Ledger, billing Billing, log *slog.Logger) *Service {
	return &Service{ledger: ledger, billing: billing, log: log.With("component", "payments")}
}

// Approve grants the paid days of a. A payment id seen before is not granted
// again; the current subscription is returned with duplicate set.
func (s *Service) Approve(ctx context.Context, a Approval) (sub *subs.Subscription, duplicate bool, err error) {
	a.PaymentID = strings.TrimSpace(a.PaymentID)
	if a.PaymentID == "" || a.RestaurantID <= 0 || a.Days < 0 {
		return nil, false, fmt.Errorf("%w: payment_id, restaurant_id and non-negative days are required", ErrInvalidApproval)
	}
	if a.Source == "" {
		a.Source = defaultSource
	}

	fresh, err := s.ledger.MarkProcessed(ctx, a.PaymentID, a.RestaurantID, a.Days)
	if err != nil {
		return nil, false, fmt.Errorf("mark payment %s: %w", a.PaymentID, err)
	}
	if !fresh {
		s.log.Info("payment already processed", "payment_id", a.PaymentID, "restaurant_id", a.RestaurantID)
		sub, err := s.billing.Get(ctx, a.RestaurantID)
		return sub, true, err
	}

	meta := map[string]any{"payment_id": a.PaymentID}
	if a.Days == 0 {
		sub, err = s.billing.GrantPeriod(ctx, a.RestaurantID, a.Source, meta)
	} else {
		sub, err = s.billing.OnPaidDaysApproved(ctx, a.RestaurantID, a.Days, a.Source, meta)
	}
	if err != nil {
		// let the workflow redeliver
		if uerr := s.ledger.Unmark(ctx, a.PaymentID); uerr != nil {
			s.log.Error("failed to release payment", "payment_id", a.PaymentID, "err", uerr)
		}
		return nil, false, err
	}

	s.log.Info("payment applied",
		"payment_id", a.PaymentID,
		"restaurant_id", a.RestaurantID,
		"days", a.Days,
		"period_end_at", sub.CurrentPeriodEndAt,
	)
	return sub, false, nil
}
