package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
	"github.com/Spok95/resto-billing/internal/infra/metrics"
)

// Store persists subscriptions and their event log.
type Store interface {
	GetByRestaurant(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	CreateIfAbsent(ctx context.Context, sub *subs.Subscription, ev subs.Event) (*subs.Subscription, bool, error)
	Mutate(ctx context.Context, restaurantID int64, fn subs.Mutation) (*subs.Subscription, []subs.Event, error)
	ListAll(ctx context.Context) ([]subs.Subscription, error)
	ListEvents(ctx context.Context, subscriptionID uuid.UUID) ([]subs.Event, error)
}

// Tenants is the restaurant record store holding the plan mirror.
type Tenants interface {
	Get(ctx context.Context, id int64) (*restaurants.Restaurant, error)
	SetPlan(ctx context.Context, id int64, plan subs.Plan) error
}

type Notification struct {
	OwnerID      int64
	OwnerChatID  int64
	RestaurantID int64
	Title        string
	Body         string
	Metadata     map[string]any
}

// Notifier delivers owner notifications. Failures never affect state.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Engine struct {
	store    Store
	tenants  Tenants
	notifier Notifier
	settings Settings
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	backoff  func() retry.Backoff
}

type Option func(*Engine)

// WithClock replaces time.Now for commands and queries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMirrorBackoff sets the retry policy for plan mirror writes.
func WithMirrorBackoff(fn func() retry.Backoff) Option {
	return func(e *Engine) { e.backoff = fn }
}

func New(store Store, tenants Tenants, notifier Notifier, settings Settings, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		tenants:  tenants,
		notifier: notifier,
		settings: settings,
		log:      log.With("component", "billing"),
		now:      time.Now,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) tenant(ctx context.Context, restaurantID int64) (*restaurants.Restaurant, error) {
	rs, err := e.tenants.Get(ctx, restaurantID)
	if errors.Is(err, restaurants.ErrNotFound) {
		return nil, fail(ErrNotFound, restaurantID, "restaurant does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("load restaurant %d: %w", restaurantID, err)
	}
	return rs, nil
}

// Ensure returns the subscription of the restaurant, creating it on first use.
func (e *Engine) Ensure(ctx context.Context, restaurantID int64) (*subs.Subscription, error) {
	rs, err := e.tenant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return e.ensure(ctx, rs)
}

func (e *Engine) ensure(ctx context.Context, rs *restaurants.Restaurant) (*subs.Subscription, error) {
	sub, err := e.store.GetByRestaurant(ctx, rs.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, subs.ErrNotFound) {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	now := e.now()
	fresh := &subs.Subscription{
		ID:           uuid.New(),
		RestaurantID: rs.ID,
		Plan:         subs.PlanBasic,
		Status:       subs.StatusExpired,
	}
	// already paying elsewhere: keep PRO for one period instead of downgrading
	if rs.Plan == subs.PlanPro {
		end := now.Add(days(e.settings.ProPeriodDays))
		fresh.Plan = subs.PlanPro
		fresh.Status = subs.StatusActive
		fresh.CurrentPeriodStartAt = subs.Ptr(now)
		fresh.CurrentPeriodEndAt = &end
	}
	ev := subs.Event{
		Type:      subs.EventCreated,
		CreatedAt: now,
		Metadata: map[string]any{
			"plan":   string(fresh.Plan),
			"status": string(fresh.Status),
		},
	}

	sub, created, err := e.store.CreateIfAbsent(ctx, fresh, ev)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if created {
		e.metrics.Event(string(subs.EventCreated))
		e.log.Info("subscription created",
			"restaurant_id", rs.ID,
			"subscription_id", sub.ID,
			"status", sub.Status,
		)
	}
	return sub, nil
}

// change mutates a locked record at now and returns the events describing it.
type change func(sub *subs.Subscription, now time.Time) ([]subs.Event, error)

// apply runs one command as a single read-modify-write of the record and
// refreshes the cached plan from the entitlement decision.
func (e *Engine) apply(ctx context.Context, rs *restaurants.Restaurant, fn change) (*subs.Subscription, []subs.Event, error) {
	if _, err := e.ensure(ctx, rs); err != nil {
		return nil, nil, err
	}
	now := e.now()
	sub, events, err := e.store.Mutate(ctx, rs.ID, func(sub *subs.Subscription) ([]subs.Event, error) {
		events, err := fn(sub, now)
		if err != nil || len(events) == 0 {
			return events, err
		}
		sub.Plan = subs.PlanFor(IsEntitled(sub, now, e.settings.GraceDays))
		return events, nil
	})
	if err != nil {
		return nil, nil, err
	}
	e.written(sub, events, now)
	return sub, events, nil
}

// written records metrics for persisted events and reports records that no
// longer satisfy the invariants.
func (e *Engine) written(sub *subs.Subscription, events []subs.Event, now time.Time) {
	if len(events) == 0 {
		return
	}
	types := make([]string, 0, len(events))
	for _, ev := range events {
		e.metrics.Event(string(ev.Type))
		types = append(types, string(ev.Type))
	}
	e.log.Info("subscription updated",
		"restaurant_id", sub.RestaurantID,
		"status", sub.Status,
		"plan", sub.Plan,
		"events", types,
	)
	if err := sub.Validate(now); err != nil {
		e.log.Warn("subscription violates invariants",
			"restaurant_id", sub.RestaurantID,
			"err", err,
		)
	}
}

func newEvent(t subs.EventType, now time.Time, meta map[string]any) subs.Event {
	return subs.Event{Type: t, CreatedAt: now, Metadata: meta}
}

// notice is a pending owner notification produced by a transition.
type notice struct {
	kind  string
	title string
	body  string
	meta  map[string]any
}

func (e *Engine) notify(ctx context.Context, rs *restaurants.Restaurant, n notice) {
	if e.notifier == nil {
		return
	}
	meta := map[string]any{"kind": n.kind}
	for k, v := range n.meta {
		meta[k] = v
	}
	err := e.notifier.Notify(ctx, Notification{
		OwnerID:      rs.OwnerID,
		OwnerChatID:  rs.OwnerChatID,
		RestaurantID: rs.ID,
		Title:        n.title,
		Body:         n.body,
		Metadata:     meta,
	})
	if err != nil {
		e.metrics.NotificationFailed()
		e.log.Warn("notification failed",
			"restaurant_id", rs.ID,
			"kind", n.kind,
			"err", err,
		)
	}
}

// Get returns the stored subscription without creating one.
func (e *Engine) Get(ctx context.Context, restaurantID int64) (*subs.Subscription, error) {
	sub, err := e.store.GetByRestaurant(ctx, restaurantID)
	if errors.Is(err, subs.ErrNotFound) {
		return nil, fail(ErrNotFound, restaurantID, "no subscription")
	}
	return sub, err
}

// IsEntitledNow answers the per-request feature gate question.
func (e *Engine) IsEntitledNow(ctx context.Context, restaurantID int64) (bool, error) {
	sub, err := e.Ensure(ctx, restaurantID)
	if err != nil {
		return false, err
	}
	return IsEntitled(sub, e.now(), e.settings.GraceDays), nil
}

func (e *Engine) ListEvents(ctx context.Context, restaurantID int64) ([]subs.Event, error) {
	sub, err := e.Get(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, sub.ID)
}
