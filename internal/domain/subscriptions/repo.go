package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("subscriptions: not found")

// Mutation is applied to the locked record. Returning no events means nothing
// changed and nothing is written.
type Mutation func(sub *Subscription) ([]Event, error)

type Repo struct{ db *pgxpool.Pool }

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{db: db} }

const subscriptionColumns = `id,restaurant_id,plan,status,
	trial_start_at,trial_end_at,current_period_start_at,current_period_end_at,
	grace_end_at,cancel_at_period_end,canceled_at,created_at,updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	if err := row.Scan(
		&s.ID,
		&s.RestaurantID,
		&s.Plan,
		&s.Status,
		&s.TrialStartAt,
		&s.TrialEndAt,
		&s.CurrentPeriodStartAt,
		&s.CurrentPeriodEndAt,
		&s.GraceEndAt,
		&s.CancelAtPeriodEnd,
		&s.CanceledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetByRestaurant(ctx context.Context, restaurantID int64) (*Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE restaurant_id=$1`
	return scanSubscription(r.db.QueryRow(ctx, q, restaurantID))
}

// CreateIfAbsent inserts sub unless the restaurant already has a record.
// created is false when another writer got there first; the stored row is returned.
func (r *Repo) CreateIfAbsent(ctx context.Context, sub *Subscription, ev Event) (_ *Subscription, created bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `
INSERT INTO subscriptions (id, restaurant_id, plan, status,
    trial_start_at, trial_end_at, current_period_start_at, current_period_end_at,
    grace_end_at, cancel_at_period_end, canceled_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (restaurant_id) DO NOTHING
RETURNING ` + subscriptionColumns

	stored, err := scanSubscription(tx.QueryRow(ctx, q,
		sub.ID, sub.RestaurantID, sub.Plan, sub.Status,
		sub.TrialStartAt, sub.TrialEndAt, sub.CurrentPeriodStartAt, sub.CurrentPeriodEndAt,
		sub.GraceEndAt, sub.CancelAtPeriodEnd, sub.CanceledAt,
	))
	if errors.Is(err, ErrNotFound) {
		// created concurrently by another caller
		_ = tx.Rollback(ctx)
		existing, err := r.GetByRestaurant(ctx, sub.RestaurantID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}

	ev.SubscriptionID = stored.ID
	if err := insertEvents(ctx, tx, []Event{ev}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// Mutate runs fn against the row locked FOR UPDATE and persists the result
// together with the events it returns, in one transaction.
func (r *Repo) Mutate(ctx context.Context, restaurantID int64, fn Mutation) (*Subscription, []Event, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE restaurant_id=$1 FOR UPDATE`
	sub, err := scanSubscription(tx.QueryRow(ctx, q, restaurantID))
	if err != nil {
		return nil, nil, err
	}

	events, err := fn(sub)
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return sub, nil, nil
	}

	const upd = `
UPDATE subscriptions
SET plan = $2,
    status = $3,
    trial_start_at = $4,
    trial_end_at = $5,
    current_period_start_at = $6,
    current_period_end_at = $7,
    grace_end_at = $8,
    cancel_at_period_end = $9,
    canceled_at = $10,
    updated_at = NOW()
WHERE id = $1
RETURNING updated_at`
	if err := tx.QueryRow(ctx, upd,
		sub.ID, sub.Plan, sub.Status,
		sub.TrialStartAt, sub.TrialEndAt, sub.CurrentPeriodStartAt, sub.CurrentPeriodEndAt,
		sub.GraceEndAt, sub.CancelAtPeriodEnd, sub.CanceledAt,
	).Scan(&sub.UpdatedAt); err != nil {
		return nil, nil, fmt.Errorf("update subscription: %w", err)
	}

	for i := range events {
		events[i].SubscriptionID = sub.ID
	}
	if err := insertEvents(ctx, tx, events); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return sub, events, nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []Event) error {
	const q = `
INSERT INTO subscription_events (subscription_id, type, metadata, created_at)
VALUES ($1,$2,$3,$4)
RETURNING id`
	for i := range events {
		ev := &events[i]
		meta := ev.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		if err := tx.QueryRow(ctx, q, ev.SubscriptionID, ev.Type, meta, ev.CreatedAt).Scan(&ev.ID); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (r *Repo) ListAll(ctx context.Context) ([]Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions ORDER BY restaurant_id`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *Repo) ListEvents(ctx context.Context, subscriptionID uuid.UUID) ([]Event, error) {
	const q = `SELECT id,subscription_id,type,metadata,created_at
	           FROM subscription_events
	           WHERE subscription_id=$1
	           ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, q, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.SubscriptionID, &ev.Type, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
