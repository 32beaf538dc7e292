package payments

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres ledger of processed payments.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) MarkProcessed(ctx context.Context, paymentID string, restaurantID int64, days int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO processed_payments (payment_id, restaurant_id, days)
		VALUES ($1, $2, $3)
		ON CONFLICT (payment_id) DO NOTHING
	`, paymentID, restaurantID, days)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) Unmark(ctx context.Context, paymentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM processed_payments WHERE payment_id = $1`, paymentID)
	return err
}
