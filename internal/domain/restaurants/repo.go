package restaurants

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

var ErrNotFound = errors.New("restaurants: not found")

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Get(ctx context.Context, id int64) (*Restaurant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, owner_chat_id, plan, created_at, updated_at
		FROM restaurants WHERE id = $1
	`, id)

	var rs Restaurant
	if err := row.Scan(&rs.ID, &rs.Name, &rs.OwnerID, &rs.OwnerChatID, &rs.Plan, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rs, nil
}

// SetPlan writes the mirrored plan. Writing the current value is a no-op.
func (r *Repo) SetPlan(ctx context.Context, id int64, plan subscriptions.Plan) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE restaurants
		SET plan = $2, updated_at = now()
		WHERE id = $1 AND plan IS DISTINCT FROM $2
	`, id, plan)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// either already equal or missing
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM restaurants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
