package restaurants

import (
	"time"

	"github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// Restaurant is the tenant record. Plan is the user-facing mirror of the
// entitlement decision that unrelated feature gates read.
type Restaurant struct {
	ID          int64
	Name        string
	OwnerID     int64
	OwnerChatID int64 // Telegram chat for owner notifications, 0 if unknown
	Plan        subscriptions.Plan
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
