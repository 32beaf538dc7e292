package subscriptions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	first, created, err := m.CreateIfAbsent(ctx, &Subscription{RestaurantID: 1, Status: StatusExpired, Plan: PlanBasic},
		Event{Type: EventCreated})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := m.CreateIfAbsent(ctx, &Subscription{RestaurantID: 1, Status: StatusActive},
		Event{Type: EventCreated})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StatusExpired, second.Status)

	evs, err := m.ListEvents(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, first.ID, evs[0].SubscriptionID)
}

func TestMemStore_Mutate(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	_, _, err := m.CreateIfAbsent(ctx, &Subscription{RestaurantID: 1, Status: StatusExpired}, Event{Type: EventCreated})
	require.NoError(t, err)

	t.Run("no_events_no_write", func(t *testing.T) {
		_, evs, err := m.Mutate(ctx, 1, func(sub *Subscription) ([]Event, error) {
			sub.Status = StatusActive
			return nil, nil
		})
		require.NoError(t, err)
		assert.Empty(t, evs)
		got, err := m.GetByRestaurant(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, got.Status)
	})

	t.Run("error_discards", func(t *testing.T) {
		boom := errors.New("boom")
		_, _, err := m.Mutate(ctx, 1, func(sub *Subscription) ([]Event, error) {
			sub.Status = StatusActive
			return []Event{{Type: EventAdminSetPaid}}, boom
		})
		require.ErrorIs(t, err, boom)
		got, err := m.GetByRestaurant(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, got.Status)
	})

	t.Run("writes_record_and_events", func(t *testing.T) {
		end := time.Now().Add(time.Hour)
		sub, evs, err := m.Mutate(ctx, 1, func(sub *Subscription) ([]Event, error) {
			sub.Status = StatusActive
			sub.CurrentPeriodEndAt = &end
			return []Event{{Type: EventAdminSetPaid, Metadata: map[string]any{"days": 1}}}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
		require.Len(t, evs, 1)
		assert.NotZero(t, evs[0].ID)
		assert.Equal(t, sub.ID, evs[0].SubscriptionID)
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := m.Mutate(ctx, 42, func(*Subscription) ([]Event, error) { return nil, nil })
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemStore_CopiesAcrossBoundary(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Put(&Subscription{RestaurantID: 1, Status: StatusActive, CurrentPeriodEndAt: &end})

	got, err := m.GetByRestaurant(ctx, 1)
	require.NoError(t, err)
	*got.CurrentPeriodEndAt = end.Add(time.Hour)
	got.Status = StatusExpired

	again, err := m.GetByRestaurant(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
	assert.Equal(t, end, *again.CurrentPeriodEndAt)
}

func TestMemStore_SerializesMutations(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.Put(&Subscription{RestaurantID: 1, Status: StatusExpired})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Mutate(ctx, 1, func(sub *Subscription) ([]Event, error) {
				return []Event{{Type: EventDailyCheckSync}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	evs, err := m.ListEvents(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Len(t, evs, 50)
}
