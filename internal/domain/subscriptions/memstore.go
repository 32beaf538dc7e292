package subscriptions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process store with the same semantics as Repo: a single
// mutex stands in for the row lock, and every value crossing the boundary is copied.
type MemStore struct {
	mu     sync.Mutex
	subs   map[int64]*Subscription
	events []Event
	nextID int64
	now    func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{subs: map[int64]*Subscription{}, now: time.Now}
}

func (m *MemStore) GetByRestaurant(_ context.Context, restaurantID int64) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[restaurantID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemStore) CreateIfAbsent(_ context.Context, sub *Subscription, ev Event) (*Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[sub.RestaurantID]; ok {
		return s.Clone(), false, nil
	}
	stored := sub.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	ts := m.now()
	stored.CreatedAt, stored.UpdatedAt = ts, ts
	m.subs[stored.RestaurantID] = stored

	ev.SubscriptionID = stored.ID
	m.appendLocked(ev)
	return stored.Clone(), true, nil
}

func (m *MemStore) Mutate(_ context.Context, restaurantID int64, fn Mutation) (*Subscription, []Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[restaurantID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	work := cur.Clone()
	events, err := fn(work)
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return cur.Clone(), nil, nil
	}

	work.UpdatedAt = m.now()
	m.subs[restaurantID] = work
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		ev.SubscriptionID = work.ID
		out = append(out, m.appendLocked(ev))
	}
	return work.Clone(), out, nil
}

func (m *MemStore) appendLocked(ev Event) Event {
	m.nextID++
	ev.ID = m.nextID
	ev.Metadata = copyMeta(ev.Metadata)
	m.events = append(m.events, ev)
	return ev
}

func (m *MemStore) ListAll(_ context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RestaurantID < out[j].RestaurantID })
	return out, nil
}

func (m *MemStore) ListEvents(_ context.Context, subscriptionID uuid.UUID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.SubscriptionID == subscriptionID {
			ev.Metadata = copyMeta(ev.Metadata)
			out = append(out, ev)
		}
	}
	return out, nil
}

// Put stores sub as-is, bypassing all rules. Used to seed legacy or drifted records.
func (m *MemStore) Put(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := sub.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	m.subs[stored.RestaurantID] = stored
}

func copyMeta(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
