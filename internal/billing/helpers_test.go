package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/resto-billing/internal/domain/restaurants"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
	return t
}

func (c *clock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type fakeTenants struct {
	mu           sync.Mutex
	rs           map[int64]restaurants.Restaurant
	setPlanErr   error
	setPlanCalls int
}

func (f *fakeTenants) Get(_ context.Context, id int64) (*restaurants.Restaurant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rs[id]
	if !ok {
		return nil, restaurants.ErrNotFound
	}
	return &r, nil
}

func (f *fakeTenants) SetPlan(_ context.Context, id int64, plan subs.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setPlanCalls++
	if f.setPlanErr != nil {
		return f.setPlanErr
	}
	r, ok := f.rs[id]
	if !ok {
		return restaurants.ErrNotFound
	}
	r.Plan = plan
	f.rs[id] = r
	return nil
}

func (f *fakeTenants) plan(id int64) subs.Plan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rs[id].Plan
}

func (f *fakeTenants) put(r restaurants.Restaurant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rs[r.ID] = r
}

func (f *fakeTenants) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rs, id)
}

func (f *fakeTenants) failSetPlan(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setPlanErr = err
	f.setPlanCalls = 0
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Metadata["kind"] == kind {
			n++
		}
	}
	return n
}

// failingStore fails every Mutate for one restaurant.
type failingStore struct {
	*subs.MemStore
	failFor int64
}

func (s *failingStore) Mutate(ctx context.Context, restaurantID int64, fn subs.Mutation) (*subs.Subscription, []subs.Event, error) {
	if restaurantID == s.failFor {
		return nil, nil, errors.New("connection reset")
	}
	return s.MemStore.Mutate(ctx, restaurantID, fn)
}

type fixture struct {
	engine   *Engine
	store    *subs.MemStore
	tenants  *fakeTenants
	notifier *fakeNotifier
	clock    *clock
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	return newFixtureWithStore(t, settings, nil)
}

func newFixtureWithStore(t *testing.T, settings Settings, wrap func(*subs.MemStore) Store) *fixture {
	t.Helper()
	f := &fixture{
		store:    subs.NewMemStore(),
		tenants:  &fakeTenants{rs: map[int64]restaurants.Restaurant{}},
		notifier: &fakeNotifier{},
		clock:    &clock{t: t0},
	}
	var store Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(store, f.tenants, f.notifier, settings, log,
		WithClock(f.clock.now),
		WithMirrorBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
		}),
	)
	return f
}

func (f *fixture) restaurant(id int64, plan subs.Plan) {
	f.tenants.put(restaurants.Restaurant{
		ID:          id,
		Name:        "Test kitchen",
		OwnerID:     id * 10,
		OwnerChatID: id * 100,
		Plan:        plan,
	})
}

// seed stores sub as-is for an existing BASIC or PRO restaurant.
func (f *fixture) seed(sub *subs.Subscription, mirror subs.Plan) {
	f.restaurant(sub.RestaurantID, mirror)
	f.store.Put(sub)
}

func (f *fixture) sub(t *testing.T, restaurantID int64) *subs.Subscription {
	t.Helper()
	sub, err := f.engine.Get(context.Background(), restaurantID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) events(t *testing.T, restaurantID int64) []subs.Event {
	t.Helper()
	evs, err := f.engine.ListEvents(context.Background(), restaurantID)
	require.NoError(t, err)
	return evs
}

func (f *fixture) totalEvents(t *testing.T) int {
	t.Helper()
	all, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	n := 0
	for _, s := range all {
		evs, err := f.store.ListEvents(context.Background(), s.ID)
		require.NoError(t, err)
		n += len(evs)
	}
	return n
}

func countEvents(evs []subs.Event, t subs.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func at(t time.Time) *time.Time { return &t }

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
