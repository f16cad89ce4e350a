package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loqui/social-core/internal/domain"
)

// fakeStore records presence writes in memory.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]string)}
}

func (f *fakeStore) Put(_ context.Context, userID, state string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = state
	return nil
}

func (f *fakeStore) Refresh(_ context.Context, _ string, _ time.Duration) error { return nil }

func (f *fakeStore) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, userID)
	return nil
}

func (f *fakeStore) state(userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.records[userID]
	return s, ok
}

// recorder collects broadcast transitions in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PresenceChanged(userID, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, userID+":"+state)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) waitFor(t *testing.T, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if ev == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, saw %v", want, r.snapshot())
}

func newTestTracker(idle, ttl time.Duration) (*Tracker, *fakeStore, *recorder) {
	store := newFakeStore()
	rec := &recorder{}
	return NewTracker(store, rec, Config{IdleTimeout: idle, TTL: ttl}), store, rec
}

func TestConnect_BroadcastsOnline(t *testing.T) {
	tr, store, rec := newTestTracker(time.Hour, time.Hour)
	defer tr.Shutdown()

	tr.HandleConnect(context.Background(), "alice")

	if got := rec.snapshot(); len(got) != 1 || got[0] != "alice:online" {
		t.Errorf("expected single online broadcast, got %v", got)
	}
	if s, ok := store.state("alice"); !ok || s != domain.PresenceOnline {
		t.Errorf("expected online record, got %q (exists=%v)", s, ok)
	}
}

func TestConnect_SecondSessionDoesNotRebroadcast(t *testing.T) {
	tr, _, rec := newTestTracker(time.Hour, time.Hour)
	defer tr.Shutdown()
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice")
	tr.HandleConnect(ctx, "alice")

	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("expected one broadcast for two sessions, got %v", got)
	}
}

func TestIdleDecay_ThenExpiry(t *testing.T) {
	tr, store, rec := newTestTracker(30*time.Millisecond, 120*time.Millisecond)
	defer tr.Shutdown()

	tr.HandleConnect(context.Background(), "alice")

	rec.waitFor(t, "alice:inactive", time.Second)
	if s, _ := store.state("alice"); s != domain.PresenceInactive {
		t.Errorf("record should be retained as inactive after idle, got %q", s)
	}

	rec.waitFor(t, "alice:offline", time.Second)
	if _, ok := store.state("alice"); ok {
		t.Error("record should be removed after TTL expiry")
	}
}

func TestPing_PreventsIdleDemotion(t *testing.T) {
	tr, _, rec := newTestTracker(50*time.Millisecond, time.Hour)
	defer tr.Shutdown()
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice")
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		tr.HandlePing(ctx, "alice")
	}

	for _, ev := range rec.snapshot() {
		if ev == "alice:inactive" {
			t.Fatal("pinging user should not be demoted to inactive")
		}
	}
}

func TestPing_PromotesInactiveBackToOnline(t *testing.T) {
	tr, store, rec := newTestTracker(20*time.Millisecond, time.Hour)
	defer tr.Shutdown()
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice")
	rec.waitFor(t, "alice:inactive", time.Second)

	tr.HandlePing(ctx, "alice")
	events := rec.snapshot()
	if events[len(events)-1] != "alice:online" {
		t.Errorf("ping while inactive should broadcast online, got %v", events)
	}
	if s, _ := store.state("alice"); s != domain.PresenceOnline {
		t.Errorf("record should be online again, got %q", s)
	}
}

func TestDisconnect_RemovesRecordAndBroadcastsOffline(t *testing.T) {
	tr, store, rec := newTestTracker(time.Hour, time.Hour)
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice")
	tr.HandleDisconnect(ctx, "alice")

	got := rec.snapshot()
	if len(got) != 2 || got[1] != "alice:offline" {
		t.Errorf("expected offline broadcast, got %v", got)
	}
	if _, ok := store.state("alice"); ok {
		t.Error("record should be gone after disconnect")
	}
}

func TestDisconnect_LastSessionOnly(t *testing.T) {
	tr, store, rec := newTestTracker(time.Hour, time.Hour)
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice")
	tr.HandleConnect(ctx, "alice")
	tr.HandleDisconnect(ctx, "alice")

	if _, ok := store.state("alice"); !ok {
		t.Fatal("user with one remaining session should stay online")
	}

	tr.HandleDisconnect(ctx, "alice")
	got := rec.snapshot()
	if got[len(got)-1] != "alice:offline" {
		t.Errorf("expected offline after last session closed, got %v", got)
	}
}

func TestFastReconnect_NoStaleDemotion(t *testing.T) {
	tr, _, rec := newTestTracker(40*time.Millisecond, time.Hour)
	defer tr.Shutdown()
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice")
	time.Sleep(30 * time.Millisecond)

	// Disconnect and reconnect just before the original idle timer fires.
	tr.HandleDisconnect(ctx, "alice")
	tr.HandleConnect(ctx, "alice")

	// The old timer's deadline passes; the fresh session must stay online.
	time.Sleep(25 * time.Millisecond)
	for _, ev := range rec.snapshot() {
		if ev == "alice:inactive" {
			t.Fatal("stale idle timer demoted a freshly reconnected user")
		}
	}
}
