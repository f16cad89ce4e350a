// Package presence tracks per-user connectivity as a timed state machine:
//
//	online --(idle timeout)--> inactive --(TTL expiry or disconnect)--> offline
//
// The Tracker exclusively owns presence records; other components observe
// state changes only through broadcast events. Timer callbacks run outside
// any request cycle, so their errors are logged and swallowed.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/loqui/social-core/internal/domain"
)

const storeTimeout = 3 * time.Second

// Broadcaster delivers presence transitions to all connected peers.
// Presence is platform-wide, not scoped to shared threads.
type Broadcaster interface {
	PresenceChanged(userID, state string)
}

// Config holds the decay windows.
type Config struct {
	IdleTimeout time.Duration // online -> inactive after this much silence
	TTL         time.Duration // record lifetime from last refresh
}

// DefaultConfig returns the standard decay windows.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: 60 * time.Second,
		TTL:         300 * time.Second,
	}
}

// entry is the in-process view of one user's presence. gen increments on
// every connect/disconnect so a timer that fired for a previous lifetime
// of the entry is recognized as stale and ignored.
type entry struct {
	sessions    int
	state       string
	gen         uint64
	idleTimer   *time.Timer
	expiryTimer *time.Timer
}

// Tracker is the per-user presence state machine. Concurrent sessions for
// one user are resolved last-writer-wins; the session count only keeps a
// user from going offline while another of their connections remains.
type Tracker struct {
	store     Store
	broadcast Broadcaster
	cfg       Config

	mu    sync.Mutex
	users map[string]*entry
}

// NewTracker creates a Tracker. The broadcaster may not be nil.
func NewTracker(store Store, broadcast Broadcaster, cfg Config) *Tracker {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Tracker{
		store:     store,
		broadcast: broadcast,
		cfg:       cfg,
		users:     make(map[string]*entry),
	}
}

// HandleConnect records a new session for the user: state online, fresh
// TTL, timers armed. The online transition is broadcast unless the user
// was already online through another session.
func (t *Tracker) HandleConnect(ctx context.Context, userID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		e = &entry{}
		t.users[userID] = e
	}
	e.sessions++
	wasOnline := ok && e.state == domain.PresenceOnline
	e.state = domain.PresenceOnline
	t.armTimersLocked(userID, e)
	t.mu.Unlock()

	if err := t.store.Put(ctx, userID, domain.PresenceOnline, t.cfg.TTL); err != nil {
		log.Printf("[presence] connect put user=%s: %v", userID, err)
	}
	if !wasOnline {
		t.broadcast.PresenceChanged(userID, domain.PresenceOnline)
	}
}

// HandlePing refreshes the user's TTL and resets the idle window. A ping
// while online changes nothing else; a ping while inactive promotes the
// user back to online and broadcasts the transition. Pings for unknown
// users are ignored.
func (t *Tracker) HandlePing(ctx context.Context, userID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	promoted := e.state == domain.PresenceInactive
	e.state = domain.PresenceOnline
	t.armTimersLocked(userID, e)
	t.mu.Unlock()

	if promoted {
		if err := t.store.Put(ctx, userID, domain.PresenceOnline, t.cfg.TTL); err != nil {
			log.Printf("[presence] ping put user=%s: %v", userID, err)
		}
		t.broadcast.PresenceChanged(userID, domain.PresenceOnline)
		return
	}
	if err := t.store.Refresh(ctx, userID, t.cfg.TTL); err != nil {
		log.Printf("[presence] ping refresh user=%s: %v", userID, err)
	}
}

// HandleDisconnect drops one session. The user only goes offline — record
// removed, timers cancelled, transition broadcast — when their last
// session is gone. Pending timers are cancelled either way, so a fast
// reconnect cannot be demoted by a stale callback.
func (t *Tracker) HandleDisconnect(ctx context.Context, userID string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.sessions--
	if e.sessions > 0 {
		t.mu.Unlock()
		return
	}
	t.dropLocked(userID, e)
	t.mu.Unlock()

	if err := t.store.Delete(ctx, userID); err != nil {
		log.Printf("[presence] disconnect delete user=%s: %v", userID, err)
	}
	t.broadcast.PresenceChanged(userID, domain.PresenceOffline)
}

// Shutdown cancels all timers without broadcasting. Redis TTLs clean up
// the records this instance leaves behind.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for userID, e := range t.users {
		t.dropLocked(userID, e)
	}
}

// armTimersLocked bumps the entry generation and restarts both decay
// timers. Callers must hold t.mu.
func (t *Tracker) armTimersLocked(userID string, e *entry) {
	e.gen++
	gen := e.gen
	stopTimers(e)
	e.idleTimer = time.AfterFunc(t.cfg.IdleTimeout, func() { t.onIdle(userID, gen) })
	e.expiryTimer = time.AfterFunc(t.cfg.TTL, func() { t.onExpiry(userID, gen) })
}

// dropLocked removes the entry and invalidates its timers. Callers must
// hold t.mu.
func (t *Tracker) dropLocked(userID string, e *entry) {
	e.gen++
	stopTimers(e)
	delete(t.users, userID)
}

func stopTimers(e *entry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	if e.expiryTimer != nil {
		e.expiryTimer.Stop()
	}
}

// onIdle demotes a silent user to inactive. The record is retained — only
// its state changes — and the expiry timer keeps running from the last
// refresh.
func (t *Tracker) onIdle(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok || e.gen != gen || e.state != domain.PresenceOnline {
		t.mu.Unlock()
		return
	}
	e.state = domain.PresenceInactive
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := t.store.Put(ctx, userID, domain.PresenceInactive, t.cfg.TTL); err != nil {
		log.Printf("[presence] idle put user=%s: %v", userID, err)
	}
	t.broadcast.PresenceChanged(userID, domain.PresenceInactive)
}

// onExpiry removes a user whose TTL ran out without any refresh.
func (t *Tracker) onExpiry(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	t.dropLocked(userID, e)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := t.store.Delete(ctx, userID); err != nil {
		log.Printf("[presence] expiry delete user=%s: %v", userID, err)
	}
	t.broadcast.PresenceChanged(userID, domain.PresenceOffline)
}
