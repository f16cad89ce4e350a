package gateway

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"github.com/loqui/social-core/internal/directory"
	"github.com/loqui/social-core/internal/domain"
	"github.com/loqui/social-core/internal/message"
	"github.com/loqui/social-core/internal/messaging"
	"github.com/loqui/social-core/internal/protocol"
	"github.com/loqui/social-core/internal/ratelimit"
	"github.com/loqui/social-core/internal/rooms"
)

func TestRoutesForPrivateMessage(t *testing.T) {
	m := &domain.Message{
		ThreadID:    "thread-1",
		SenderID:    "alice",
		RecipientID: "bob",
		Kind:        domain.KindPrivate,
	}

	routes := routesFor(m)
	if !reflect.DeepEqual(routes, []string{"alice", "bob"}) {
		t.Errorf("expected personal rooms for both participants, got %v", routes)
	}
}

func TestRoutesForSelfMessage(t *testing.T) {
	m := &domain.Message{
		ThreadID:    "thread-1",
		SenderID:    "alice",
		RecipientID: "alice",
		Kind:        domain.KindPrivate,
	}

	routes := routesFor(m)
	if !reflect.DeepEqual(routes, []string{"alice"}) {
		t.Errorf("expected a single personal room, got %v", routes)
	}
}

func TestRoutesForGroupMessage(t *testing.T) {
	m := &domain.Message{
		ThreadID: "group-7",
		SenderID: "alice",
		Kind:     domain.KindGroup,
	}

	routes := routesFor(m)
	if !reflect.DeepEqual(routes, []string{"group-7"}) {
		t.Errorf("expected the group room, got %v", routes)
	}
}

// ---------------------------------------------------------------------------
// Handler fakes
// ---------------------------------------------------------------------------

type fakeMessages struct {
	markReadCalls int
	markReadCount int64
	sendResult    *domain.Message
}

func (f *fakeMessages) Send(ctx context.Context, in message.SendInput) (*domain.Message, error) {
	return f.sendResult, nil
}

func (f *fakeMessages) Edit(ctx context.Context, messageID, requesterID, newBody string) (*domain.Message, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeMessages) SoftDelete(ctx context.Context, messageID, requesterID string) error {
	return domain.ErrNotFound
}

func (f *fakeMessages) AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Reaction, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeMessages) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	return nil
}

func (f *fakeMessages) MarkRead(ctx context.Context, threadID, userID string) (int64, error) {
	f.markReadCalls++
	return f.markReadCount, nil
}

func (f *fakeMessages) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	return nil, domain.ErrNotFound
}

type fakeThreads struct {
	participantA    string
	participantB    string
	participantsErr error
	privateThreadID string
}

func (f *fakeThreads) ResolvePrivate(ctx context.Context, userA, userB string) (string, error) {
	return f.privateThreadID, nil
}

func (f *fakeThreads) ResolveGroup(groupID string) (string, error) {
	return groupID, nil
}

func (f *fakeThreads) Participants(ctx context.Context, threadID string) (string, string, error) {
	if f.participantsErr != nil {
		return "", "", f.participantsErr
	}
	return f.participantA, f.participantB, nil
}

func (f *fakeThreads) ListThreads(ctx context.Context, userID string, groupIDs []string, page int) ([]domain.ThreadSummary, error) {
	return nil, nil
}

func (f *fakeThreads) Messages(ctx context.Context, threadID string, page int) ([]*domain.Message, bool, error) {
	return nil, false, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (f *fakeBus) PublishRoomEvent(roomID, origin string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[roomID] = append(f.published[roomID], data)
	return nil
}

func (f *fakeBus) SubscribeRoom(roomID string, handler func(ev messaging.Event)) error { return nil }
func (f *fakeBus) UnsubscribeRoom(roomID string) error                                 { return nil }
func (f *fakeBus) PublishPresenceEvent(origin string, data []byte) error               { return nil }
func (f *fakeBus) SubscribePresence(handler func(ev messaging.Event)) error            { return nil }

func (f *fakeBus) events(roomID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[roomID]
}

func (f *fakeBus) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, evs := range f.published {
		n += len(evs)
	}
	return n
}

type fakeMembership struct {
	member bool
}

func (f *fakeMembership) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	return f.member, nil
}

func (f *fakeMembership) Memberships(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

type fakeProfiles struct {
	profile *directory.Profile
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (*directory.Profile, error) {
	if f.profile == nil {
		return nil, domain.ErrNotFound
	}
	return f.profile, nil
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error) {
	return f.allow, nil
}

func newTestGateway(deps Deps) *Gateway {
	if deps.Rooms == nil {
		deps.Rooms = rooms.NewRegistry()
	}
	if deps.Limiter == nil {
		deps.Limiter = &fakeLimiter{allow: true}
	}
	g := New("test-instance", deps)
	g.disp = NewDispatcher()
	return g
}

// ---------------------------------------------------------------------------
// Authorization on thread-scoped events
// ---------------------------------------------------------------------------

func TestMarkReadRejectsNonMember(t *testing.T) {
	msgs := &fakeMessages{}
	bus := &fakeBus{}
	g := newTestGateway(Deps{
		Messages:   msgs,
		Threads:    &fakeThreads{participantsErr: domain.ErrNotFound},
		Bus:        bus,
		Membership: &fakeMembership{member: false},
	})
	conn, client := pipeConnection(t)

	go g.handleMarkRead(conn, protocol.MarkReadMsg{ThreadID: "group-9"})

	ev := readEvent(t, client)
	if ev["type"] != protocol.TypeError {
		t.Fatalf("expected error event, got %v", ev["type"])
	}
	if ev["code"] != "forbidden" {
		t.Errorf("expected forbidden, got %v", ev["code"])
	}
	if msgs.markReadCalls != 0 {
		t.Errorf("expected no store mutation, got %d calls", msgs.markReadCalls)
	}
	if bus.total() != 0 {
		t.Errorf("expected no broadcast, got %d events", bus.total())
	}
}

func TestMarkReadRejectsNonParticipant(t *testing.T) {
	msgs := &fakeMessages{}
	bus := &fakeBus{}
	g := newTestGateway(Deps{
		Messages: msgs,
		Threads:  &fakeThreads{participantA: "alice", participantB: "bob"},
		Bus:      bus,
	})
	conn, client := pipeConnection(t)

	go g.handleMarkRead(conn, protocol.MarkReadMsg{ThreadID: "thread-1"})

	ev := readEvent(t, client)
	if ev["code"] != "forbidden" {
		t.Errorf("expected forbidden, got %v", ev["code"])
	}
	if msgs.markReadCalls != 0 {
		t.Errorf("expected no store mutation, got %d calls", msgs.markReadCalls)
	}
}

func TestMarkReadBroadcastsForMember(t *testing.T) {
	msgs := &fakeMessages{markReadCount: 3}
	bus := &fakeBus{}
	g := newTestGateway(Deps{
		Messages:   msgs,
		Threads:    &fakeThreads{participantsErr: domain.ErrNotFound},
		Bus:        bus,
		Membership: &fakeMembership{member: true},
	})
	conn, _ := pipeConnection(t)

	g.handleMarkRead(conn, protocol.MarkReadMsg{ThreadID: "group-9"})

	if msgs.markReadCalls != 1 {
		t.Fatalf("expected one store call, got %d", msgs.markReadCalls)
	}
	evs := bus.events("group-9")
	if len(evs) != 1 {
		t.Fatalf("expected one event in the group room, got %d", len(evs))
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(evs[0], &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev["type"] != protocol.TypeMessageRead {
		t.Errorf("expected message_read, got %v", ev["type"])
	}
	if ev["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", ev["count"])
	}
	if ev["user_id"] != conn.UserID {
		t.Errorf("expected reader %s, got %v", conn.UserID, ev["user_id"])
	}
}

func TestTypingRejectsNonMember(t *testing.T) {
	bus := &fakeBus{}
	g := newTestGateway(Deps{
		Messages:   &fakeMessages{},
		Threads:    &fakeThreads{participantsErr: domain.ErrNotFound},
		Bus:        bus,
		Membership: &fakeMembership{member: false},
	})
	conn, client := pipeConnection(t)

	go g.handleTyping(conn, protocol.TypingMsg{Type: protocol.TypeTyping, ThreadID: "group-9"})

	ev := readEvent(t, client)
	if ev["code"] != "forbidden" {
		t.Errorf("expected forbidden, got %v", ev["code"])
	}
	if bus.total() != 0 {
		t.Errorf("expected no typing broadcast, got %d events", bus.total())
	}
}

func TestTypingRelayedToParticipants(t *testing.T) {
	bus := &fakeBus{}
	g := newTestGateway(Deps{
		Messages: &fakeMessages{},
		Threads:  &fakeThreads{participantA: "user-1", participantB: "bob"},
		Bus:      bus,
	})
	conn, _ := pipeConnection(t)

	g.handleTyping(conn, protocol.TypingMsg{Type: protocol.TypeStopTyping, ThreadID: "thread-1"})

	for _, room := range []string{"user-1", "bob"} {
		if len(bus.events(room)) != 1 {
			t.Errorf("expected one event in room %s, got %d", room, len(bus.events(room)))
		}
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(bus.events("bob")[0], &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev["type"] != protocol.TypeStopTyping {
		t.Errorf("expected stop_typing, got %v", ev["type"])
	}
}

func TestSendMessageAttachesSenderProfile(t *testing.T) {
	sent := &domain.Message{
		ID:          "msg-1",
		ThreadID:    "thread-1",
		SenderID:    "user-1",
		RecipientID: "bob",
		Kind:        domain.KindPrivate,
		Body:        "hello",
	}
	bus := &fakeBus{}
	g := newTestGateway(Deps{
		Messages: &fakeMessages{sendResult: sent},
		Threads:  &fakeThreads{privateThreadID: "thread-1"},
		Bus:      bus,
		Profiles: &fakeProfiles{profile: &directory.Profile{UserID: "user-1", Username: "User One"}},
	})
	conn, _ := pipeConnection(t)

	g.handleSendMessage(conn, protocol.SendMessageMsg{
		Kind:        domain.KindPrivate,
		RecipientID: "bob",
		Body:        "hello",
	})

	evs := bus.events("bob")
	if len(evs) != 1 {
		t.Fatalf("expected one event in recipient room, got %d", len(evs))
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(evs[0], &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev["type"] != protocol.TypeMessageNew {
		t.Fatalf("expected message_new, got %v", ev["type"])
	}
	sender, ok := ev["sender"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected sender profile, got %v", ev["sender"])
	}
	if sender["username"] != "User One" {
		t.Errorf("expected sender username, got %v", sender["username"])
	}
}
