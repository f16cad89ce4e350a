package rooms

import (
	"sync"
	"testing"
)

// fakeMember records the frames written to it.
type fakeMember struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeMember) SessionID() string { return f.id }

func (f *fakeMember) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeMember) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, b := range f.frames {
		out[i] = string(b)
	}
	return out
}

func TestJoinAndBroadcast(t *testing.T) {
	r := NewRegistry()
	a := &fakeMember{id: "conn-a"}
	b := &fakeMember{id: "conn-b"}

	if created := r.Join("room-1", a); !created {
		t.Error("first join should create the room")
	}
	if created := r.Join("room-1", b); created {
		t.Error("second join should not create the room")
	}

	r.Broadcast("room-1", []byte("hello"))

	for _, m := range []*fakeMember{a, b} {
		if got := m.received(); len(got) != 1 || got[0] != "hello" {
			t.Errorf("member %s: expected [hello], got %v", m.id, got)
		}
	}
}

func TestBroadcast_OrderPreserved(t *testing.T) {
	r := NewRegistry()
	a := &fakeMember{id: "conn-a"}
	r.Join("room-1", a)

	r.Broadcast("room-1", []byte("one"))
	r.Broadcast("room-1", []byte("two"))
	r.Broadcast("room-1", []byte("three"))

	got := a.received()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBroadcastExcept(t *testing.T) {
	r := NewRegistry()
	sender := &fakeMember{id: "conn-s"}
	other := &fakeMember{id: "conn-o"}
	r.Join("room-1", sender)
	r.Join("room-1", other)

	r.BroadcastExcept("room-1", "conn-s", []byte("typing"))

	if got := sender.received(); len(got) != 0 {
		t.Errorf("sender should not receive its own event, got %v", got)
	}
	if got := other.received(); len(got) != 1 {
		t.Errorf("other member should receive the event, got %v", got)
	}
}

func TestLeave_StopsDelivery(t *testing.T) {
	r := NewRegistry()
	a := &fakeMember{id: "conn-a"}
	b := &fakeMember{id: "conn-b"}
	r.Join("room-1", a)
	r.Join("room-1", b)

	if empty := r.Leave("room-1", "conn-a"); empty {
		t.Error("room with a remaining member should not report empty")
	}
	r.Broadcast("room-1", []byte("after"))

	if got := a.received(); len(got) != 0 {
		t.Errorf("departed member should receive nothing, got %v", got)
	}
	if got := b.received(); len(got) != 1 {
		t.Errorf("remaining member should receive the event, got %v", got)
	}

	if empty := r.Leave("room-1", "conn-b"); !empty {
		t.Error("last leave should report the room empty")
	}
	if r.Count("room-1") != 0 {
		t.Error("empty room should be dropped")
	}
}

func TestLeaveAll(t *testing.T) {
	r := NewRegistry()
	a := &fakeMember{id: "conn-a"}
	b := &fakeMember{id: "conn-b"}
	r.Join("room-1", a)
	r.Join("room-2", a)
	r.Join("room-2", b)

	emptied := r.LeaveAll("conn-a")
	if len(emptied) != 1 || emptied[0] != "room-1" {
		t.Errorf("expected only room-1 to empty, got %v", emptied)
	}
	if r.Count("room-2") != 1 {
		t.Errorf("room-2 should keep its remaining member, got %d", r.Count("room-2"))
	}
	if len(r.RoomsOf("conn-a")) != 0 {
		t.Errorf("session should have no rooms after LeaveAll, got %v", r.RoomsOf("conn-a"))
	}
}

func TestBroadcast_UnknownRoomIsNoop(t *testing.T) {
	r := NewRegistry()
	// Must not panic or create the room.
	r.Broadcast("ghost", []byte("x"))
	if r.Count("ghost") != 0 {
		t.Error("broadcast must not create rooms")
	}
}
