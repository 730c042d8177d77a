package server

import (
	"sync"
	"testing"

	"github.com/saint-community/realtime/pkg/protocol"
)

// fakeTransport records writes and supports closing, for registry and
// router tests.
type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	failed bool
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, cp)
	return nil
}

func (t *fakeTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.failed
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) messages(tb testing.TB) []*protocol.Message {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*protocol.Message, 0, len(t.writes))
	for _, w := range t.writes {
		m, err := protocol.Decode(w)
		if err != nil {
			tb.Fatalf("transport holds undecodable frame: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func mustMessage(tb testing.TB, typ protocol.Type) *protocol.Message {
	tb.Helper()
	m, err := protocol.New(typ, nil)
	if err != nil {
		tb.Fatalf("New failed: %v", err)
	}
	return m
}

func TestRegisterSupersedesPrevious(t *testing.T) {
	reg := NewRegistry(nil)

	first := &fakeTransport{}
	second := &fakeTransport{}
	reg.Register("user-1", protocol.RoleMember, first)
	conn2 := reg.Register("user-1", protocol.RoleMember, second)

	if !first.isClosed() {
		t.Error("superseded transport not closed")
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}
	if reg.Get("user-1") != conn2 {
		t.Error("registry does not hold the successor")
	}

	// Traffic reaches only the successor.
	reg.BroadcastAll(mustMessage(t, protocol.TypeRefreshData))
	if len(first.writes) != 0 {
		t.Error("superseded transport received traffic")
	}
	if len(second.writes) != 1 {
		t.Errorf("successor received %d frames, want 1", len(second.writes))
	}
}

// A close event from a superseded transport must not evict the
// successor's registration.
func TestDropStaleDoesNotEvictSuccessor(t *testing.T) {
	reg := NewRegistry(nil)

	old := reg.Register("user-1", protocol.RoleMember, &fakeTransport{})
	fresh := reg.Register("user-1", protocol.RoleMember, &fakeTransport{})

	reg.Drop(old)

	if got := reg.Get("user-1"); got != fresh {
		t.Error("stale drop evicted the successor")
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}

	reg.Drop(fresh)
	if reg.Count() != 0 {
		t.Errorf("Count after real drop = %d, want 0", reg.Count())
	}
}

func TestBroadcastAudiences(t *testing.T) {
	reg := NewRegistry(nil)

	member := &fakeTransport{}
	leader := &fakeTransport{}
	super := &fakeTransport{}
	reg.Register("member-1", protocol.RoleMember, member)
	reg.Register("leader-1", protocol.RoleLeader, leader)
	reg.Register("super-1", protocol.RoleSuperAdmin, super)

	if sent := reg.BroadcastAll(mustMessage(t, protocol.TypeRefreshData)); sent != 3 {
		t.Errorf("BroadcastAll sent %d, want 3", sent)
	}
	if sent := reg.BroadcastPrivileged(mustMessage(t, protocol.TypeReportSubmitted)); sent != 2 {
		t.Errorf("BroadcastPrivileged sent %d, want 2", sent)
	}

	if len(member.writes) != 1 {
		t.Errorf("member got %d frames, want 1", len(member.writes))
	}
	if len(leader.writes) != 2 || len(super.writes) != 2 {
		t.Errorf("privileged frames = %d/%d, want 2/2", len(leader.writes), len(super.writes))
	}
}

func TestBroadcastSkipsDeadTransport(t *testing.T) {
	reg := NewRegistry(nil)

	alive := &fakeTransport{}
	dead := &fakeTransport{failed: true}
	reg.Register("alive", protocol.RoleMember, alive)
	reg.Register("dead", protocol.RoleMember, dead)

	if sent := reg.BroadcastAll(mustMessage(t, protocol.TypeRefreshData)); sent != 1 {
		t.Errorf("BroadcastAll sent %d, want 1", sent)
	}
	if len(dead.writes) != 0 {
		t.Error("dead transport received a frame")
	}
}

// Sending to an identity with no live connection is a silent no-op.
func TestSendToUnknownIdentity(t *testing.T) {
	reg := NewRegistry(nil)
	reg.SendTo("ghost", mustMessage(t, protocol.TypeAuthSuccess))

	live := &fakeTransport{}
	reg.Register("user-1", protocol.RoleMember, live)
	reg.SendTo("user-1", mustMessage(t, protocol.TypeAuthSuccess))
	if len(live.writes) != 1 {
		t.Errorf("live identity got %d frames, want 1", len(live.writes))
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	tr := &fakeTransport{}
	reg.Register("user-1", protocol.RoleMember, tr)

	reg.Unregister("user-1")
	reg.Unregister("user-1")
	reg.Unregister("never-there")

	if reg.Count() != 0 {
		t.Errorf("Count = %d, want 0", reg.Count())
	}
	if !tr.isClosed() {
		t.Error("unregistered transport not closed")
	}
}

func TestCloseAll(t *testing.T) {
	reg := NewRegistry(nil)
	a := &fakeTransport{}
	b := &fakeTransport{}
	reg.Register("a", protocol.RoleMember, a)
	reg.Register("b", protocol.RoleLeader, b)

	reg.CloseAll()

	if reg.Count() != 0 {
		t.Errorf("Count = %d, want 0", reg.Count())
	}
	if !a.isClosed() || !b.isClosed() {
		t.Error("CloseAll left transports open")
	}
}
