package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
)

type routerFixture struct {
	gw     *store.Memory
	reg    *Registry
	router *Router

	member *fakeTransport
	leader *fakeTransport
	super  *fakeTransport

	memberConn *Conn
	leaderConn *Conn
	superConn  *Conn
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	gw := store.NewMemory()
	gw.AddUser(store.User{ID: "leader-1", FullName: "Grace Adeyemi", Role: "admin"})
	gw.AddUser(store.User{ID: "member-1", FullName: "Tunde Okafor", Role: "user", AdminID: "leader-1"})
	gw.AddUser(store.User{ID: "super-1", FullName: "Pastor John", Role: "super_admin"})

	reg := NewRegistry(nil)
	f := &routerFixture{
		gw:     gw,
		reg:    reg,
		router: NewRouter(gw, reg, nil),
		member: &fakeTransport{},
		leader: &fakeTransport{},
		super:  &fakeTransport{},
	}
	f.memberConn = reg.Register("member-1", protocol.RoleMember, f.member)
	f.leaderConn = reg.Register("leader-1", protocol.RoleLeader, f.leader)
	f.superConn = reg.Register("super-1", protocol.RoleSuperAdmin, f.super)
	return f
}

func typed(tb testing.TB, typ protocol.Type, data any) *protocol.Message {
	tb.Helper()
	m, err := protocol.New(typ, data)
	if err != nil {
		tb.Fatalf("New failed: %v", err)
	}
	return m
}

func countType(msgs []*protocol.Message, typ protocol.Type) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func TestAuthAcknowledgesSenderOnly(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeAuth, protocol.AuthData{UserID: "member-1", Role: protocol.RoleMember}))

	if countType(f.member.messages(t), protocol.TypeAuthSuccess) != 1 {
		t.Error("sender did not receive auth_success")
	}
	if len(f.leader.writes) != 0 || len(f.super.writes) != 0 {
		t.Error("auth_success leaked beyond the sender")
	}

	// The handshake touches liveness.
	members, _ := f.gw.ActiveMembers(context.Background())
	if len(members) == 0 || members[0].LastActive.IsZero() {
		t.Error("auth did not touch last_active")
	}
}

func TestDailyReportFanOut(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeDailyReportSubmitted, protocol.DailyReportData{
			UserName:   "Tunde Okafor",
			ReportData: protocol.DailyReportFields{},
		}))

	// Storage first.
	reports, err := f.gw.RecentReports(context.Background())
	if err != nil || len(reports) != 1 {
		t.Fatalf("report not persisted: %v, %d rows", err, len(reports))
	}

	// Leaders hear the named notice; the member does not.
	for _, tr := range []*fakeTransport{f.leader, f.super} {
		msgs := tr.messages(t)
		if countType(msgs, protocol.TypeReportSubmitted) != 1 {
			t.Error("privileged connection missing report_submitted")
		}
		if countType(msgs, protocol.TypeNewReportSubmitted) != 1 {
			t.Error("privileged connection missing snapshot signal")
		}
	}
	memberMsgs := f.member.messages(t)
	if countType(memberMsgs, protocol.TypeReportSubmitted) != 0 {
		t.Error("member received the privileged notice")
	}
	if countType(memberMsgs, protocol.TypeNewReportSubmitted) != 1 {
		t.Error("member missing snapshot signal")
	}

	// The notice names the submitter and the stored row.
	for _, m := range f.leader.messages(t) {
		if m.Type != protocol.TypeReportSubmitted {
			continue
		}
		var data protocol.ReportSubmittedData
		if err := m.DecodeData(&data); err != nil {
			t.Fatalf("DecodeData failed: %v", err)
		}
		if data.UserName != "Tunde Okafor" || data.ReportID != reports[0].ID {
			t.Errorf("notice payload wrong: %+v", data)
		}
	}
}

// failingGateway makes report writes fail while everything else works.
type failingGateway struct {
	store.Gateway
}

func (f *failingGateway) InsertDailyReport(ctx context.Context, userID string, fields protocol.DailyReportFields) (string, error) {
	return "", errors.New("disk on fire")
}

func TestFailedWriteSuppressesBroadcast(t *testing.T) {
	f := newRouterFixture(t)
	f.router.gw = &failingGateway{Gateway: f.gw}

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeDailyReportSubmitted, protocol.DailyReportData{UserName: "Tunde Okafor"}))

	if len(f.leader.writes) != 0 || len(f.super.writes) != 0 || len(f.member.writes) != 0 {
		t.Error("a failed write still produced a broadcast")
	}
}

func TestFieldUpdateReachesPrivilegedOnly(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeFieldUpdate, protocol.FieldUpdateData{Field: "evangelism", Value: 3}))

	// Draft state persisted.
	fields, err := f.gw.SessionFields(context.Background(), "member-1")
	if err != nil {
		t.Fatalf("SessionFields failed: %v", err)
	}
	if _, ok := fields["evangelism"]; !ok {
		t.Error("field update not merged into session state")
	}

	if countType(f.leader.messages(t), protocol.TypeUserFieldUpdate) != 1 {
		t.Error("leader missing user_field_update")
	}
	if len(f.member.writes) != 0 {
		t.Error("member received their own field echo")
	}
}

func TestAutoSavePersistsWithoutBroadcast(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeAutoSaveDailyReport, map[string]any{"evangelism": 2}))

	if _, err := f.gw.SessionFields(context.Background(), "member-1"); err != nil {
		t.Fatalf("auto-save did not persist: %v", err)
	}
	if len(f.leader.writes) != 0 || len(f.member.writes) != 0 {
		t.Error("auto-save produced a broadcast")
	}
}

func TestNewEventBroadcastsToEveryone(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.superConn,
		typed(t, protocol.TypeNewEvent, protocol.NewEventData{
			Title: "National Convention",
			Date:  "2026-10-01",
		}))

	events, err := f.gw.UpcomingEvents(context.Background())
	if err != nil || len(events) != 1 {
		t.Fatalf("event not persisted: %v, %d rows", err, len(events))
	}
	if !events[0].IsGlobal {
		t.Error("super admin event not marked global")
	}

	for _, tr := range []*fakeTransport{f.member, f.leader, f.super} {
		msgs := tr.messages(t)
		if countType(msgs, protocol.TypeNewEvent) != 1 {
			t.Error("connection missing new_event")
		}
		if countType(msgs, protocol.TypeEventUpdate) != 1 {
			t.Error("connection missing event_update")
		}
	}

	notes, _ := f.gw.NotificationsByUser(context.Background(), "member-1")
	if len(notes) != 1 {
		t.Errorf("event notification rows = %d, want 1", len(notes))
	}
}

func TestLeaderEventNotGlobal(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.leaderConn,
		typed(t, protocol.TypeNewEvent, protocol.NewEventData{Title: "Cell Meeting", Date: "2026-09-15"}))

	events, _ := f.gw.UpcomingEvents(context.Background())
	if len(events) != 1 || events[0].IsGlobal {
		t.Errorf("leader event rows = %+v, want one non-global", events)
	}
}

func TestMemberJoinedNotifiesLeader(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeMemberJoined, protocol.MemberJoinedData{
			Name:    "Tunde Okafor",
			AdminID: "leader-1",
		}))

	if countType(f.leader.messages(t), protocol.TypeMemberJoined) != 1 {
		t.Error("assigned leader missing member_joined notice")
	}
	if countType(f.super.messages(t), protocol.TypeMemberJoined) != 0 {
		t.Error("member_joined notice leaked beyond the assigned leader")
	}

	for _, tr := range []*fakeTransport{f.member, f.leader, f.super} {
		if countType(tr.messages(t), protocol.TypeNewMemberJoined) != 1 {
			t.Error("connection missing new_member_joined snapshot")
		}
	}

	members, _ := f.gw.MembersByLeader(context.Background(), "leader-1")
	if len(members) != 1 || !members[0].ProfileCompleted {
		t.Error("profile not marked completed")
	}
}

func TestRequestInitialDataScopedToSender(t *testing.T) {
	f := newRouterFixture(t)
	f.gw.InsertDailyReport(context.Background(), "member-1", protocol.DailyReportFields{})

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeRequestInitialData, nil))

	msgs := f.member.messages(t)
	if countType(msgs, protocol.TypeInitialData) != 1 {
		t.Fatal("sender missing initial_data")
	}
	var snap store.Snapshot
	if err := msgs[0].DecodeData(&snap); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if len(snap.Members) != 0 {
		t.Error("member snapshot includes roster")
	}
	if len(f.leader.writes) != 0 {
		t.Error("initial_data leaked beyond the requester")
	}
}

func TestDataUpdateForwardedToPrivileged(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		typed(t, protocol.TypeDataUpdate, protocol.DataUpdateData{Field: "statistics"}))

	for _, tr := range []*fakeTransport{f.leader, f.super} {
		msgs := tr.messages(t)
		if countType(msgs, protocol.TypeDataUpdate) != 1 {
			t.Fatal("privileged connection missing forwarded data_update")
		}
		if msgs[0].UserID != "member-1" {
			t.Errorf("forwarded message UserID = %q, want sender", msgs[0].UserID)
		}
	}
	if len(f.member.writes) != 0 {
		t.Error("data_update echoed to the sender")
	}

	// Nothing persisted.
	reports, _ := f.gw.RecentReports(context.Background())
	if len(reports) != 0 {
		t.Error("data_update wrote to the store")
	}
}

func TestUnknownTypeDroppedQuietly(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		&protocol.Message{Type: "telepathy", Data: []byte(`{}`)})

	if len(f.member.writes) != 0 || len(f.leader.writes) != 0 || len(f.super.writes) != 0 {
		t.Error("unknown type produced traffic")
	}
}

func TestMalformedPayloadDoesNotPanic(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Dispatch(context.Background(), f.memberConn,
		&protocol.Message{Type: protocol.TypeDailyReportSubmitted, Data: []byte(`"not an object"`)})

	reports, _ := f.gw.RecentReports(context.Background())
	if len(reports) != 0 {
		t.Error("malformed payload persisted a report")
	}
}

func TestBirthdayUpdateFanOut(t *testing.T) {
	f := newRouterFixture(t)

	today := time.Now().Format("2006-01-02")
	f.router.Dispatch(context.Background(), f.leaderConn,
		typed(t, protocol.TypeBirthdayUpdate, []protocol.BirthdayEntry{
			{UserID: "member-1", Name: "Tunde Okafor", Date: today, Age: 30},
		}))

	msgs := f.member.messages(t)
	if countType(msgs, protocol.TypeBirthdayUpdate) != 1 {
		t.Error("member missing birthday_update")
	}
}
