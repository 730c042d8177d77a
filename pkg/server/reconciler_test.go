package server

import (
	"context"
	"testing"
	"time"

	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
)

func TestRunOncePushesStatisticsThenSnapshot(t *testing.T) {
	gw := store.NewMemory()
	gw.AddUser(store.User{ID: "member-1", FullName: "Tunde Okafor", Role: "user"})

	reg := NewRegistry(nil)
	tr := &fakeTransport{}
	reg.Register("member-1", protocol.RoleMember, tr)

	rec := NewReconciler(gw, reg, time.Minute, nil)
	rec.RunOnce(context.Background())

	msgs := tr.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("got %d frames, want statistics_update then refresh_data", len(msgs))
	}
	if msgs[0].Type != protocol.TypeStatisticsUpdate {
		t.Errorf("first frame = %q, want statistics_update", msgs[0].Type)
	}
	if msgs[1].Type != protocol.TypeRefreshData {
		t.Errorf("second frame = %q, want refresh_data", msgs[1].Type)
	}

	var stats store.Statistics
	if err := msgs[0].DecodeData(&stats); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if stats.TotalMembers != 1 {
		t.Errorf("TotalMembers = %d, want 1", stats.TotalMembers)
	}
}

// Two passes over unchanged data deliver the same snapshot: the
// reconciler is a pure function of the store.
func TestRunOnceIdempotent(t *testing.T) {
	gw := store.NewMemory()
	gw.AddUser(store.User{ID: "member-1", FullName: "Tunde Okafor", Role: "user"})
	gw.InsertDailyReport(context.Background(), "member-1", protocol.DailyReportFields{})

	reg := NewRegistry(nil)
	tr := &fakeTransport{}
	reg.Register("member-1", protocol.RoleMember, tr)

	rec := NewReconciler(gw, reg, time.Minute, nil)
	rec.RunOnce(context.Background())
	rec.RunOnce(context.Background())

	msgs := tr.messages(t)
	if len(msgs) != 4 {
		t.Fatalf("got %d frames, want 4", len(msgs))
	}
	var first, second store.Snapshot
	if err := msgs[1].DecodeData(&first); err != nil {
		t.Fatal(err)
	}
	if err := msgs[3].DecodeData(&second); err != nil {
		t.Fatal(err)
	}
	if len(first.Reports) != len(second.Reports) || first.Statistics != second.Statistics {
		t.Error("idempotent passes diverged")
	}
}

func TestStartStop(t *testing.T) {
	gw := store.NewMemory()
	reg := NewRegistry(nil)

	rec := NewReconciler(gw, reg, 10*time.Millisecond, nil)
	rec.Start()
	time.Sleep(35 * time.Millisecond)
	rec.Stop()
	// Stop waits for the loop; reaching here without deadlock is the
	// assertion.
}
