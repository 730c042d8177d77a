package client

import (
	"sync"
	"testing"
	"time"

	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
)

// fakeFeed records sent messages and lets tests inject inbound ones.
type fakeFeed struct {
	mu       sync.Mutex
	sent     []*protocol.Message
	handlers []func(*protocol.Message)
}

func (f *fakeFeed) Send(m *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeFeed) OnMessage(fn func(*protocol.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fn)
	return func() {}
}

func (f *fakeFeed) inject(tb testing.TB, typ protocol.Type, data any) {
	tb.Helper()
	m, err := protocol.New(typ, data)
	if err != nil {
		tb.Fatalf("New failed: %v", err)
	}
	// Round-trip so DecodeData sees real JSON, like the wire would.
	raw, err := m.Encode()
	if err != nil {
		tb.Fatalf("Encode failed: %v", err)
	}
	decoded, err := protocol.Decode(raw)
	if err != nil {
		tb.Fatalf("Decode failed: %v", err)
	}

	f.mu.Lock()
	handlers := append([]func(*protocol.Message){}, f.handlers...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(decoded)
	}
}

func (f *fakeFeed) sentTypes() []protocol.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Type, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Type)
	}
	return out
}

func TestInitialDataReplacesSnapshot(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	notified := 0
	cache.Subscribe(func() { notified++ })

	feed.inject(t, protocol.TypeInitialData, store.Snapshot{
		Events:     []store.Event{{ID: "e1", Title: "Convention"}},
		Statistics: store.Statistics{TotalMembers: 12},
	})

	snap := cache.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].Title != "Convention" {
		t.Errorf("events not replaced: %+v", snap.Events)
	}
	if snap.Statistics.TotalMembers != 12 {
		t.Errorf("statistics not replaced: %+v", snap.Statistics)
	}
	if notified != 1 {
		t.Errorf("subscribers notified %d times, want 1", notified)
	}
}

func TestStatisticsUpdatePatchesOnlyStatistics(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	feed.inject(t, protocol.TypeInitialData, store.Snapshot{
		Events: []store.Event{{ID: "e1"}},
	})
	feed.inject(t, protocol.TypeStatisticsUpdate, store.Statistics{PendingReports: 4})

	snap := cache.Snapshot()
	if snap.Statistics.PendingReports != 4 {
		t.Errorf("statistics not patched: %+v", snap.Statistics)
	}
	if len(snap.Events) != 1 {
		t.Error("statistics patch disturbed events")
	}
}

func TestNewEventAppends(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	feed.inject(t, protocol.TypeNewEvent, store.Event{ID: "e1", Title: "Vigil"})
	feed.inject(t, protocol.TypeNewEvent, store.Event{ID: "e2", Title: "Retreat"})

	if got := len(cache.Snapshot().Events); got != 2 {
		t.Errorf("events = %d, want 2 appended", got)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	notified := 0
	unsub := cache.Subscribe(func() { notified++ })
	feed.inject(t, protocol.TypeStatisticsUpdate, store.Statistics{})
	unsub()
	feed.inject(t, protocol.TypeStatisticsUpdate, store.Statistics{})

	if notified != 1 {
		t.Errorf("notified %d times, want 1", notified)
	}
}

func TestNonSnapshotSignalsIgnored(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	notified := 0
	cache.Subscribe(func() { notified++ })

	feed.inject(t, protocol.TypeReportSubmitted, protocol.ReportSubmittedData{UserName: "Tunde"})
	feed.inject(t, protocol.TypeAuthSuccess, protocol.AuthSuccessData{Message: "ok"})

	if notified != 0 {
		t.Errorf("notice-only signals changed the snapshot %d times", notified)
	}
}

func TestUpdateDataOptimisticThenReload(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	events := []store.Event{{ID: "local", Title: "Draft Event"}}
	if err := cache.UpdateData("events", events); err != nil {
		t.Fatalf("UpdateData failed: %v", err)
	}

	// The local patch lands immediately.
	if got := cache.Snapshot().Events; len(got) != 1 || got[0].ID != "local" {
		t.Errorf("optimistic patch missing: %+v", got)
	}

	// The edit is mirrored out at once.
	types := feed.sentTypes()
	if len(types) != 1 || types[0] != protocol.TypeDataUpdate {
		t.Fatalf("sent = %v, want one data_update", types)
	}

	// One reload delay later the cache asks for truth.
	deadline := time.Now().Add(3 * ReloadDelay)
	for {
		types = feed.sentTypes()
		if len(types) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reload requested after ReloadDelay")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if types[1] != protocol.TypeRequestInitialData {
		t.Errorf("reload message = %q, want request_initial_data", types[1])
	}
}

// Rapid edits share one pending reload.
func TestUpdateDataCoalescesReloads(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	for i := 0; i < 5; i++ {
		cache.UpdateData("statistics", store.Statistics{PendingReports: i})
	}

	time.Sleep(2 * ReloadDelay)

	reloads := 0
	for _, typ := range feed.sentTypes() {
		if typ == protocol.TypeRequestInitialData {
			reloads++
		}
	}
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1 coalesced", reloads)
	}
}

func TestCloseCancelsPendingReload(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)

	cache.UpdateData("statistics", store.Statistics{})
	cache.Close()

	time.Sleep(2 * ReloadDelay)

	for _, typ := range feed.sentTypes() {
		if typ == protocol.TypeRequestInitialData {
			t.Error("reload fired after Close")
		}
	}
}

func TestPeriodicRefresh(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCacheWithConfig(feed, nil, CacheConfig{RefreshInterval: 20 * time.Millisecond})

	time.Sleep(110 * time.Millisecond)
	cache.Close()

	refreshes := 0
	for _, typ := range feed.sentTypes() {
		if typ == protocol.TypeRequestInitialData {
			refreshes++
		}
	}
	if refreshes < 2 {
		t.Errorf("refreshes = %d, want at least 2", refreshes)
	}

	before := refreshes
	time.Sleep(60 * time.Millisecond)
	after := 0
	for _, typ := range feed.sentTypes() {
		if typ == protocol.TypeRequestInitialData {
			after++
		}
	}
	if after != before {
		t.Errorf("refresh loop still running after Close: %d -> %d", before, after)
	}
}

func TestStatisticsUpdateMergesPartialPayload(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	feed.inject(t, protocol.TypeInitialData, store.Snapshot{
		Statistics: store.Statistics{TotalMembers: 12, DailyReports: 5, MonthlyReports: 2},
	})
	// The global stats block omits the role-scoped counters on the wire;
	// folding it in must not zero them.
	feed.inject(t, protocol.TypeStatisticsUpdate, store.Statistics{TotalMembers: 40, PendingReports: 3})

	stats := cache.Statistics()
	if stats.TotalMembers != 40 || stats.PendingReports != 3 {
		t.Errorf("update not applied: %+v", stats)
	}
	if stats.DailyReports != 5 || stats.MonthlyReports != 2 {
		t.Errorf("role-scoped counters lost: %+v", stats)
	}
}

func TestDataUpdateFromPeerPatchesField(t *testing.T) {
	feed := &fakeFeed{}
	cache := NewCache(feed, nil)
	defer cache.Close()

	notified := 0
	cache.Subscribe(func() { notified++ })

	feed.inject(t, protocol.TypeDataUpdate, protocol.DataUpdateData{
		Field:   "events",
		Payload: []store.Event{{ID: "e1", Title: "Convention"}},
	})

	snap := cache.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].ID != "e1" {
		t.Errorf("events not patched: %+v", snap.Events)
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}

	// An unrecognized field changes nothing and stays quiet.
	feed.inject(t, protocol.TypeDataUpdate, protocol.DataUpdateData{
		Field:   "bogus",
		Payload: 7,
	})
	if got := cache.Snapshot(); len(got.Events) != 1 {
		t.Errorf("unknown field disturbed snapshot: %+v", got)
	}
	if notified != 1 {
		t.Errorf("notified = %d after unknown field, want 1", notified)
	}
}
