package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"botdash/internal/model"
	"botdash/internal/storage"
)

// --- fakes ---

type fakeSource struct {
	mu           sync.Mutex
	listings     []model.Listing
	err          error
	block        chan struct{}
	reads        int
	limits       []int
	fn           func(model.Change)
	unsubscribed bool
}

func (f *fakeSource) RecentVisibleListings(ctx context.Context, limit int) ([]model.Listing, error) {
	f.mu.Lock()
	f.reads++
	f.limits = append(f.limits, limit)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Listing, len(f.listings))
	copy(out, f.listings)
	return out, nil
}

func (f *fakeSource) SubscribeListings(fn func(model.Change)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

// push delivers c even after unsubscribe, like a late network callback.
func (f *fakeSource) push(c model.Change) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(c)
}

func (f *fakeSource) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startReconciler(t *testing.T, src Source) *Reconciler {
	t.Helper()
	r := New(src, testLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func waitIDs(t *testing.T, r *Reconciler, want []string) {
	t.Helper()
	waitFor(t, fmt.Sprintf("listings %v", want), func() bool {
		return cmp.Equal(want, ids(r.Snapshot().Listings))
	})
}

// --- tests ---

func TestReconcilerInitialLoad(t *testing.T) {
	src := &fakeSource{listings: []model.Listing{
		listing("A", nil),
		listing("R", ptr("rejected_ai")),
		listing("B", ptr("passed_ai")),
	}}
	r := New(src, testLogger())
	r.SetLimit(25)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	waitFor(t, "load", func() bool { return r.Snapshot().Loaded })

	if diff := cmp.Diff([]string{"A", "B"}, ids(r.Snapshot().Listings)); diff != "" {
		t.Errorf("listings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.Stats{Total: 2, Open: 2}, r.Snapshot().Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	src.mu.Lock()
	limits := src.limits
	src.mu.Unlock()
	if diff := cmp.Diff([]int{25}, limits); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilerEventsDuringLoadApplyAfterSeed(t *testing.T) {
	src := &fakeSource{
		listings: []model.Listing{listing("A", nil), listing("B", nil)},
		block:    make(chan struct{}),
	}
	r := startReconciler(t, src)

	waitFor(t, "read started", func() bool { return src.readCount() == 1 })
	src.push(model.Change{Kind: model.ChangeInsert, Listing: ptr(listing("C", nil))})
	src.push(model.Change{Kind: model.ChangeDelete, ID: "B"})
	close(src.block)

	waitIDs(t, r, []string{"C", "A"})
}

func TestReconcilerScenarios(t *testing.T) {
	deletedA := listing("A", nil)
	deletedA.Deleted = true

	tests := []struct {
		name      string
		seed      []model.Listing
		events    []model.Change
		wantIDs   []string
		wantStats model.Stats
	}{
		{
			name: "rejected record becomes visible through update",
			events: []model.Change{
				{Kind: model.ChangeInsert, Listing: ptr(listing("A", nil))},
				{Kind: model.ChangeInsert, Listing: ptr(listing("B", ptr("rejected_ai")))},
				{Kind: model.ChangeUpdate, Listing: ptr(listing("B", ptr("passed_ai")))},
			},
			wantIDs:   []string{"B", "A"},
			wantStats: model.Stats{Total: 2, Open: 2},
		},
		{
			name: "deleted flag keeps visible record",
			seed: []model.Listing{listing("A", nil), listing("B", nil)},
			events: []model.Change{
				{Kind: model.ChangeUpdate, Listing: &deletedA},
			},
			wantIDs:   []string{"A", "B"},
			wantStats: model.Stats{Total: 2, Deleted: 1, Open: 1},
		},
		{
			name: "rejection evicts",
			seed: []model.Listing{listing("A", nil), listing("B", nil)},
			events: []model.Change{
				{Kind: model.ChangeUpdate, Listing: ptr(listing("A", ptr("rejected_ai")))},
			},
			wantIDs:   []string{"B"},
			wantStats: model.Stats{Total: 1, Open: 1},
		},
		{
			name: "duplicate insert overwrites",
			seed: []model.Listing{listing("A", nil)},
			events: []model.Change{
				{Kind: model.ChangeInsert, Listing: ptr(listing("A", nil))},
				{Kind: model.ChangeInsert, Listing: ptr(listing("A", nil))},
			},
			wantIDs:   []string{"A"},
			wantStats: model.Stats{Total: 1, Open: 1},
		},
		{
			name: "repeated delete is a no-op",
			seed: []model.Listing{listing("A", nil), listing("B", nil)},
			events: []model.Change{
				{Kind: model.ChangeDelete, ID: "A"},
				{Kind: model.ChangeDelete, ID: "A"},
				{Kind: model.ChangeDelete, ID: "missing"},
			},
			wantIDs:   []string{"B"},
			wantStats: model.Stats{Total: 1, Open: 1},
		},
		{
			name: "malformed events are dropped",
			seed: []model.Listing{listing("A", nil)},
			events: []model.Change{
				{Kind: "upsert", Listing: ptr(listing("X", nil))},
				{Kind: model.ChangeInsert},
				{Kind: model.ChangeUpdate, Listing: ptr(listing("", nil))},
				{Kind: model.ChangeDelete},
				{Kind: model.ChangeInsert, Listing: ptr(listing("B", nil))},
			},
			wantIDs:   []string{"B", "A"},
			wantStats: model.Stats{Total: 2, Open: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{listings: tt.seed}
			r := startReconciler(t, src)
			waitFor(t, "load", func() bool { return r.Snapshot().Loaded })

			for _, ev := range tt.events {
				src.push(ev)
			}
			waitFor(t, fmt.Sprintf("listings %v", tt.wantIDs), func() bool {
				s := r.Snapshot()
				return cmp.Equal(tt.wantIDs, ids(s.Listings)) && s.Stats == tt.wantStats
			})
		})
	}
}

func TestReconcilerRefreshReplaces(t *testing.T) {
	src := &fakeSource{listings: []model.Listing{listing("A", nil), listing("B", nil)}}
	r := startReconciler(t, src)
	waitIDs(t, r, []string{"A", "B"})

	src.push(model.Change{Kind: model.ChangeInsert, Listing: ptr(listing("C", nil))})
	waitIDs(t, r, []string{"C", "A", "B"})

	src.mu.Lock()
	src.listings = []model.Listing{listing("C", nil), listing("A", nil)}
	src.mu.Unlock()
	r.Refresh()
	r.Refresh()

	waitFor(t, "two more reads", func() bool { return src.readCount() == 3 })
	waitIDs(t, r, []string{"C", "A"})
}

func TestReconcilerLoadErrorKeepsState(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := startReconciler(t, src)

	waitFor(t, "first read", func() bool { return src.readCount() == 1 })
	// Events still apply on top of the empty collection.
	src.push(model.Change{Kind: model.ChangeInsert, Listing: ptr(listing("A", nil))})
	waitIDs(t, r, []string{"A"})
	if r.Snapshot().Loaded {
		t.Error("expected Loaded to stay false after failed read")
	}

	r.Refresh()
	waitFor(t, "second read", func() bool { return src.readCount() == 2 })
	time.Sleep(20 * time.Millisecond)
	if diff := cmp.Diff([]string{"A"}, ids(r.Snapshot().Listings)); diff != "" {
		t.Errorf("listings mismatch (-want +got):\n%s", diff)
	}

	src.mu.Lock()
	src.err = nil
	src.listings = []model.Listing{listing("B", nil)}
	src.mu.Unlock()
	r.Refresh()

	waitFor(t, "load", func() bool { return r.Snapshot().Loaded })
	if diff := cmp.Diff([]string{"B"}, ids(r.Snapshot().Listings)); diff != "" {
		t.Errorf("listings mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilerObservers(t *testing.T) {
	src := &fakeSource{listings: []model.Listing{listing("A", nil)}}
	r := New(src, testLogger())

	var mu sync.Mutex
	var got [][]string
	unsubscribe := r.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, ids(s.Listings))
		mu.Unlock()
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	waitFor(t, "initial snapshot", func() bool { return count() == 1 })
	src.push(model.Change{Kind: model.ChangeInsert, Listing: ptr(listing("B", nil))})
	waitFor(t, "insert snapshot", func() bool { return count() == 2 })

	unsubscribe()
	src.push(model.Change{Kind: model.ChangeDelete, ID: "A"})
	waitIDs(t, r, []string{"B"})

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([][]string{{"A"}, {"B", "A"}}, got); diff != "" {
		t.Errorf("observed snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilerObserversRunInRegistrationOrder(t *testing.T) {
	src := &fakeSource{listings: []model.Listing{listing("A", nil)}}
	r := New(src, testLogger())

	var mu sync.Mutex
	var order []int
	for i := range 5 {
		r.Subscribe(func(Snapshot) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	unsubscribe := r.Subscribe(func(Snapshot) {
		mu.Lock()
		order = append(order, 99)
		mu.Unlock()
	})
	unsubscribe()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	waitFor(t, "initial snapshot", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})
	src.push(model.Change{Kind: model.ChangeInsert, Listing: ptr(listing("B", nil))})
	waitFor(t, "insert snapshot", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 10
	})

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 0, 1, 2, 3, 4}, order); diff != "" {
		t.Errorf("observer order mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilerStop(t *testing.T) {
	src := &fakeSource{listings: []model.Listing{listing("A", nil)}}
	r := New(src, testLogger())

	var mu sync.Mutex
	calls := 0
	r.Subscribe(func(Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "load", func() bool { return r.Snapshot().Loaded })

	r.Stop()
	r.Stop()

	mu.Lock()
	before := calls
	mu.Unlock()

	src.push(model.Change{Kind: model.ChangeInsert, Listing: ptr(listing("B", nil))})
	r.Refresh()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != before {
		t.Errorf("observer called %d times after stop", calls-before)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.unsubscribed {
		t.Error("expected change feed to be released")
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error starting a stopped reconciler")
	}
}

func TestReconcilerStopDuringLoad(t *testing.T) {
	src := &fakeSource{
		listings: []model.Listing{listing("A", nil)},
		block:    make(chan struct{}),
	}
	r := New(src, testLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "read started", func() bool { return src.readCount() == 1 })

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while bulk read was blocked")
	}
	if r.Snapshot().Loaded {
		t.Error("expected no snapshot after stop during load")
	}
}

func TestReconcilerStartTwice(t *testing.T) {
	r := startReconciler(t, &fakeSource{})
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
}

func TestReconcilerWithSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, l := range []model.Listing{
		{ID: "old", Title: "Old", CreatedAt: base},
		{ID: "rejected", Title: "Rejected", CreatedAt: base.Add(time.Minute), FilterStatus: ptr("rejected_ai")},
		{ID: "new", Title: "New", CreatedAt: base.Add(2 * time.Minute), FilterStatus: ptr("passed_ai")},
	} {
		if err := store.SaveListing(ctx, &l); err != nil {
			t.Fatalf("save listing %d: %v", i, err)
		}
	}

	r := startReconciler(t, store)
	waitIDs(t, r, []string{"new", "old"})

	if err := store.SetListingFilter(ctx, "rejected", ptr("passed_manual"), nil); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	waitIDs(t, r, []string{"rejected", "new", "old"})

	if err := store.SetListingStatus(ctx, "old", model.StatusSent); err != nil {
		t.Fatalf("set status: %v", err)
	}
	waitFor(t, "sent count", func() bool { return r.Snapshot().Stats.Sent == 1 })

	if err := store.SetListingFilter(ctx, "new", ptr("rejected_manual"), nil); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if err := store.DeleteListing(ctx, "old"); err != nil {
		t.Fatalf("delete listing: %v", err)
	}
	waitIDs(t, r, []string{"rejected"})

	if diff := cmp.Diff(model.Stats{Total: 1, Open: 1}, r.Snapshot().Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilerFollowsAnotherProcessWritingTheFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dashboard.db")
	open := func() *storage.SQLite {
		s, err := storage.NewSQLite(path)
		if err != nil {
			t.Fatalf("new sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	dash := open()
	bot := open()

	r := startReconciler(t, dash)
	waitFor(t, "initial load", func() bool { return r.Snapshot().Loaded })

	watchCtx, cancel := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		dash.Watch(watchCtx, 10*time.Millisecond, testLogger())
		close(watched)
	}()
	t.Cleanup(func() {
		cancel()
		<-watched
	})

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	a := &model.Listing{ID: "A", Title: "Sofa", CreatedAt: base}
	if err := bot.SaveListing(ctx, a); err != nil {
		t.Fatalf("save A: %v", err)
	}
	waitIDs(t, r, []string{"A"})

	b := &model.Listing{ID: "B", Title: "Lampe", CreatedAt: base.Add(time.Minute), FilterStatus: ptr("pending")}
	if err := bot.SaveListing(ctx, b); err != nil {
		t.Fatalf("save B: %v", err)
	}
	if err := bot.SetListingFilter(ctx, "B", ptr("passed_ai"), nil); err != nil {
		t.Fatalf("pass B: %v", err)
	}
	waitIDs(t, r, []string{"B", "A"})

	if err := bot.SetListingFilter(ctx, "A", ptr("rejected_ai"), ptr("defekt")); err != nil {
		t.Fatalf("reject A: %v", err)
	}
	waitIDs(t, r, []string{"B"})

	if err := bot.DeleteListing(ctx, "B"); err != nil {
		t.Fatalf("delete B: %v", err)
	}
	waitIDs(t, r, []string{})
}
