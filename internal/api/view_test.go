package api

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"botdash/internal/filter"
	"botdash/internal/model"
	"botdash/internal/reconciler"
	"botdash/internal/storage"
)

type fakeLogs struct {
	mu        sync.Mutex
	entries   []model.LogEntry
	connected bool
}

func (f *fakeLogs) Entries() []model.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.LogEntry(nil), f.entries...)
}

func (f *fakeLogs) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}

func (f *fakeLogs) Connected() bool { return f.connected }

type viewFixture struct {
	srv   http.Handler
	store *storage.SQLite
	recon *reconciler.Reconciler
	logs  *fakeLogs
}

func ptr[T any](v T) *T { return &v }

func newViewFixture(t *testing.T) *viewFixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, l := range []model.Listing{
		{ID: "a", Title: "Sofa", CreatedAt: base},
		{ID: "b", Title: "Lampe", CreatedAt: base.Add(time.Minute), Category: ptr(model.CategoryPickupOnly)},
		{ID: "c", Title: "Spam", CreatedAt: base.Add(2 * time.Minute), FilterStatus: ptr("rejected_ai")},
		{ID: "d", Title: "Tisch", CreatedAt: base.Add(3 * time.Minute), FilterStatus: ptr("passed_ai"), MessageSent: true},
	} {
		if err := store.SaveListing(ctx, &l); err != nil {
			t.Fatalf("save listing %d: %v", i, err)
		}
	}

	recon := reconciler.New(store, testLogger())
	if err := recon.Start(ctx); err != nil {
		t.Fatalf("start reconciler: %v", err)
	}
	t.Cleanup(recon.Stop)
	waitFor(t, "listings", func() bool { return recon.Snapshot().Loaded })

	logs := &fakeLogs{connected: true, entries: []model.LogEntry{
		{Message: "❌ Fehler beim Senden", Category: model.LogError},
		{Message: "✅ gesendet", Category: model.LogSuccess},
		{Message: "🔍 Suche", Category: model.LogInfo},
	}}

	h := NewViewHandler(recon, logs, store, testLogger())
	return &viewFixture{srv: NewViewServer(h, testLogger()), store: store, recon: recon, logs: logs}
}

type listingsResponse struct {
	Listings []model.Listing `json:"listings"`
	Counts   filter.Counts   `json:"counts"`
}

type logsResponse struct {
	Connected bool             `json:"connected"`
	Entries   []model.LogEntry `json:"entries"`
	Counts    filter.LogCounts `json:"counts"`
}

func listingIDs(list []model.Listing) []string {
	out := make([]string, 0, len(list))
	for _, l := range list {
		out = append(out, l.ID)
	}
	return out
}

func TestViewHealth(t *testing.T) {
	f := newViewFixture(t)
	w := doJSON(t, f.srv, http.MethodGet, "/health", "")
	got := decode[map[string]any](t, w)
	want := map[string]any{"status": "ok", "listings_loaded": true, "logs_connected": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestViewListListings(t *testing.T) {
	f := newViewFixture(t)

	tests := []struct {
		query    string
		wantCode int
		wantIDs  []string
	}{
		{query: "", wantCode: 200, wantIDs: []string{"d", "b", "a"}},
		{query: "?status=open", wantCode: 200, wantIDs: []string{"b", "a"}},
		{query: "?status=sent", wantCode: 200, wantIDs: []string{"d"}},
		{query: "?category=abholung", wantCode: 200, wantIDs: []string{"b"}},
		{query: "?category=normal&status=open", wantCode: 200, wantIDs: []string{"a"}},
		{query: "?status=bogus", wantCode: 400},
		{query: "?category=bogus", wantCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := doJSON(t, f.srv, http.MethodGet, "/api/listings"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != 200 {
				return
			}
			got := decode[listingsResponse](t, w)
			if diff := cmp.Diff(tt.wantIDs, listingIDs(got.Listings)); diff != "" {
				t.Errorf("listings mismatch (-want +got):\n%s", diff)
			}
			wantCounts := filter.Counts{All: 3, Open: 2, Sent: 1, Normal: 2, PickupOnly: 1}
			if diff := cmp.Diff(wantCounts, got.Counts); diff != "" {
				t.Errorf("counts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestViewSetStatusFlowsThroughReconciler(t *testing.T) {
	f := newViewFixture(t)

	w := doJSON(t, f.srv, http.MethodPost, "/api/listings/a/status", `{"status":"deleted"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d (%s)", w.Code, w.Body.String())
	}
	waitFor(t, "deleted count", func() bool { return f.recon.Snapshot().Stats.Deleted == 1 })

	w = doJSON(t, f.srv, http.MethodGet, "/api/listings/stats", "")
	got := decode[map[string]any](t, w)
	want := map[string]any{"total": float64(3), "sent": float64(1), "deleted": float64(1), "open": float64(1), "loaded": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	w = doJSON(t, f.srv, http.MethodPost, "/api/listings/a/status", `{"status":"sent"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d (%s)", w.Code, w.Body.String())
	}
	msg, err := f.store.GetSentMessage(context.Background(), "a")
	if err != nil {
		t.Fatalf("get sent message: %v", err)
	}
	if msg.Status != model.SentStatusSent {
		t.Errorf("audit status = %q, want sent", msg.Status)
	}
}

func TestViewSetStatusErrors(t *testing.T) {
	f := newViewFixture(t)

	tests := []struct {
		name, path, body string
		wantCode         int
	}{
		{name: "missing body", path: "/api/listings/a/status", body: `{}`, wantCode: 400},
		{name: "unknown status", path: "/api/listings/a/status", body: `{"status":"archived"}`, wantCode: 400},
		{name: "unknown listing", path: "/api/listings/zzz/status", body: `{"status":"sent"}`, wantCode: 404},
		{name: "unknown category", path: "/api/listings/a/category", body: `{"category":"kaputt"}`, wantCode: 400},
		{name: "category unknown listing", path: "/api/listings/zzz/category", body: `{"category":"defekt"}`, wantCode: 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, f.srv, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestViewSetCategory(t *testing.T) {
	f := newViewFixture(t)

	w := doJSON(t, f.srv, http.MethodPost, "/api/listings/a/category", `{"category":"defective"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d (%s)", w.Code, w.Body.String())
	}
	waitFor(t, "category change", func() bool {
		for _, l := range f.recon.Snapshot().Listings {
			if l.ID == "a" {
				return l.EffectiveCategory() == model.CategoryDefective
			}
		}
		return false
	})
}

type filteredResponse struct {
	Listings []model.Listing         `json:"listings"`
	Counts   filter.ModerationCounts `json:"counts"`
}

func TestViewListFiltered(t *testing.T) {
	f := newViewFixture(t)
	if err := f.store.SetListingFilter(context.Background(), "c", ptr("rejected_ai"), ptr("Werbung")); err != nil {
		t.Fatalf("set filter: %v", err)
	}

	tests := []struct {
		query    string
		wantCode int
		want     []string
	}{
		{query: "", wantCode: 200, want: []string{"d", "c", "b", "a"}},
		{query: "?status=rejected", wantCode: 200, want: []string{"c"}},
		{query: "?status=passed", wantCode: 200, want: []string{"d"}},
		{query: "?q=werbung", wantCode: 200, want: []string{"c"}},
		{query: "?status=passed&q=sofa", wantCode: 200, want: []string{}},
		{query: "?status=pending", wantCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := doJSON(t, f.srv, http.MethodGet, "/api/listings/filtered"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != 200 {
				return
			}
			got := decode[filteredResponse](t, w)
			if diff := cmp.Diff(tt.want, listingIDs(got.Listings)); diff != "" {
				t.Errorf("listings mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(filter.ModerationCounts{All: 4, Passed: 1, Rejected: 1}, got.Counts); diff != "" {
				t.Errorf("counts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestViewRefresh(t *testing.T) {
	f := newViewFixture(t)
	w := doJSON(t, f.srv, http.MethodPost, "/api/listings/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("status code = %d, want 202", w.Code)
	}
}

func TestViewLogs(t *testing.T) {
	f := newViewFixture(t)

	w := doJSON(t, f.srv, http.MethodGet, "/api/logs?category=error", "")
	got := decode[logsResponse](t, w)
	if !got.Connected || len(got.Entries) != 1 || got.Entries[0].Category != model.LogError {
		t.Errorf("logs = %+v", got)
	}
	if diff := cmp.Diff(filter.LogCounts{Success: 1, Error: 1}, got.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	if w := doJSON(t, f.srv, http.MethodGet, "/api/logs?category=loud", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", w.Code)
	}

	if w := doJSON(t, f.srv, http.MethodDelete, "/api/logs", ""); w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", w.Code)
	}
	if n := len(f.logs.Entries()); n != 0 {
		t.Errorf("entries after clear = %d, want 0", n)
	}
}
