package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"botdash/internal/filter"
	"botdash/internal/model"
	"botdash/internal/reconciler"
	"botdash/internal/storage"
)

// ListingSource is the reconciled listing store.
type ListingSource interface {
	Snapshot() reconciler.Snapshot
	Refresh()
}

// LogSource is the classified log ring of the streaming client.
type LogSource interface {
	Entries() []model.LogEntry
	Clear()
	Connected() bool
}

// ListingStore changes listings in the record store and reads the latest
// ones regardless of their filter outcome.
type ListingStore interface {
	SetListingStatus(ctx context.Context, id string, status model.ListingStatus) error
	SetListingCategory(ctx context.Context, id string, category model.Category) error
	RecentListings(ctx context.Context, limit int) ([]model.Listing, error)
}

// ViewHandler serves the dashboard view API.
type ViewHandler struct {
	listings ListingSource
	logs     LogSource
	store    ListingStore
	log      *slog.Logger
}

// NewViewHandler creates a ViewHandler.
func NewViewHandler(listings ListingSource, logs LogSource, store ListingStore, log *slog.Logger) *ViewHandler {
	return &ViewHandler{listings: listings, logs: logs, store: store, log: log}
}

// NewViewServer creates the view API engine.
func NewViewServer(h *ViewHandler, log *slog.Logger) *gin.Engine {
	r := newEngine(log)

	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/listings", h.ListListings)
		api.GET("/listings/stats", h.ListingStats)
		api.GET("/listings/filtered", h.ListFiltered)
		api.POST("/listings/refresh", h.RefreshListings)
		api.POST("/listings/:id/status", h.SetStatus)
		api.POST("/listings/:id/category", h.SetCategory)
		api.GET("/logs", h.ListLogs)
		api.DELETE("/logs", h.ClearLogs)
	}
	return r
}

// Health reports whether the live sources are up.
func (h *ViewHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"listings_loaded": h.listings.Snapshot().Loaded,
		"logs_connected":  h.logs.Connected(),
	})
}

// ListListings returns the filtered listings and the filter pill counts.
func (h *ViewHandler) ListListings(c *gin.Context) {
	status, err := filter.ParseStatus(c.Query("status"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	category, err := filter.ParseCategory(c.Query("category"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	all := h.listings.Snapshot().Listings
	c.JSON(http.StatusOK, gin.H{
		"listings": filter.Listings(all, status, category),
		"counts":   filter.CountListings(all),
	})
}

// ListingStats returns the aggregate counts of the reconciled collection.
func (h *ViewHandler) ListingStats(c *gin.Context) {
	snap := h.listings.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"total":   snap.Stats.Total,
		"sent":    snap.Stats.Sent,
		"deleted": snap.Stats.Deleted,
		"open":    snap.Stats.Open,
		"loaded":  snap.Loaded,
	})
}

// ListFiltered returns the latest listings including rejected ones, narrowed
// by filter outcome and a search over title and filter reason.
func (h *ViewHandler) ListFiltered(c *gin.Context) {
	m, err := filter.ParseModeration(c.Query("status"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	all, err := h.store.RecentListings(c.Request.Context(), filter.ModerationWindow)
	if err != nil {
		h.log.Error("load moderated listings", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load listings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": filter.Moderated(all, m, c.Query("q")),
		"counts":   filter.CountModeration(all),
	})
}

// RefreshListings schedules a new bulk read.
func (h *ViewHandler) RefreshListings(c *gin.Context) {
	h.listings.Refresh()
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

// SetStatus marks a listing open, sent or deleted.
func (h *ViewHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "missing status", err)
		return
	}
	status, ok := model.ParseListingStatus(req.Status)
	if !ok {
		fail(c, http.StatusBadRequest, "status must be open, sent or deleted", nil)
		return
	}

	id := c.Param("id")
	if err := h.store.SetListingStatus(c.Request.Context(), id, status); err != nil {
		h.mutationFailed(c, id, err)
		return
	}
	h.log.Info("listing status changed", "listing_id", id, "status", status)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

// SetCategory changes a listing's category.
func (h *ViewHandler) SetCategory(c *gin.Context) {
	var req struct {
		Category string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "missing category", err)
		return
	}
	category, ok := model.ParseCategory(req.Category)
	if !ok {
		fail(c, http.StatusBadRequest, "category must be normal, abholung or defekt", nil)
		return
	}

	id := c.Param("id")
	if err := h.store.SetListingCategory(c.Request.Context(), id, category); err != nil {
		h.mutationFailed(c, id, err)
		return
	}
	h.log.Info("listing category changed", "listing_id", id, "category", category)
	c.JSON(http.StatusOK, gin.H{"id": id, "category": category})
}

// ListLogs returns the classified log entries, newest first.
func (h *ViewHandler) ListLogs(c *gin.Context) {
	f, err := filter.ParseLog(c.Query("category"))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	entries := h.logs.Entries()
	c.JSON(http.StatusOK, gin.H{
		"connected": h.logs.Connected(),
		"entries":   filter.Logs(entries, f),
		"counts":    filter.CountLogs(entries),
	})
}

// ClearLogs empties the log view.
func (h *ViewHandler) ClearLogs(c *gin.Context) {
	h.logs.Clear()
	c.Status(http.StatusNoContent)
}

func (h *ViewHandler) mutationFailed(c *gin.Context, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "listing not found", nil)
		return
	}
	h.log.Error("update listing", "listing_id", id, "error", err)
	fail(c, http.StatusInternalServerError, "failed to update listing", err)
}
