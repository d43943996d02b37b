package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"botdash/internal/model"
	"botdash/internal/storage"
)

// ListingWriter stores the listings the bot produces.
type ListingWriter interface {
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	SaveListing(ctx context.Context, l *model.Listing) error
	SetListingFilter(ctx context.Context, id string, status, reason *string) error
	DeleteListing(ctx context.Context, id string) error
}

type ingestRequest struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        string    `json:"price"`
	Link         string    `json:"link"`
	Location     *string   `json:"location"`
	CreatedAt    time.Time `json:"created_at"`
	FilterStatus *string   `json:"filter_status"`
	FilterReason *string   `json:"filter_reason"`
}

// CreateListing stores a new listing. Operator fields (sent, deleted,
// category) start unset; an ID that already exists is a conflict.
func (h *JobHandler) CreateListing(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid listing", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, "title is required", nil)
		return
	}

	ctx := c.Request.Context()
	if req.ID != "" {
		_, err := h.store.GetListing(ctx, req.ID)
		if err == nil {
			fail(c, http.StatusConflict, "listing already exists", nil)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusInternalServerError, "failed to check listing", err)
			return
		}
	}

	l := &model.Listing{
		ID:           req.ID,
		Title:        req.Title,
		Price:        req.Price,
		Link:         req.Link,
		Location:     req.Location,
		CreatedAt:    req.CreatedAt,
		FilterStatus: req.FilterStatus,
		FilterReason: req.FilterReason,
	}
	if err := h.store.SaveListing(ctx, l); err != nil {
		h.log.Error("save listing", "title", req.Title, "error", err)
		fail(c, http.StatusInternalServerError, "failed to save listing", err)
		return
	}
	h.log.Info("listing ingested", "listing_id", l.ID, "title", l.Title)
	c.JSON(http.StatusCreated, l)
}

// SetFilter records the filter outcome of a listing.
func (h *JobHandler) SetFilter(c *gin.Context) {
	var req struct {
		Status *string `json:"status"`
		Reason *string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid filter result", err)
		return
	}

	id := c.Param("id")
	if err := h.store.SetListingFilter(c.Request.Context(), id, req.Status, req.Reason); err != nil {
		h.writeFailed(c, id, err)
		return
	}
	h.log.Info("listing filtered", "listing_id", id, "passed", req.Status != nil && strings.Contains(*req.Status, "passed"))
	c.JSON(http.StatusOK, gin.H{"id": id, "filter_status": req.Status, "filter_reason": req.Reason})
}

// DeleteListing removes a listing and its audit row.
func (h *JobHandler) DeleteListing(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteListing(c.Request.Context(), id); err != nil {
		h.writeFailed(c, id, err)
		return
	}
	h.log.Info("listing removed", "listing_id", id)
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) writeFailed(c *gin.Context, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "listing not found", nil)
		return
	}
	h.log.Error("write listing", "listing_id", id, "error", err)
	fail(c, http.StatusInternalServerError, "failed to write listing", err)
}
