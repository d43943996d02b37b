package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"botdash/internal/envstore"
	"botdash/internal/model"
	"botdash/internal/runner"
)

// Runner controls the bot process.
type Runner interface {
	Status() model.BotStatus
	Start(mode runner.Mode) (int, error)
	Stop() (bool, error)
}

// ConfigStore is the bot's key-value configuration.
type ConfigStore interface {
	All() (map[string]string, error)
	Set(values map[string]string) error
}

// Counter provides the numbers behind the stats endpoint.
type Counter interface {
	CountListings(ctx context.Context) (int, error)
	CountSentMessages(ctx context.Context, status string) (int, error)
}

// JobStore is the record store as seen by the job-control service.
type JobStore interface {
	Counter
	ListingWriter
}

// JobHandler serves the job-control API.
type JobHandler struct {
	runner Runner
	logs   http.Handler
	config ConfigStore
	store  JobStore
	log    *slog.Logger
}

// NewJobHandler creates a JobHandler. logs serves the websocket log stream.
func NewJobHandler(r Runner, logs http.Handler, config ConfigStore, store JobStore, log *slog.Logger) *JobHandler {
	return &JobHandler{runner: r, logs: logs, config: config, store: store, log: log}
}

// NewJobServer creates the job-control engine.
func NewJobServer(h *JobHandler, log *slog.Logger) *gin.Engine {
	r := newEngine(log)

	api := r.Group("/api")
	{
		api.GET("/bot/status", h.Status)
		api.POST("/bot/start", h.Start)
		api.POST("/bot/stop", h.Stop)
		api.GET("/ws/logs", gin.WrapH(h.logs))
		api.GET("/config", h.GetConfig)
		api.POST("/config", h.UpdateConfig)
		api.GET("/stats", h.Stats)
		api.POST("/listings", h.CreateListing)
		api.PUT("/listings/:id/filter", h.SetFilter)
		api.DELETE("/listings/:id", h.DeleteListing)
	}
	return r
}

// Status reports the bot process state.
func (h *JobHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}

// Start launches the bot. The body is optional and defaults to full mode.
func (h *JobHandler) Start(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	mode, err := runner.ParseMode(req.Mode)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	h.log.Info("start requested", "mode", mode)
	pid, err := h.runner.Start(mode)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to start bot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "pid": pid, "mode": mode})
}

// Stop stops the bot if it is running.
func (h *JobHandler) Stop(c *gin.Context) {
	stopped, err := h.runner.Stop()
	if err != nil {
		h.log.Error("stop bot", "error", err)
	}
	if !stopped {
		c.JSON(http.StatusOK, gin.H{"status": "not_running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// GetConfig returns all configuration values.
func (h *JobHandler) GetConfig(c *gin.Context) {
	values, err := h.config.All()
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to read config", err)
		return
	}
	c.JSON(http.StatusOK, values)
}

// UpdateConfig merges the posted values into the configuration.
func (h *JobHandler) UpdateConfig(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		fail(c, http.StatusBadRequest, "expected a JSON object of strings", err)
		return
	}
	if err := h.config.Set(values); err != nil {
		if errors.Is(err, envstore.ErrInvalidKey) {
			fail(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		fail(c, http.StatusInternalServerError, "failed to update config", err)
		return
	}
	h.log.Info("config updated", "keys", len(values))
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// Stats returns listing and delivery counters.
func (h *JobHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	scraped, err := h.store.CountListings(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to count listings", err)
		return
	}
	sent, err := h.store.CountSentMessages(ctx, model.SentStatusSent)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to count messages", err)
		return
	}
	failed, err := h.store.CountSentMessages(ctx, model.SentStatusFailed)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to count messages", err)
		return
	}

	// Every stored listing already passed the AI filter.
	c.JSON(http.StatusOK, model.JobStats{Scraped: scraped, AIFiltered: scraped, Sent: sent, Error: failed})
}
