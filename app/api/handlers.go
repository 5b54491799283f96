package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-stitch/app/database"
	"github.com/lysyi3m/rss-stitch/app/feed"
	"github.com/lysyi3m/rss-stitch/app/tasks"
)

func NewHandler(sources *feed.SourceLoader, runRepo database.RunRepository,
	scheduler tasks.TaskSchedulerInterface, newTask func() tasks.TaskInterface,
	outputPath string, version string) *Handler {
	return &Handler{
		sources:    sources,
		runRepo:    runRepo,
		scheduler:  scheduler,
		newTask:    newTask,
		outputPath: outputPath,
		version:    version,
	}
}

func (h *Handler) GetIndex(apiEnabled bool) gin.HandlerFunc {
	endpoints := map[string]string{
		"feed":   "/feed.xml",
		"health": "/health",
	}
	if apiEnabled {
		endpoints["runs"] = "/api/runs (requires X-API-Key header)"
		endpoints["rebuild"] = "/api/rebuild (POST, requires X-API-Key header)"
		endpoints["reload"] = "/api/reload (POST, requires X-API-Key header)"
	}

	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "RSS Stitch",
			"version":     h.version,
			"description": "Combined RSS feed built from paginated JSON listing endpoints",
			"endpoints":   endpoints,
		})
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	data, err := os.ReadFile(h.outputPath)
	if errors.Is(err, os.ErrNotExist) {
		c.Header("Retry-After", "60")
		c.Status(http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		slog.Error("Failed to read feed", "path", h.outputPath, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if run := h.scheduler.LastRun(); run != nil && run.Status == database.RunStatusSuccess {
		c.Header("X-Feed-Items", strconv.Itoa(run.Rendered))
		c.Header("X-Last-Updated", run.FinishedAt.Format(time.RFC3339))
	}

	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", data)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if config, err := h.sources.GetConfig(); err == nil {
		health["sources"] = len(config.Sources)
		health["endpoints"] = config.EndpointCount()
	}

	run := h.scheduler.LastRun()
	if run == nil && h.runRepo != nil {
		// Nothing built since startup; report the previous process' last run.
		if recorded, err := h.runRepo.GetLastRun(); err == nil {
			run = recorded
		}
	}
	if run != nil {
		health["last_run"] = runSummary(*run)
	}

	if h.runRepo != nil {
		if count, err := h.runRepo.GetRunCount(); err == nil {
			health["recorded_runs"] = count
		}
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListRuns(c *gin.Context) {
	if h.runRepo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run history is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	runs, err := h.runRepo.GetRecentRuns(limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_recent_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	summaries := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		summary := runSummary(run)
		sources := make([]map[string]interface{}, 0, len(run.Sources))
		for _, source := range run.Sources {
			sources = append(sources, map[string]interface{}{
				"source": source.SourceName,
				"url":    source.URL,
				"items":  source.Items,
				"error":  source.Error,
			})
		}
		summary["sources"] = sources
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  summaries,
		"total": len(summaries),
	})
}

func (h *Handler) APIRebuild(c *gin.Context) {
	task := h.newTask()
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Warn("Error enqueueing build task", "error", err)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "Failed to enqueue build task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task": gin.H{
			"id":   task.GetID(),
			"type": task.GetType(),
		},
	})
}

func (h *Handler) APIReloadSources(c *gin.Context) {
	if err := h.sources.Run(); err != nil {
		slog.Error("Error reloading sources", "path", h.sources.Path(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload sources",
			"details": err.Error(),
		})
		return
	}

	config, _ := h.sources.GetConfig()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sources":   len(config.Sources),
		"endpoints": config.EndpointCount(),
	})
}

func runSummary(run database.Run) map[string]interface{} {
	return map[string]interface{}{
		"id":          run.ID,
		"status":      run.Status,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
		"collected":   run.Collected,
		"rendered":    run.Rendered,
		"skipped":     run.FailedSources(),
		"error":       run.Error,
	}
}
