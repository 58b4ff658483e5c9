// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medtranslate/edgecache/internal/engine"
)

// Handler carries the engine into the route handlers.
type Handler struct {
	engine *engine.Engine
}

// Health is the unauthenticated liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status returns the full engine status snapshot.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status(c.Request.Context()))
}

// Session returns the live session state.
func (h *Handler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Session())
}

// Predictions returns ranked predictions. Query parameters: limit,
// offline_only.
func (h *Handler) Predictions(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	offlineOnly := c.Query("offline_only") == "true"

	preds := h.engine.Predictions(c.Request.Context(), limit, offlineOnly)
	c.JSON(http.StatusOK, gin.H{
		"count":       len(preds),
		"predictions": preds,
	})
}

// Model returns the learned model snapshot.
func (h *Handler) Model(c *gin.Context) {
	m := h.engine.Model()
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"model": nil, "reason": "insufficient data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": m})
}

// FeedbackStats returns prediction accuracy aggregates.
func (h *Handler) FeedbackStats(c *gin.Context) {
	stats, err := h.engine.FeedbackStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// LogUsage records one translation event pushed by the client app.
func (h *Handler) LogUsage(c *gin.Context) {
	var in engine.UsageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.LogTranslationUsage(c.Request.Context(), in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// Prepare triggers a preparation pass and returns its summary.
func (h *Handler) Prepare(c *gin.Context) {
	summary, err := h.engine.Prepare(c.Request.Context(), "api")
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Refresh rebuilds the model from the usage log.
func (h *Handler) Refresh(c *gin.Context) {
	if err := h.engine.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "sample_count": sampleCountOf(h.engine)})
}

func sampleCountOf(e *engine.Engine) int {
	if m := e.Model(); m != nil {
		return m.SampleCount
	}
	return 0
}
