package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"funnelpulse/api/store"
)

type StatsHandlers struct {
	Events      *store.EventStore
	Conversions *store.ConversionStore
}

func NewStatsHandlers(events *store.EventStore, conversions *store.ConversionStore) *StatsHandlers {
	return &StatsHandlers{Events: events, Conversions: conversions}
}

// parseTimeRange reads optional RFC3339 start/end query params, defaulting
// to the last 7 days. The bool result is false when a param was malformed
// and a 400 has already been written.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start := time.Now().UTC().Add(-7 * 24 * time.Hour)
	end := time.Now().UTC()

	if startParam := c.Query("start"); startParam != "" {
		parsed, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		start = parsed
	}
	if endParam := c.Query("end"); endParam != "" {
		parsed, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		end = parsed
	}
	return start, end, true
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	analysisID := c.Query("analysisId")
	if analysisID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analysisId query parameter is required"})
		return
	}
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	eventTypeFilter := c.Query("eventType")

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Events.GetEventCountsOverTime(ctx, analysisID, interval, start, end, eventTypeFilter)
	if err != nil {
		log.Printf("Error getting event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopPages(c *gin.Context) {
	analysisID := c.Query("analysisId")
	if analysisID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analysisId query parameter is required"})
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsedLimit, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsedLimit == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsedLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Events.GetTopPages(ctx, analysisID, start, end, limit)
	if err != nil {
		log.Printf("Error getting top pages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetAttributionBreakdown reports conversions and revenue grouped by
// attribution method for one analysis.
func (h *StatsHandlers) GetAttributionBreakdown(c *gin.Context) {
	analysisID := c.Query("analysisId")
	if analysisID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analysisId query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Conversions.GetAttributionBreakdown(ctx, analysisID)
	if err != nil {
		log.Printf("Error getting attribution breakdown: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve attribution statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}
