package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
	"github.com/vrchat-guide/event-sync-service/internal/syncservice"
)

// EventWriter is the calendar write path consumed by the event endpoints.
type EventWriter interface {
	AddEvent(ctx context.Context, p eventstore.AddEventParams) (eventstore.Event, error)
	UpcomingEvents(days int, location string, limit int) []eventstore.Event
}

// SyncReporter exposes the sync loop's observational status.
type SyncReporter interface {
	Status() syncservice.Status
	ForceSync(ctx context.Context) error
}

// AddEventRequest is the POST /events payload. Timestamps are RFC3339.
type AddEventRequest struct {
	Summary     string   `json:"summary"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// RegisterEventRoutes registers the calendar write path and the sync status
// endpoints. writer and reporter may be nil when the process runs without
// calendar credentials; the endpoints then answer 503.
func RegisterEventRoutes(r gin.IRoutes, writer EventWriter, reporter SyncReporter, log *zap.Logger) {
	r.POST("/events", func(c *gin.Context) {
		if writer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar write path disabled"})
			return
		}

		var req AddEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Summary == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "summary required"})
			return
		}

		start, err := parseRFC3339(req.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
			return
		}
		end, err := parseRFC3339(req.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
			return
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must not precede start"})
			return
		}

		ev, err := writer.AddEvent(c.Request.Context(), eventstore.AddEventParams{
			Summary:     req.Summary,
			Start:       start,
			End:         end,
			Location:    req.Location,
			Description: req.Description,
			Attendees:   req.Attendees,
			Note:        req.Note,
		})
		if err != nil {
			var writeErr *eventstore.WriteError
			if errors.As(err, &writeErr) {
				log.Error("event write failed", zap.Error(err))
				c.JSON(http.StatusBadGateway, gin.H{"error": "calendar write failed"})
				return
			}
			log.Error("event creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event creation failed"})
			return
		}

		c.JSON(http.StatusCreated, ev)
	})

	r.GET("/events/upcoming", func(c *gin.Context) {
		if writer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar write path disabled"})
			return
		}

		days := 7
		if v := c.Query("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
				return
			}
			days = n
		}

		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		events := writer.UpcomingEvents(days, c.Query("location"), limit)
		c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
	})

	r.GET("/sync/status", func(c *gin.Context) {
		if reporter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync service not running"})
			return
		}

		status := reporter.Status()
		c.JSON(http.StatusOK, gin.H{
			"last_sync":     status.LastSync,
			"sync_interval": status.Interval.Seconds(),
			"is_running":    status.Running,
		})
	})

	r.POST("/sync/force", func(c *gin.Context) {
		if reporter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync service not running"})
			return
		}

		if err := reporter.ForceSync(c.Request.Context()); err != nil {
			log.Error("forced sync failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})
}
