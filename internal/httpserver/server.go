package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/auth"
	"github.com/vrchat-guide/event-sync-service/internal/config"
	"github.com/vrchat-guide/event-sync-service/internal/handlers"
)

// Pinger validates database connectivity for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps collects everything the router serves. EventWriter and SyncReporter
// are nil when the process runs without calendar credentials.
type Deps struct {
	DB       Pinger
	Index    handlers.SearchIndex
	Resync   func(ctx context.Context) error
	Writer   handlers.EventWriter
	Reporter handlers.SyncReporter
	Facade   handlers.QueryExecutor
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /search, /sync, /content_types
// Authenticated: /events, /events/upcoming, /query, /sync/status, /sync/force
func NewRouter(cfg *config.Config, deps Deps, log *zap.Logger) *gin.Engine {
	if cfg.ServiceEnvironment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := deps.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	handlers.RegisterSearchRoutes(r, deps.Index, deps.Resync, log)

	// Auth group guards the calendar write path and the combined query API.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	handlers.RegisterEventRoutes(authGroup, deps.Writer, deps.Reporter, log)
	handlers.RegisterQueryRoutes(authGroup, deps.Facade, log)

	return r
}

// requestLogger tags each request with a correlation id and logs its outcome.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
