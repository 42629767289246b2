package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/embedding"
)

// SearchIndex is the slice of the embedding index the search endpoints use.
type SearchIndex interface {
	Search(ctx context.Context, query string, types []embedding.ContentType, topK int, minScore float64) ([]embedding.Result, error)
}

// SearchRequest is the POST /search payload.
type SearchRequest struct {
	Query        string   `json:"query"`
	ContentTypes []string `json:"content_types,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	MinScore     float64  `json:"min_score,omitempty"`
}

// RegisterSearchRoutes registers the semantic search surface.
//
// POST /search        semantic search across one or more content types
// POST /sync          rebuild the index from the database and text sources
// GET  /content_types list the content type enum
func RegisterSearchRoutes(r gin.IRoutes, index SearchIndex, resync func(ctx context.Context) error, log *zap.Logger) {
	r.POST("/search", func(c *gin.Context) {
		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query required"})
			return
		}
		if req.TopK <= 0 {
			req.TopK = 5
		}

		var types []embedding.ContentType
		for _, s := range req.ContentTypes {
			ct, err := embedding.ParseContentType(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			types = append(types, ct)
		}

		results, err := index.Search(c.Request.Context(), req.Query, types, req.TopK, req.MinScore)
		if err != nil {
			log.Error("search failed", zap.Error(err), zap.String("query", req.Query))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	r.POST("/sync", func(c *gin.Context) {
		if err := resync(c.Request.Context()); err != nil {
			log.Error("index sync failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Successfully synced all content",
		})
	})

	r.GET("/content_types", func(c *gin.Context) {
		types := embedding.AllContentTypes()
		out := make([]string, 0, len(types))
		for _, ct := range types {
			out = append(out, string(ct))
		}
		c.JSON(http.StatusOK, gin.H{"content_types": out})
	})
}
