package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
	"github.com/vrchat-guide/event-sync-service/internal/query"
)

// QueryExecutor runs combined relational/semantic queries.
type QueryExecutor interface {
	Execute(ctx context.Context, req query.Request) ([]query.Result, error)
}

// QueryRequest is the POST /query payload.
type QueryRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Keywords string `json:"keywords,omitempty"`
	Location string `json:"location,omitempty"`
	Semantic *struct {
		Query    string  `json:"query"`
		TopK     int     `json:"top_k,omitempty"`
		MinScore float64 `json:"min_score,omitempty"`
	} `json:"semantic,omitempty"`
	Combine string `json:"combine,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// RegisterQueryRoutes registers the combined query endpoint.
//
// POST /query
// - relational predicates (time range, keywords) run against Postgres
// - the semantic predicate runs against the embedding index
// - result sets join per the requested combine mode
func RegisterQueryRoutes(r gin.IRoutes, facade QueryExecutor, log *zap.Logger) {
	r.POST("/query", func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		fr := query.Request{
			Keywords:       req.Keywords,
			LocationPrefix: req.Location,
			Combine:        query.CombineMode(req.Combine),
			Limit:          req.Limit,
		}

		if (req.From == "") != (req.To == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be supplied together"})
			return
		}
		if req.From != "" {
			from, err := parseRFC3339(req.From)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
				return
			}
			to, err := parseRFC3339(req.To)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
				return
			}
			if to.Before(from) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must not precede from"})
				return
			}
			fr.TimeRange = &eventstore.TimeRange{From: from, To: to}
		}

		if req.Semantic != nil {
			if req.Semantic.Query == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "semantic.query required"})
				return
			}
			fr.Semantic = &query.SemanticClause{
				Query:    req.Semantic.Query,
				TopK:     req.Semantic.TopK,
				MinScore: req.Semantic.MinScore,
			}
		}

		results, err := facade.Execute(c.Request.Context(), fr)
		if err != nil {
			var qerr *query.QueryError
			if errors.As(err, &qerr) {
				log.Error("query failed", zap.String("layer", qerr.Layer), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "query failed",
					"layer": qerr.Layer,
				})
				return
			}
			log.Error("query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
	})
}
