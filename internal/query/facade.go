package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/embedding"
	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
)

// QueryError identifies which sub-layer of a combined query failed.
type QueryError struct {
	Layer string // "relational" or "semantic"
	Err   error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query %s layer: %v", e.Layer, e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// Relational is the slice of the persistence layer the façade queries.
type Relational interface {
	ListActive(ctx context.Context) ([]eventstore.Event, error)
	ListUpcoming(ctx context.Context, from, to time.Time, limit int) ([]eventstore.Event, error)
	SearchText(ctx context.Context, text string, limit int) ([]eventstore.Event, error)
}

// Semantic is the slice of the embedding index the façade delegates to.
type Semantic interface {
	Search(ctx context.Context, query string, types []embedding.ContentType, topK int, minScore float64) ([]embedding.Result, error)
}

// CombineMode declares how the relational and semantic result sets join.
type CombineMode string

const (
	// CombineIntersect keeps relational rows also matched semantically.
	CombineIntersect CombineMode = "intersect"
	// CombineUnion keeps rows matched by either layer.
	CombineUnion CombineMode = "union"
)

// SemanticClause is an embedding-based predicate inside a combined query.
type SemanticClause struct {
	Query    string
	TopK     int
	MinScore float64
}

// Request is a structured query over the events table, optionally combined
// with a semantic predicate against the event-typed embedding index.
type Request struct {
	TimeRange      *eventstore.TimeRange
	Keywords       string
	LocationPrefix string
	Semantic       *SemanticClause
	Combine        CombineMode
	Limit          int
}

// Result is one matched event. Score is set when the semantic layer
// contributed; lower is better.
type Result struct {
	Event eventstore.Event `json:"event"`
	Score *float64         `json:"score,omitempty"`
}

// Facade executes the relational portion of a request against Postgres and
// defers any semantic predicate to the embedding index, combining the two
// result sets per the request's combine mode.
type Facade struct {
	db    Relational
	index Semantic
	log   *zap.Logger
}

func New(db Relational, index Semantic, log *zap.Logger) *Facade {
	return &Facade{db: db, index: index, log: log}
}

// Execute runs the request. Errors from either sub-layer are wrapped in
// *QueryError naming the failing layer.
func (f *Facade) Execute(ctx context.Context, req Request) ([]Result, error) {
	relational, err := f.runRelational(ctx, req)
	if err != nil {
		return nil, &QueryError{Layer: "relational", Err: err}
	}

	if req.Semantic == nil {
		results := make([]Result, 0, len(relational))
		for _, ev := range relational {
			results = append(results, Result{Event: ev})
		}
		sortByStart(results)
		return truncate(results, req.Limit), nil
	}

	if f.index == nil {
		return nil, &QueryError{Layer: "semantic", Err: fmt.Errorf("no embedding index configured")}
	}

	topK := req.Semantic.TopK
	if topK <= 0 {
		topK = 5
	}

	hits, err := f.index.Search(ctx, req.Semantic.Query,
		[]embedding.ContentType{embedding.TypeEvent}, topK, req.Semantic.MinScore)
	if err != nil {
		return nil, &QueryError{Layer: "semantic", Err: err}
	}

	scores := make(map[string]float64, len(hits))
	semantic := make(map[string]eventstore.Event, len(hits))
	for _, hit := range hits {
		ev, ok := eventFromMetadata(hit.Metadata)
		if !ok {
			continue
		}
		if prev, seen := scores[ev.ID]; !seen || hit.Score < prev {
			scores[ev.ID] = hit.Score
			semantic[ev.ID] = ev
		}
	}

	mode := req.Combine
	if mode == "" {
		mode = CombineIntersect
	}

	var results []Result
	switch mode {
	case CombineIntersect:
		for _, ev := range relational {
			if score, ok := scores[ev.ID]; ok {
				s := score
				results = append(results, Result{Event: ev, Score: &s})
			}
		}
		sortByStart(results)

	case CombineUnion:
		seen := make(map[string]bool, len(relational))
		for _, ev := range relational {
			r := Result{Event: ev}
			if score, ok := scores[ev.ID]; ok {
				s := score
				r.Score = &s
			}
			results = append(results, r)
			seen[ev.ID] = true
		}
		for id, ev := range semantic {
			if seen[id] {
				continue
			}
			s := scores[id]
			results = append(results, Result{Event: ev, Score: &s})
		}
		sortByScoreThenStart(results)

	default:
		return nil, &QueryError{Layer: "relational", Err: fmt.Errorf("unknown combine mode %q", mode)}
	}

	return truncate(results, req.Limit), nil
}

func (f *Facade) runRelational(ctx context.Context, req Request) ([]eventstore.Event, error) {
	var events []eventstore.Event
	var err error

	switch {
	case req.Keywords != "":
		events, err = f.db.SearchText(ctx, req.Keywords, 0)
		if err == nil && req.TimeRange != nil {
			filtered := events[:0]
			for _, ev := range events {
				if !ev.Start.Before(req.TimeRange.From) && !ev.Start.After(req.TimeRange.To) {
					filtered = append(filtered, ev)
				}
			}
			events = filtered
		}
	case req.TimeRange != nil:
		events, err = f.db.ListUpcoming(ctx, req.TimeRange.From, req.TimeRange.To, 0)
	default:
		events, err = f.db.ListActive(ctx)
	}
	if err != nil {
		return nil, err
	}

	if req.LocationPrefix != "" {
		prefix := strings.ToLower(req.LocationPrefix)
		filtered := events[:0]
		for _, ev := range events {
			if strings.HasPrefix(strings.ToLower(ev.Location), prefix) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	return events, nil
}

// eventFromMetadata reconstructs an event from an index hit's metadata map.
func eventFromMetadata(m map[string]any) (eventstore.Event, bool) {
	id, _ := m["id"].(string)
	if id == "" {
		return eventstore.Event{}, false
	}

	ev := eventstore.Event{ID: id}
	ev.Summary, _ = m["summary"].(string)
	ev.Location, _ = m["location"].(string)
	if t, ok := m["start_time"].(time.Time); ok {
		ev.Start = t
	}
	if t, ok := m["end_time"].(time.Time); ok {
		ev.End = t
	}
	return ev, true
}

func sortByStart(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Event.Start.Before(results[j].Event.Start)
	})
}

func sortByScoreThenStart(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := results[i].Score, results[j].Score
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si < *sj
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		default:
			return results[i].Event.Start.Before(results[j].Event.Start)
		}
	})
}

func truncate(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
