package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
)

// EventLister is the slice of the persistence layer the index reads from.
type EventLister interface {
	ListActive(ctx context.Context) ([]eventstore.Event, error)
}

// entry pairs a vector with its source. The position of an entry in its
// per-type slice is the key of its record in the metadata side file; that
// correspondence must be preserved on every insert.
type entry struct {
	vector []float32
	source ContentSource
}

// SavedRecord is the durable per-item metadata record. Timestamps inside
// Metadata are normalized to RFC3339 strings before writing.
type SavedRecord struct {
	Type      ContentType    `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

// Result is one search hit. Score is a cosine distance; lower is better.
type Result struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Type     ContentType    `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Saved    *SavedRecord   `json:"saved_metadata,omitempty"`
}

// Index holds one vector index per content type, plus a durable metadata
// side file per type under indexDir.
type Index struct {
	embedder Embedder
	db       EventLister
	indexDir string
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[ContentType][]entry
}

// NewIndex creates an index rooted at indexDir. db may be nil when no
// database-backed event indexing is wanted.
func NewIndex(embedder Embedder, db EventLister, indexDir string, log *zap.Logger) (*Index, error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &Index{
		embedder: embedder,
		db:       db,
		indexDir: indexDir,
		log:      log,
		entries:  make(map[ContentType][]entry),
	}, nil
}

// AddContent embeds source.Text, appends it to the index for its type and
// persists its metadata record keyed by position.
func (x *Index) AddContent(ctx context.Context, source ContentSource) error {
	vec, err := x.embedder.Embed(ctx, source.Text)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}

	x.mu.Lock()
	x.entries[source.Type] = append(x.entries[source.Type], entry{vector: vec, source: source})
	pos := len(x.entries[source.Type]) - 1
	x.mu.Unlock()

	if err := x.saveMetadata(source.Type, pos, source); err != nil {
		x.log.Error("failed to save index metadata", zap.Error(err),
			zap.String("type", string(source.Type)), zap.Int("position", pos))
	}
	return nil
}

// Search embeds the query once and searches each requested type's index
// independently for its top-k nearest neighbors, then merges, filters by
// minScore, sorts by distance ascending and truncates to topK globally.
func (x *Index) Search(ctx context.Context, query string, types []ContentType, topK int, minScore float64) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	x.mu.RLock()
	if len(types) == 0 {
		for ct := range x.entries {
			types = append(types, ct)
		}
	}

	var merged []Result
	for _, ct := range types {
		entries, ok := x.entries[ct]
		if !ok {
			continue
		}

		saved := x.loadMetadata(ct)

		typed := make([]Result, 0, len(entries))
		for pos, e := range entries {
			r := Result{
				Text:     e.source.Text,
				Score:    cosineDistance(queryVec, e.vector),
				Type:     ct,
				Metadata: e.source.Metadata,
			}
			if rec, ok := saved[fmt.Sprint(pos)]; ok {
				r.Saved = &rec
			}
			typed = append(typed, r)
		}

		sort.Slice(typed, func(i, j int) bool { return typed[i].Score < typed[j].Score })
		if len(typed) > topK {
			typed = typed[:topK]
		}
		merged = append(merged, typed...)
	}
	x.mu.RUnlock()

	filtered := merged[:0]
	for _, r := range merged {
		if r.Score > minScore {
			filtered = append(filtered, r)
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score < filtered[j].Score })
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// SyncWithDatabase rebuilds the event-typed index from all non-expired
// database rows. The event index is reset first so repeated syncs do not
// accumulate duplicate vectors.
func (x *Index) SyncWithDatabase(ctx context.Context) error {
	if x.db == nil {
		return fmt.Errorf("index has no database source")
	}

	events, err := x.db.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active events: %w", err)
	}

	if err := x.Reset(TypeEvent); err != nil {
		return err
	}

	for _, ev := range events {
		text := fmt.Sprintf("Event: %s\nDescription: %s\nLocation: %s\nTime: %s to %s",
			ev.Summary, ev.Description, ev.Location,
			ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))

		source := ContentSource{
			Type: TypeEvent,
			Text: text,
			Metadata: map[string]any{
				"id":         ev.ID,
				"summary":    ev.Summary,
				"location":   ev.Location,
				"start_time": ev.Start,
				"end_time":   ev.End,
			},
			Timestamp: time.Now().UTC(),
		}
		if err := x.AddContent(ctx, source); err != nil {
			return fmt.Errorf("index event %s: %w", ev.ID, err)
		}
	}

	x.log.Info("synced events into embedding index", zap.Int("count", len(events)))
	return nil
}

// LoadTextSources chunks and indexes static knowledge documents, one file
// per content type. Missing files are logged and skipped.
func (x *Index) LoadTextSources(ctx context.Context, sources map[ContentType]string) error {
	for ct, path := range sources {
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				x.log.Warn("text source not found", zap.String("path", path))
				continue
			}
			return fmt.Errorf("read text source %s: %w", path, err)
		}

		chunks := ChunkText(string(content), defaultChunkSize, defaultChunkOverlap)
		for i, chunk := range chunks {
			source := ContentSource{
				Type: ct,
				Text: chunk,
				Metadata: map[string]any{
					"source":       path,
					"chunk_id":     i,
					"total_chunks": len(chunks),
				},
				Timestamp: time.Now().UTC(),
			}
			if err := x.AddContent(ctx, source); err != nil {
				return fmt.Errorf("index chunk %d of %s: %w", i, path, err)
			}
		}

		x.log.Info("indexed text source",
			zap.String("path", path), zap.Int("chunks", len(chunks)))
	}
	return nil
}

// Reset clears one content type's index and removes its metadata side file.
func (x *Index) Reset(ct ContentType) error {
	x.mu.Lock()
	delete(x.entries, ct)
	x.mu.Unlock()

	if err := os.Remove(x.metadataPath(ct)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove metadata file: %w", err)
	}
	return nil
}

// ContentTypes returns the types currently holding entries.
func (x *Index) ContentTypes() []ContentType {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var types []ContentType
	for _, ct := range AllContentTypes() {
		if len(x.entries[ct]) > 0 {
			types = append(types, ct)
		}
	}
	return types
}

// Count returns the number of entries for one content type.
func (x *Index) Count(ct ContentType) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries[ct])
}

func (x *Index) metadataPath(ct ContentType) string {
	return filepath.Join(x.indexDir, fmt.Sprintf("%s_index_metadata.json", ct))
}

func (x *Index) saveMetadata(ct ContentType, pos int, source ContentSource) error {
	path := x.metadataPath(ct)

	records := map[string]SavedRecord{}
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &records); err != nil {
			return fmt.Errorf("decode metadata file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read metadata file: %w", err)
	}

	records[fmt.Sprint(pos)] = SavedRecord{
		Type:      ct,
		Metadata:  normalizeTimes(source.Metadata),
		Timestamp: source.Timestamp.Format(time.RFC3339),
	}

	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

func (x *Index) loadMetadata(ct ContentType) map[string]SavedRecord {
	records := map[string]SavedRecord{}
	b, err := os.ReadFile(x.metadataPath(ct))
	if err != nil {
		return records
	}
	if err := json.Unmarshal(b, &records); err != nil {
		x.log.Warn("ignoring corrupt metadata file",
			zap.String("type", string(ct)), zap.Error(err))
		return map[string]SavedRecord{}
	}
	return records
}

// normalizeTimes converts time.Time values (nested included) to RFC3339
// strings so the metadata map is always JSON-serializable.
func normalizeTimes(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case time.Time:
			out[k] = tv.Format(time.RFC3339)
		case map[string]any:
			out[k] = normalizeTimes(tv)
		default:
			out[k] = v
		}
	}
	return out
}

// cosineDistance is 1 minus the cosine similarity of a and b. Identical
// directions give 0; orthogonal give 1.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 1
	}
	return 1 - dot/denom
}
