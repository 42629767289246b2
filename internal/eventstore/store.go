package eventstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
)

// minSyncInterval is the guard between non-forced snapshot refreshes.
const minSyncInterval = 5 * time.Minute

// SyncError indicates the upstream calendar fetch failed. The previous
// snapshot is left unchanged.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("calendar sync: %v", e.Err) }
func (e *SyncError) Unwrap() error { return e.Err }

// WriteError indicates an event creation failed upstream.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("calendar write: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// CalendarAPI is the slice of the Calendar API the store depends on.
type CalendarAPI interface {
	// ListUpcoming lists events starting at or after timeMin, with recurring
	// events expanded into single occurrences, ordered by start time.
	ListUpcoming(ctx context.Context, calendarID string, timeMin time.Time) ([]*calendar.Event, error)
	// Insert creates an event and requests attendee notifications.
	Insert(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error)
}

// Store holds an in-memory snapshot of upcoming events from the public
// calendar and a write path into a separate private calendar. The snapshot
// is fully replaced on each successful sync, never merged.
type Store struct {
	api               CalendarAPI
	calendarID        string
	privateCalendarID string
	log               *zap.Logger
	now               func() time.Time

	mu       sync.RWMutex
	events   map[string]Event
	lastSync time.Time
}

// New creates a store reading from calendarID and writing to
// privateCalendarID.
func New(api CalendarAPI, calendarID, privateCalendarID string, log *zap.Logger) *Store {
	return &Store{
		api:               api,
		calendarID:        calendarID,
		privateCalendarID: privateCalendarID,
		log:               log,
		now:               time.Now,
		events:            make(map[string]Event),
	}
}

// Sync refreshes the snapshot from the upstream calendar. Unless force is
// set, syncs within five minutes of the previous one are no-ops.
func (s *Store) Sync(ctx context.Context, force bool) error {
	s.mu.RLock()
	last := s.lastSync
	s.mu.RUnlock()

	now := s.now()
	if !force && !last.IsZero() && now.Sub(last) < minSyncInterval {
		s.log.Debug("skipping sync, last sync was less than 5 minutes ago",
			zap.Time("last_sync", last))
		return nil
	}

	items, err := s.api.ListUpcoming(ctx, s.calendarID, now)
	if err != nil {
		return &SyncError{Err: err}
	}

	events := make(map[string]Event, len(items))
	for _, item := range items {
		ev, err := FromAPI(item)
		if err != nil {
			s.log.Warn("skipping malformed calendar event", zap.Error(err))
			continue
		}
		events[ev.ID] = ev
	}

	s.mu.Lock()
	s.events = events
	s.lastSync = now
	s.mu.Unlock()

	s.log.Info("synced events from calendar", zap.Int("count", len(events)))
	return nil
}

// LastSync returns the time of the last successful sync, zero if none.
func (s *Store) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// Len returns the number of events in the snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// AddEventParams describes a new event for the private calendar.
type AddEventParams struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
	Attendees   []string
	Note        string
}

// AddEvent writes a new event to the private calendar and inserts it into
// the local snapshot, so the caller's own write is visible without a resync.
func (s *Store) AddEvent(ctx context.Context, p AddEventParams) (Event, error) {
	description := p.Description
	if p.Note != "" {
		description = fmt.Sprintf("%s\n\nNote: %s", p.Description, p.Note)
	}

	body := &calendar.Event{
		Summary:     p.Summary,
		Location:    p.Location,
		Description: description,
		Start: &calendar.EventDateTime{
			DateTime: p.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: p.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
	for _, email := range p.Attendees {
		body.Attendees = append(body.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := s.api.Insert(ctx, s.privateCalendarID, body)
	if err != nil {
		return Event{}, &WriteError{Err: err}
	}

	ev, err := FromAPI(created)
	if err != nil {
		return Event{}, &WriteError{Err: err}
	}

	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()

	s.log.Info("added event to private calendar",
		zap.String("id", ev.ID), zap.String("summary", ev.Summary))
	return ev, nil
}

// ListPrimary lists upcoming events directly from the private calendar.
// The snapshot is not consulted or modified.
func (s *Store) ListPrimary(ctx context.Context) ([]Event, error) {
	items, err := s.api.ListUpcoming(ctx, s.privateCalendarID, s.now())
	if err != nil {
		return nil, &SyncError{Err: err}
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		ev, err := FromAPI(item)
		if err != nil {
			s.log.Warn("skipping malformed calendar event", zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// TimeRange bounds an event's start time, inclusive on both ends.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// QueryOptions are conjunctive predicates over the snapshot. All supplied
// predicates must hold for an event to be returned.
type QueryOptions struct {
	Filters        map[string]Filter
	TimeRange      *TimeRange
	Keywords       []string
	LocationPrefix string
	// Attendees is accepted for interface parity with the write path but
	// snapshot events do not carry attendee data, so it never filters.
	Attendees []string
	Limit     int
}

// Query evaluates the options against the snapshot. A filter naming an
// unknown field excludes every event. Results are ordered by start time
// ascending and truncated to Limit when it is positive.
func (s *Store) Query(opts QueryOptions) []Event {
	s.mu.RLock()
	results := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if matchesQuery(ev, opts) {
			results = append(results, ev)
		}
	}
	s.mu.RUnlock()

	sortByStart(results)

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func matchesQuery(ev Event, opts QueryOptions) bool {
	if opts.TimeRange != nil {
		if ev.Start.Before(opts.TimeRange.From) || ev.Start.After(opts.TimeRange.To) {
			return false
		}
	}

	if len(opts.Keywords) > 0 {
		text := strings.ToLower(ev.Summary + " " + ev.Description)
		for _, kw := range opts.Keywords {
			if !strings.Contains(text, strings.ToLower(kw)) {
				return false
			}
		}
	}

	if opts.LocationPrefix != "" {
		if !strings.HasPrefix(strings.ToLower(ev.Location), strings.ToLower(opts.LocationPrefix)) {
			return false
		}
	}

	for name, f := range opts.Filters {
		v, ok := fieldValue(ev, name)
		if !ok {
			// Unknown field: fail closed.
			return false
		}
		if !f.matches(v) {
			return false
		}
	}

	return true
}

// SearchText returns events containing text (case-insensitive) in any of
// the given fields. Default fields are summary, description and location.
func (s *Store) SearchText(text string, fields ...string) []Event {
	if len(fields) == 0 {
		fields = []string{"summary", "description", "location"}
	}
	needle := strings.ToLower(text)

	s.mu.RLock()
	results := make([]Event, 0)
	for _, ev := range s.events {
		for _, field := range fields {
			v, ok := fieldValue(ev, field)
			if !ok {
				continue
			}
			sv, ok := v.(string)
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(sv), needle) {
				results = append(results, ev)
				break
			}
		}
	}
	s.mu.RUnlock()

	sortByStart(results)
	return results
}

// QueryByExample finds events whose summary and description average a
// similarity ratio of at least threshold against the example. This is a
// fuzzy-duplicate check, not a relevance ranking.
func (s *Store) QueryByExample(example Event, threshold float64) []Event {
	s.mu.RLock()
	results := make([]Event, 0)
	for _, ev := range s.events {
		summarySim := similarityRatio(strings.ToLower(ev.Summary), strings.ToLower(example.Summary))
		descSim := similarityRatio(strings.ToLower(ev.Description), strings.ToLower(example.Description))
		if (summarySim+descSim)/2 >= threshold {
			results = append(results, ev)
		}
	}
	s.mu.RUnlock()

	sortByStart(results)
	return results
}

// UpcomingEvents returns events starting within the next days days,
// optionally restricted to an exact location.
func (s *Store) UpcomingEvents(days int, location string, limit int) []Event {
	now := s.now()

	opts := QueryOptions{
		TimeRange: &TimeRange{From: now, To: now.AddDate(0, 0, days)},
		Limit:     limit,
	}
	if location != "" {
		opts.Filters = map[string]Filter{"location": Eq(location)}
	}

	return s.Query(opts)
}

func sortByStart(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
