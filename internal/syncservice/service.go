package syncservice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vrchat-guide/event-sync-service/internal/eventstore"
)

const (
	// DefaultInterval is the sleep between successful sync cycles.
	DefaultInterval = 300 * time.Second
	// retryDelay is the fallback sleep after a failed cycle.
	retryDelay = 60 * time.Second
	// retentionWindow is how long finished events are kept in the database.
	retentionWindow = 7 * 24 * time.Hour
	// upcomingWindowDays is the horizon of the upstream fetch per cycle.
	upcomingWindowDays = 30
)

// EventSource is the snapshot side of a sync cycle.
type EventSource interface {
	Sync(ctx context.Context, force bool) error
	UpcomingEvents(days int, location string, limit int) []eventstore.Event
}

// EventSink is the durable side of a sync cycle.
type EventSink interface {
	UpsertEvents(ctx context.Context, events []eventstore.Event) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Status is an observational report of the sync loop.
type Status struct {
	LastSync time.Time     `json:"last_sync"`
	Interval time.Duration `json:"sync_interval"`
	Running  bool          `json:"is_running"`
}

// Service reconciles the in-memory calendar snapshot into Postgres on a
// fixed cadence. A failing cycle is logged and retried after a shorter
// delay; it never terminates the loop.
type Service struct {
	source   EventSource
	sink     EventSink
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSync time.Time
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a sync service. A non-positive interval falls back to the
// default cadence.
func New(source EventSource, sink EventSink, interval time.Duration, log *zap.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		source:   source,
		sink:     sink,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Start launches the periodic loop. Calling Start on a running service is a
// no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	s.log.Info("calendar sync service started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for it to finish. No further database
// writes occur after Stop returns.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.Info("calendar sync service stopped")
}

// ForceSync runs one sync cycle immediately, independent of the loop's
// schedule. It does not reset the loop's timer.
func (s *Service) ForceSync(ctx context.Context) error {
	return s.syncOnce(ctx)
}

// Status reports the last successful sync, the configured interval and
// whether the loop is alive.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		LastSync: s.lastSync,
		Interval: s.interval,
		Running:  s.running,
	}
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	for {
		delay := s.interval
		if err := s.syncOnce(ctx); err != nil {
			s.log.Error("sync cycle failed", zap.Error(err))
			delay = retryDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// syncOnce pulls a forced snapshot refresh, upserts the 30-day window of
// upcoming events and prunes rows past the retention window. The upsert and
// the retention delete are separate transactions; a crash in between leaves
// the delete unapplied but never corrupts event rows.
func (s *Service) syncOnce(ctx context.Context) error {
	if err := s.source.Sync(ctx, true); err != nil {
		return err
	}

	events := s.source.UpcomingEvents(upcomingWindowDays, "", 0)

	if err := s.sink.UpsertEvents(ctx, events); err != nil {
		return err
	}

	deleted, err := s.sink.DeleteExpired(ctx, s.now().Add(-retentionWindow))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSync = s.now()
	s.mu.Unlock()

	s.log.Info("sync cycle completed",
		zap.Int("events", len(events)),
		zap.Int64("expired_deleted", deleted))
	return nil
}
