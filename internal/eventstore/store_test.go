package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
)

// MockCalendarAPI is a mock implementation of CalendarAPI
type MockCalendarAPI struct {
	mock.Mock
}

func (m *MockCalendarAPI) ListUpcoming(ctx context.Context, calendarID string, timeMin time.Time) ([]*calendar.Event, error) {
	args := m.Called(ctx, calendarID, timeMin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*calendar.Event), args.Error(1)
}

func (m *MockCalendarAPI) Insert(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	args := m.Called(ctx, calendarID, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*calendar.Event), args.Error(1)
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func apiEvent(uid, summary string, start, end time.Time) *calendar.Event {
	return &calendar.Event{
		ICalUID: uid,
		Summary: summary,
		Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
}

func newTestStore(api CalendarAPI) *Store {
	s := New(api, "public-cal", "private-cal", zap.NewNop())
	s.now = func() time.Time { return baseTime }
	return s
}

func seedStore(t *testing.T, events ...Event) *Store {
	t.Helper()

	items := make([]*calendar.Event, 0, len(events))
	for _, ev := range events {
		item := apiEvent(ev.ID, ev.Summary, ev.Start, ev.End)
		item.Location = ev.Location
		item.Description = ev.Description
		items = append(items, item)
	}

	api := new(MockCalendarAPI)
	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).Return(items, nil).Once()

	s := newTestStore(api)
	require.NoError(t, s.Sync(context.Background(), true))
	return s
}

func TestSync_ReplacesSnapshot(t *testing.T) {
	api := new(MockCalendarAPI)
	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).Return([]*calendar.Event{
		apiEvent("a", "Event A", baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)),
		apiEvent("b", "Event B", baseTime.Add(3*time.Hour), baseTime.Add(4*time.Hour)),
	}, nil).Once()

	s := newTestStore(api)
	require.NoError(t, s.Sync(context.Background(), false))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, baseTime, s.LastSync())

	// The next upstream fetch no longer contains "a"; it must vanish.
	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).Return([]*calendar.Event{
		apiEvent("b", "Event B", baseTime.Add(3*time.Hour), baseTime.Add(4*time.Hour)),
	}, nil).Once()

	require.NoError(t, s.Sync(context.Background(), true))
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.SearchText("Event A"))

	api.AssertExpectations(t)
}

func TestSync_GuardSkipsWithinFiveMinutes(t *testing.T) {
	api := new(MockCalendarAPI)
	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).Return([]*calendar.Event{
		apiEvent("a", "Event A", baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)),
	}, nil).Once()

	s := newTestStore(api)
	require.NoError(t, s.Sync(context.Background(), false))

	// Without force, a second sync 4 minutes later must not hit the API.
	s.now = func() time.Time { return baseTime.Add(4 * time.Minute) }
	require.NoError(t, s.Sync(context.Background(), false))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, baseTime, s.LastSync())

	api.AssertNumberOfCalls(t, "ListUpcoming", 1)
}

func TestSync_ForceBypassesGuard(t *testing.T) {
	api := new(MockCalendarAPI)
	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).
		Return([]*calendar.Event{}, nil).Twice()

	s := newTestStore(api)
	require.NoError(t, s.Sync(context.Background(), false))
	require.NoError(t, s.Sync(context.Background(), true))

	api.AssertNumberOfCalls(t, "ListUpcoming", 2)
}

func TestSync_FailureRetainsSnapshot(t *testing.T) {
	api := new(MockCalendarAPI)
	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).Return([]*calendar.Event{
		apiEvent("a", "Event A", baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)),
	}, nil).Once()

	s := newTestStore(api)
	require.NoError(t, s.Sync(context.Background(), true))

	api.On("ListUpcoming", mock.Anything, "public-cal", mock.Anything).
		Return(nil, errors.New("api down")).Once()

	err := s.Sync(context.Background(), true)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)

	// Previous snapshot and last sync are unchanged.
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, baseTime, s.LastSync())
}

func TestAddEvent_VisibleWithoutResync(t *testing.T) {
	created := apiEvent("new-uid", "Movie Night", baseTime.Add(24*time.Hour), baseTime.Add(26*time.Hour))
	created.Location = "The Black Cat"

	api := new(MockCalendarAPI)
	api.On("Insert", mock.Anything, "private-cal", mock.MatchedBy(func(ev *calendar.Event) bool {
		return ev.Summary == "Movie Night" && len(ev.Attendees) == 1
	})).Return(created, nil).Once()

	s := newTestStore(api)
	ev, err := s.AddEvent(context.Background(), AddEventParams{
		Summary:   "Movie Night",
		Start:     baseTime.Add(24 * time.Hour),
		End:       baseTime.Add(26 * time.Hour),
		Location:  "The Black Cat",
		Attendees: []string{"someone@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-uid", ev.ID)

	// The write is visible to query/search immediately.
	found := s.SearchText("movie")
	require.Len(t, found, 1)
	assert.Equal(t, "new-uid", found[0].ID)

	byRange := s.Query(QueryOptions{
		TimeRange: &TimeRange{From: baseTime, To: baseTime.Add(48 * time.Hour)},
	})
	require.Len(t, byRange, 1)

	api.AssertExpectations(t)
}

func TestAddEvent_AppendsNote(t *testing.T) {
	api := new(MockCalendarAPI)
	api.On("Insert", mock.Anything, "private-cal", mock.MatchedBy(func(ev *calendar.Event) bool {
		return ev.Description == "Bring snacks\n\nNote: remember the door code"
	})).Return(apiEvent("uid", "Party", baseTime, baseTime.Add(time.Hour)), nil).Once()

	s := newTestStore(api)
	_, err := s.AddEvent(context.Background(), AddEventParams{
		Summary:     "Party",
		Start:       baseTime,
		End:         baseTime.Add(time.Hour),
		Description: "Bring snacks",
		Note:        "remember the door code",
	})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestAddEvent_WriteError(t *testing.T) {
	api := new(MockCalendarAPI)
	api.On("Insert", mock.Anything, "private-cal", mock.Anything).
		Return(nil, errors.New("quota exceeded")).Once()

	s := newTestStore(api)
	_, err := s.AddEvent(context.Background(), AddEventParams{Summary: "X", Start: baseTime, End: baseTime})

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 0, s.Len())
}

func TestQuery_Conjunctive(t *testing.T) {
	s := seedStore(t,
		Event{ID: "a", Summary: "Jazz Night", Description: "live music in the lounge",
			Location: "The Black Cat", Start: baseTime.Add(24 * time.Hour), End: baseTime.Add(26 * time.Hour)},
		Event{ID: "b", Summary: "Dance Party", Description: "music and dancing",
			Location: "Neon Void", Start: baseTime.Add(48 * time.Hour), End: baseTime.Add(50 * time.Hour)},
		Event{ID: "c", Summary: "Movie Marathon", Description: "all night films",
			Location: "The Black Cat Annex", Start: baseTime.Add(72 * time.Hour), End: baseTime.Add(80 * time.Hour)},
	)

	got := s.Query(QueryOptions{
		TimeRange:      &TimeRange{From: baseTime, To: baseTime.Add(96 * time.Hour)},
		Keywords:       []string{"music"},
		LocationPrefix: "the black",
	})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestQuery_UnknownFilterFieldFailsClosed(t *testing.T) {
	s := seedStore(t,
		Event{ID: "a", Summary: "Jazz Night", Start: baseTime.Add(24 * time.Hour), End: baseTime.Add(26 * time.Hour)},
	)

	// Even though the time range matches, an unknown field excludes everything.
	got := s.Query(QueryOptions{
		TimeRange: &TimeRange{From: baseTime, To: baseTime.Add(96 * time.Hour)},
		Filters:   map[string]Filter{"organizer": Eq("anyone")},
	})
	assert.Empty(t, got)
}

func TestQuery_FilterVariants(t *testing.T) {
	s := seedStore(t,
		Event{ID: "a", Summary: "Early", Location: "Void", Start: baseTime.Add(1 * time.Hour), End: baseTime.Add(2 * time.Hour)},
		Event{ID: "b", Summary: "Mid", Location: "Lounge", Start: baseTime.Add(10 * time.Hour), End: baseTime.Add(11 * time.Hour)},
		Event{ID: "c", Summary: "Late", Location: "Void", Start: baseTime.Add(20 * time.Hour), End: baseTime.Add(21 * time.Hour)},
	)

	tests := []struct {
		name    string
		filters map[string]Filter
		wantIDs []string
	}{
		{
			name:    "equality",
			filters: map[string]Filter{"location": Eq("Lounge")},
			wantIDs: []string{"b"},
		},
		{
			name:    "membership",
			filters: map[string]Filter{"summary": In("Early", "Late")},
			wantIDs: []string{"a", "c"},
		},
		{
			name: "range both bounds",
			filters: map[string]Filter{"start": Range(
				baseTime.Add(1*time.Hour), nil, nil, baseTime.Add(10*time.Hour))},
			wantIDs: []string{"b"},
		},
		{
			name:    "range gte includes boundary",
			filters: map[string]Filter{"start": RangeGTE(baseTime.Add(10 * time.Hour))},
			wantIDs: []string{"b", "c"},
		},
		{
			name:    "range gt excludes boundary",
			filters: map[string]Filter{"start": RangeGT(baseTime.Add(10 * time.Hour))},
			wantIDs: []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Query(QueryOptions{Filters: tt.filters})
			ids := make([]string, 0, len(got))
			for _, ev := range got {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestQuery_SortedAndLimited(t *testing.T) {
	s := seedStore(t,
		Event{ID: "late", Summary: "Late", Start: baseTime.Add(30 * time.Hour), End: baseTime.Add(31 * time.Hour)},
		Event{ID: "early", Summary: "Early", Start: baseTime.Add(5 * time.Hour), End: baseTime.Add(6 * time.Hour)},
		Event{ID: "mid", Summary: "Mid", Start: baseTime.Add(15 * time.Hour), End: baseTime.Add(16 * time.Hour)},
	)

	got := s.Query(QueryOptions{Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}

func TestSearchText_DefaultFields(t *testing.T) {
	s := seedStore(t,
		Event{ID: "a", Summary: "Jazz Night", Description: "smooth", Location: "Lounge",
			Start: baseTime.Add(time.Hour), End: baseTime.Add(2 * time.Hour)},
		Event{ID: "b", Summary: "Quiet Hours", Description: "no music", Location: "Jazz Basement",
			Start: baseTime.Add(3 * time.Hour), End: baseTime.Add(4 * time.Hour)},
	)

	// Matches summary of "a" and location of "b", case-insensitively.
	got := s.SearchText("JAZZ")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	// Restricting fields drops the location match.
	got = s.SearchText("jazz", "summary")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestQueryByExample_ExactDuplicate(t *testing.T) {
	s := seedStore(t,
		Event{ID: "a", Summary: "Weekly Meetup", Description: "Casual hangout in the hub world",
			Start: baseTime.Add(time.Hour), End: baseTime.Add(2 * time.Hour)},
		Event{ID: "b", Summary: "Avatar Workshop", Description: "Learn to rig avatars",
			Start: baseTime.Add(3 * time.Hour), End: baseTime.Add(4 * time.Hour)},
	)

	example := Event{Summary: "Weekly Meetup", Description: "Casual hangout in the hub world"}
	got := s.QueryByExample(example, 0.7)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestUpcomingEvents_SevenDayWindow(t *testing.T) {
	s := seedStore(t,
		Event{ID: "d1", Summary: "Tomorrow", Start: baseTime.AddDate(0, 0, 1), End: baseTime.AddDate(0, 0, 1).Add(time.Hour)},
		Event{ID: "d2", Summary: "In two days", Start: baseTime.AddDate(0, 0, 2), End: baseTime.AddDate(0, 0, 2).Add(time.Hour)},
		Event{ID: "d10", Summary: "In ten days", Start: baseTime.AddDate(0, 0, 10), End: baseTime.AddDate(0, 0, 10).Add(time.Hour)},
	)

	got := s.UpcomingEvents(7, "", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].ID)
	assert.Equal(t, "d2", got[1].ID)
}
