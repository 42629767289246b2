package eventstore

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
)

// Event is one calendar occurrence. ID is the upstream iCalUID and is
// immutable; it is the primary key everywhere the event is persisted.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
}

// FromAPI converts a Calendar API event into the local representation.
// All-day events carry date-only start/end values; those are parsed as
// midnight UTC. Start <= End is enforced by swapping, since the upstream
// source does not guarantee it.
func FromAPI(ev *calendar.Event) (Event, error) {
	id := ev.ICalUID
	if id == "" {
		id = ev.Id
	}
	if id == "" {
		return Event{}, fmt.Errorf("event has no iCalUID or id")
	}

	start, err := parseEventTime(ev.Start)
	if err != nil {
		return Event{}, fmt.Errorf("parse start of %s: %w", id, err)
	}
	end, err := parseEventTime(ev.End)
	if err != nil {
		return Event{}, fmt.Errorf("parse end of %s: %w", id, err)
	}

	if end.Before(start) {
		start, end = end, start
	}

	return Event{
		ID:          id,
		Summary:     ev.Summary,
		Start:       start,
		End:         end,
		Location:    ev.Location,
		Description: ev.Description,
	}, nil
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, fmt.Errorf("missing event time")
	}

	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}

	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("event time has neither dateTime nor date")
}
