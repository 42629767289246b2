package eventstore

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"
)

// googleAPI adapts *calendar.Service to the CalendarAPI interface.
type googleAPI struct {
	svc *calendar.Service
}

// NewGoogleAPI wraps a Calendar API service.
func NewGoogleAPI(svc *calendar.Service) CalendarAPI {
	return &googleAPI{svc: svc}
}

func (g *googleAPI) ListUpcoming(ctx context.Context, calendarID string, timeMin time.Time) ([]*calendar.Event, error) {
	var items []*calendar.Event

	call := g.svc.Events.List(calendarID).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return nil, err
		}

		items = append(items, res.Items...)
		if res.NextPageToken == "" {
			return items, nil
		}
		pageToken = res.NextPageToken
	}
}

func (g *googleAPI) Insert(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	return g.svc.Events.Insert(calendarID, ev).
		SendUpdates("all").
		Context(ctx).
		Do()
}
