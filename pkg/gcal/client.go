// Package gcal wraps the Google Calendar v3 API behind the small API
// interface used by calendar sync.
package gcal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const listPageSize = 250

type Client struct {
	svc *calendar.Service
}

var _ API = (*Client)(nil)

// New builds a client over an authorised HTTP client (see oauth2.Config.Client).
func New(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Client{svc: svc}, nil
}

func (c *Client) PrimaryCalendar(ctx context.Context) (Calendar, error) {
	entry, err := c.svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return Calendar{}, err
	}
	return Calendar{ID: entry.Id, Summary: entry.Summary, TimeZone: entry.TimeZone}, nil
}

func (c *Client) InsertEvent(ctx context.Context, calendarID string, e Event) (Event, error) {
	if !e.End.After(e.Start) {
		return Event{}, ErrInvalidEvent
	}
	out, err := c.svc.Events.Insert(calendarID, toAPIEvent(e)).Context(ctx).Do()
	if err != nil {
		return Event{}, err
	}
	return fromAPIEvent(out, time.UTC), nil
}

func (c *Client) UpdateEvent(ctx context.Context, calendarID string, e Event) (Event, error) {
	if !e.End.After(e.Start) {
		return Event{}, ErrInvalidEvent
	}
	out, err := c.svc.Events.Update(calendarID, e.ID, toAPIEvent(e)).Context(ctx).Do()
	if err != nil {
		return Event{}, err
	}
	return fromAPIEvent(out, time.UTC), nil
}

func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

func (c *Client) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error) {
	call := c.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(true).
		MaxResults(listPageSize)

	var out []Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		loc := time.UTC
		if page.TimeZone != "" {
			if l, err := time.LoadLocation(page.TimeZone); err == nil {
				loc = l
			}
		}
		for _, item := range page.Items {
			out = append(out, fromAPIEvent(item, loc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Watch(ctx context.Context, calendarID string, req WatchRequest) (Channel, error) {
	ch := &calendar.Channel{
		Id:      req.ChannelID,
		Type:    "web_hook",
		Address: req.Address,
		Token:   req.Token,
	}
	if req.TTL > 0 {
		ch.Expiration = time.Now().Add(req.TTL).UnixMilli()
	}
	out, err := c.svc.Events.Watch(calendarID, ch).Context(ctx).Do()
	if err != nil {
		return Channel{}, err
	}
	res := Channel{ID: out.Id, ResourceID: out.ResourceId}
	if out.Expiration > 0 {
		res.Expiration = time.UnixMilli(out.Expiration).UTC()
	}
	return res, nil
}

func (c *Client) StopChannel(ctx context.Context, channelID, resourceID string) error {
	return c.svc.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
}

func (c *Client) FreeBusy(ctx context.Context, calendarID string, from, to time.Time) ([]Period, error) {
	resp, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("freebusy: calendar %q missing from response", calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy: %s", cal.Errors[0].Reason)
	}

	out := make([]Period, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err1 := time.Parse(time.RFC3339, p.Start)
		end, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil || !end.After(start) {
			continue
		}
		out = append(out, Period{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}
