// Package gcaltest provides an in-memory gcal.API for tests.
package gcaltest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
)

// Fake is a single-calendar provider. Failures can be injected per
// operation with FailNext.
type Fake struct {
	mu       sync.Mutex
	seq      int
	events   map[string]gcal.Event
	busy     []gcal.Period
	channels map[string]gcal.Channel
	fail     map[string]error
	calls    map[string]int
	Primary  gcal.Calendar
}

var _ gcal.API = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		events:   map[string]gcal.Event{},
		channels: map[string]gcal.Channel{},
		fail:     map[string]error{},
		calls:    map[string]int{},
		Primary:  gcal.Calendar{ID: "practitioner@example.com", TimeZone: "UTC"},
	}
}

// Op names used by Calls and FailNext.
const (
	OpPrimary  = "primary"
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpWatch    = "watch"
	OpStop     = "stop"
	OpFreeBusy = "freebusy"
)

// NotFound is the provider error for a missing resource.
func NotFound() error {
	return &googleapi.Error{Code: http.StatusNotFound, Message: "Not Found"}
}

// ServerError is a transient provider error.
func ServerError() error {
	return &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "Backend Error"}
}

func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls counts every provider call.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Put stores an event as if it were created in the provider UI.
func (f *Fake) Put(e gcal.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Status == "" {
		e.Status = gcal.StatusConfirmed
	}
	f.events[e.ID] = e
}

func (f *Fake) Event(id string) (gcal.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	return e, ok
}

func (f *Fake) Events() []gcal.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted()
}

func (f *Fake) SetBusy(p ...gcal.Period) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = p
}

func (f *Fake) Channel(id string) (gcal.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[id]
	return c, ok
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if err, ok := f.fail[op]; ok {
		delete(f.fail, op)
		return err
	}
	return nil
}

func (f *Fake) sorted() []gcal.Event {
	out := make([]gcal.Event, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) PrimaryCalendar(context.Context) (gcal.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpPrimary); err != nil {
		return gcal.Calendar{}, err
	}
	return f.Primary, nil
}

func (f *Fake) InsertEvent(_ context.Context, _ string, e gcal.Event) (gcal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpInsert); err != nil {
		return gcal.Event{}, err
	}
	if !e.End.After(e.Start) {
		return gcal.Event{}, gcal.ErrInvalidEvent
	}
	f.seq++
	e.ID = fmt.Sprintf("evt-%d", f.seq)
	if e.Status == "" {
		e.Status = gcal.StatusConfirmed
	}
	e.Updated = time.Now().UTC()
	f.events[e.ID] = e
	return e, nil
}

func (f *Fake) UpdateEvent(_ context.Context, _ string, e gcal.Event) (gcal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpUpdate); err != nil {
		return gcal.Event{}, err
	}
	cur, ok := f.events[e.ID]
	if !ok || cur.Cancelled() {
		return gcal.Event{}, NotFound()
	}
	if e.Status == "" {
		e.Status = gcal.StatusConfirmed
	}
	e.Updated = time.Now().UTC()
	f.events[e.ID] = e
	return e, nil
}

func (f *Fake) DeleteEvent(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpDelete); err != nil {
		return err
	}
	if _, ok := f.events[id]; !ok {
		return NotFound()
	}
	delete(f.events, id)
	return nil
}

func (f *Fake) ListEvents(_ context.Context, _ string, from, to time.Time) ([]gcal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpList); err != nil {
		return nil, err
	}
	var out []gcal.Event
	for _, e := range f.sorted() {
		if e.Start.Before(to) && e.End.After(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) Watch(_ context.Context, _ string, req gcal.WatchRequest) (gcal.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpWatch); err != nil {
		return gcal.Channel{}, err
	}
	ch := gcal.Channel{
		ID:         req.ChannelID,
		ResourceID: "res-" + req.ChannelID,
		Expiration: time.Now().Add(req.TTL).UTC(),
	}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *Fake) StopChannel(_ context.Context, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpStop); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return NotFound()
	}
	delete(f.channels, channelID)
	return nil
}

func (f *Fake) FreeBusy(_ context.Context, _ string, from, to time.Time) ([]gcal.Period, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpFreeBusy); err != nil {
		return nil, err
	}
	var out []gcal.Period
	for _, p := range f.busy {
		if p.Start.Before(to) && p.End.After(from) {
			out = append(out, p)
		}
	}
	return out, nil
}
