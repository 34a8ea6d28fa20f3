package peek

import (
	"context"
	"sync"
)

// Ticket identifies one preview request within a Session.
type Ticket struct {
	Id  uint64
	Url string
}

type Preview struct {
	Ticket   Ticket   `json:"-"`
	Url      string   `json:"url"`
	Response Response `json:"response"`
	Err      error    `json:"-"`
}

// Session tracks the preview requests of one editor. Results arriving for a
// ticket that is no longer the latest are dropped.
type Session struct {
	mu      sync.Mutex
	latest  uint64
	current *Preview
}

func (s *Session) Begin(url string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return Ticket{Id: s.latest, Url: url}
}

// Resolve applies the result of ticket and reports whether it was kept.
func (s *Session) Resolve(ticket Ticket, res Response, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.Id != s.latest {
		return false
	}
	s.current = &Preview{
		Ticket:   ticket,
		Url:      ticket.Url,
		Response: res,
		Err:      err,
	}
	return true
}

func (s *Session) Current() (Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Preview{}, false
	}
	return *s.current, true
}

// Pending reports whether a request was issued after the current preview.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == nil && s.latest > 0 || s.current != nil && s.current.Ticket.Id != s.latest
}

// Peek runs a fetch through the session. The returned preview is only ok when
// no newer request was made while this one was in flight.
func (s *Session) Peek(ctx context.Context, f *Fetcher, url string) (Preview, bool) {
	ticket := s.Begin(url)
	res, err := f.Fetch(ctx, url)
	if !s.Resolve(ticket, res, err) {
		return Preview{}, false
	}
	return Preview{Ticket: ticket, Url: url, Response: res, Err: err}, true
}
