package socks

import (
	"log"
	"sync"
	"time"
)

// Event is a milestone in a proxied connection attempt.
type Event int

const (
	EventConnectStart Event = iota
	EventSocketOpen
	EventAuthSent
	EventAuthenticated
	EventRelayRequestSent
	EventResponseReceived
)

func (e Event) String() string {
	switch e {
	case EventConnectStart:
		return "connect-start"
	case EventSocketOpen:
		return "socket-open"
	case EventAuthSent:
		return "auth-sent"
	case EventAuthenticated:
		return "authenticated"
	case EventRelayRequestSent:
		return "relay-request-sent"
	case EventResponseReceived:
		return "response-received"
	default:
		return "unknown"
	}
}

// Recorder receives milestones for diagnostics. It must not block, and
// nothing it does changes the outcome of a handshake.
type Recorder interface {
	Record(ev Event, at time.Time)
}

// Timeline keeps the first time each event was seen.
type Timeline struct {
	mu sync.Mutex
	at map[Event]time.Time
}

func (t *Timeline) Record(ev Event, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.at == nil {
		t.at = make(map[Event]time.Time)
	}
	if _, ok := t.at[ev]; !ok {
		t.at[ev] = at
	}
}

// At returns when ev was recorded.
func (t *Timeline) At(ev Event) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.at[ev]
	return at, ok
}

// Since returns the time from connect-start to ev, or false if either was
// not recorded.
func (t *Timeline) Since(ev Event) (time.Duration, bool) {
	start, ok := t.At(EventConnectStart)
	if !ok {
		return 0, false
	}
	at, ok := t.At(ev)
	if !ok {
		return 0, false
	}
	return at.Sub(start), true
}

// LogRecorder logs every event with the standard logger.
type LogRecorder struct {
	Prefix string
}

func (r LogRecorder) Record(ev Event, at time.Time) {
	log.Printf("%s%s at %s", r.Prefix, ev, at.Format(time.StampMicro))
}

// Recorders fans events out to several recorders. A recorder that panics is
// skipped; the others still see the event.
type Recorders []Recorder

func (rs Recorders) Record(ev Event, at time.Time) {
	for _, r := range rs {
		if r != nil {
			recordSafe(r, ev, at)
		}
	}
}

func recordSafe(r Recorder, ev Event, at time.Time) {
	defer func() { _ = recover() }()
	r.Record(ev, at)
}
