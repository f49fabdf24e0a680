package socks

import (
	"errors"
	"fmt"
	"time"
)

// State is the position of a handshake in its protocol.
type State int

const (
	StateBegin State = iota
	StateNegotiatingAuth
	StateAuthenticating
	StateAuthenticated
	StateConnectionRequested
	StateConnectionVerified
	StateRelaying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBegin:
		return "begin"
	case StateNegotiatingAuth:
		return "negotiating auth"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateConnectionRequested:
		return "connection requested"
	case StateConnectionVerified:
		return "connection verified"
	case StateRelaying:
		return "relaying"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// dialect is what every SOCKS version provides: encoding the CONNECT request
// and parsing its reply. reply returns n == 0 and a nil error when buf does
// not yet hold a complete frame.
type dialect interface {
	request(target Addr) ([]byte, error)
	reply(buf []byte) (bound Addr, n int, err error)
}

// negotiator is implemented by dialects with an authentication phase before
// the CONNECT request. selectMethod returns the credentials message to send,
// or nil if the proxy chose no authentication.
type negotiator interface {
	greeting() []byte
	selectMethod(buf []byte) (n int, creds []byte, err error)
	checkAuth(buf []byte) (n int, err error)
}

// transition is the effect of one inbound frame. n == 0 means more bytes are
// needed and nothing else applies.
type transition struct {
	next   State
	n      int
	send   []byte
	bound  Addr
	events []Event
}

// step computes the transition for the bytes buffered in state s. It does
// not modify d or buf.
func step(d dialect, s State, target Addr, buf []byte) (transition, error) {
	switch s {
	case StateNegotiatingAuth:
		neg, ok := d.(negotiator)
		if !ok {
			break
		}
		n, creds, err := neg.selectMethod(buf)
		if err != nil || n == 0 {
			return transition{next: s}, err
		}
		if creds != nil {
			return transition{next: StateAuthenticating, n: n, send: creds, events: []Event{EventAuthSent}}, nil
		}
		return requestTransition(d, target, n)

	case StateAuthenticating:
		neg, ok := d.(negotiator)
		if !ok {
			break
		}
		n, err := neg.checkAuth(buf)
		if err != nil || n == 0 {
			return transition{next: s}, err
		}
		return requestTransition(d, target, n)

	case StateConnectionRequested:
		bound, n, err := d.reply(buf)
		if err != nil || n == 0 {
			return transition{next: s}, err
		}
		return transition{next: StateConnectionVerified, n: n, bound: bound, events: []Event{EventResponseReceived}}, nil
	}

	return transition{next: s}, fmt.Errorf("%w: unexpected data in state %s", ErrProtocolVersion, s)
}

// requestTransition moves from Authenticated straight on to sending the
// CONNECT request.
func requestTransition(d dialect, target Addr, n int) (transition, error) {
	req, err := d.request(target)
	if err != nil {
		return transition{next: StateAuthenticated}, err
	}
	return transition{
		next:   StateConnectionRequested,
		n:      n,
		send:   req,
		events: []Event{EventAuthenticated, EventRelayRequestSent},
	}, nil
}

// Machine is the client side of a single SOCKS handshake. It performs no I/O
// and is not safe for concurrent use.
//
// Once the machine reaches StateFailed or StateRelaying it never changes
// state again.
type Machine struct {
	cfg    Config
	target Addr
	d      dialect
	rec    Recorder

	state State
	bound Addr
	err   error
}

// NewMachine returns a machine that will ask the proxy described by cfg to
// connect to target. The target is checked against the SOCKS version here,
// so an impossible request fails before anything is sent. rec may be nil.
func NewMachine(cfg Config, target Addr, rec Recorder) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{cfg: cfg, target: target, rec: rec}
	switch cfg.Version {
	case V4:
		m.d = &v4{cfg: cfg}
	case V4A:
		m.d = &v4a{v4{cfg: cfg}}
	case V5:
		m.d = &v5{cfg: cfg}
	}

	if _, err := EncodeAddr(cfg.Version, target); err != nil {
		return nil, m.Abort(err)
	}
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Bound returns the address the proxy reported for the relayed connection.
// It is only meaningful from StateConnectionVerified on.
func (m *Machine) Bound() Addr {
	return m.bound
}

// Err returns the terminal error once the machine has failed.
func (m *Machine) Err() error {
	return m.err
}

// Start returns the first message to send after the transport to the proxy
// is connected.
func (m *Machine) Start() ([]byte, error) {
	if m.state != StateBegin {
		if m.state == StateFailed {
			return nil, m.err
		}
		return nil, fmt.Errorf("handshake already started (%s)", m.state)
	}

	if neg, ok := m.d.(negotiator); ok {
		m.state = StateNegotiatingAuth
		return neg.greeting(), nil
	}

	req, err := m.d.request(m.target)
	if err != nil {
		return nil, m.Abort(err)
	}
	m.state = StateConnectionRequested
	m.record(EventRelayRequestSent)
	return req, nil
}

// Advance consumes at most one reply frame from the front of buf. It returns
// the number of bytes used and what to send in response. n == 0 with a nil
// error means buf does not hold a complete frame yet; bytes past n belong to
// the next state (or to the application once the tunnel is up).
//
// Any protocol error fails the machine; the returned error is then the
// terminal *HandshakeError.
func (m *Machine) Advance(buf []byte) (n int, out []byte, err error) {
	if m.state == StateFailed {
		return 0, nil, m.err
	}
	if len(buf) == 0 {
		return 0, nil, nil
	}

	t, err := step(m.d, m.state, m.target, buf)
	if err != nil {
		if t.next != m.state {
			m.state = t.next
		}
		return 0, nil, m.Abort(err)
	}
	if t.n == 0 {
		return 0, nil, nil
	}

	m.state = t.next
	if t.next == StateConnectionVerified {
		m.bound = t.bound
	}
	for _, ev := range t.events {
		m.record(ev)
	}
	return t.n, t.send, nil
}

// Finish reports the end of the transport's input. Whatever is still
// buffered can never become a complete frame, so the machine fails with
// ErrTruncatedReply if buf is non-empty and ErrTransport otherwise.
func (m *Machine) Finish(buf []byte) error {
	if len(buf) > 0 {
		return m.Abort(fmt.Errorf("%w: connection closed after %d of a reply's bytes", ErrTruncatedReply, len(buf)))
	}
	return m.Abort(fmt.Errorf("%w: proxy closed the connection", ErrTransport))
}

// Relay marks the handshake as handed off to the application.
func (m *Machine) Relay() error {
	if m.state != StateConnectionVerified {
		return fmt.Errorf("cannot relay in state %s", m.state)
	}
	m.state = StateRelaying
	return nil
}

// Abort fails the machine with err. Aborting an already failed machine
// returns the original error and changes nothing; aborting a relaying
// machine is a no-op that returns nil.
func (m *Machine) Abort(err error) error {
	switch m.state {
	case StateFailed:
		return m.err
	case StateRelaying:
		return nil
	}
	if err == nil {
		err = errors.New("aborted")
	}

	he, ok := err.(*HandshakeError)
	if !ok {
		he = &HandshakeError{Version: m.cfg.Version, State: m.state, Err: err}
	}
	m.state = StateFailed
	m.err = he
	return he
}

func (m *Machine) record(ev Event) {
	if m.rec == nil {
		return
	}
	// A misbehaving recorder must not affect the handshake.
	recordSafe(m.rec, ev, time.Now())
}
