package socks

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHost means the target host cannot be encoded for the
	// proxy's SOCKS version.
	ErrInvalidHost = errors.New("invalid host")
	// ErrUnsupportedAddress means the address type exists but the SOCKS
	// version cannot carry it (IPv6 over SOCKS4), or the proxy replied with
	// an unknown address type.
	ErrUnsupportedAddress = errors.New("address type not supported")
	ErrProtocolVersion    = errors.New("unexpected protocol version")
	ErrAuthMethodRejected = errors.New("authentication method rejected")
	// ErrAuthenticationFailed means the proxy refused the credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrTruncatedReply means the proxy closed the connection in the middle
	// of a reply frame.
	ErrTruncatedReply = errors.New("truncated reply")
	// ErrConnectionRefused is matched by a [ServerError] carrying SOCKS5
	// reply code 0x05.
	ErrConnectionRefused = errors.New("connection refused")
	ErrTransport         = errors.New("transport error")
	ErrTLSHandshake      = errors.New("tls handshake failed")
	ErrCanceled          = errors.New("connection attempt canceled")
	ErrHandshakeTimeout  = errors.New("handshake timed out")
)

const (
	repConnectionRefused = 0x05
	socks4Granted        = 0x5a
)

var socks5Errors = map[byte]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

var socks4Errors = map[byte]string{
	0x5b: "request rejected or failed",
	0x5c: "request rejected because SOCKS server cannot connect to identd on the client",
	0x5d: "request rejected because the client program and identd report different user-ids",
}

// ServerError is a failure reported by the proxy in its CONNECT reply.
type ServerError struct {
	Version Version
	Code    byte
	Message string
}

func newServerError(v Version, code byte) *ServerError {
	table := socks5Errors
	if v != V5 {
		table = socks4Errors
	}
	msg, ok := table[code]
	if !ok {
		msg = "unknown error"
	}
	return &ServerError{Version: v, Code: code, Message: msg}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server reply %#02x: %s", e.Code, e.Message)
}

// Refused reports whether the proxy said the target refused the connection.
func (e *ServerError) Refused() bool {
	return e.Version == V5 && e.Code == repConnectionRefused
}

// Is lets errors.Is(err, ErrConnectionRefused) single out refused
// connections from other relay failures.
func (e *ServerError) Is(target error) bool {
	return target == ErrConnectionRefused && e.Refused()
}

// HandshakeError is the terminal error of a handshake. State is the state the
// handshake was in when it failed.
type HandshakeError struct {
	Version Version
	State   State
	Err     error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Version, e.State, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the handshake failed because a state deadline
// expired.
func (e *HandshakeError) Timeout() bool {
	return errors.Is(e.Err, ErrHandshakeTimeout)
}
