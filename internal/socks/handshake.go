package socks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const readChunk = 512

// aLongTimeAgo is used as a deadline to interrupt blocked I/O on
// cancellation.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is a connection tunneled through a SOCKS proxy.
type Conn struct {
	net.Conn
	bound   Addr
	pending []byte
}

// BoundAddr returns the address the proxy reported for the relayed
// connection.
func (c *Conn) BoundAddr() Addr {
	return c.bound
}

// Read returns bytes that arrived together with the proxy's final reply
// before reading from the network.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// CloseWrite shuts down the writing side of the tunnel if the underlying
// connection supports it.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

// Handshake runs m over conn, an established connection to the proxy, until
// the proxy confirms the CONNECT request.
//
// If timeout is positive, each state must receive its reply within timeout
// or the handshake fails with ErrHandshakeTimeout. Canceling ctx fails the
// handshake with ErrCanceled.
//
// On failure conn is closed and the error is a *HandshakeError. On success
// the deadline is cleared and conn is returned wrapped in a *Conn.
func Handshake(ctx context.Context, conn net.Conn, m *Machine, timeout time.Duration) (*Conn, error) {
	h := &handshaker{conn: conn, m: m, timeout: timeout, buf: make([]byte, 0, readChunk)}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	if err := h.run(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !stop() && ctx.Err() != nil {
		_ = conn.Close()
		return nil, m.Abort(fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx)))
	}

	if err := m.Relay(); err != nil {
		_ = conn.Close()
		return nil, m.Abort(err)
	}
	_ = conn.SetDeadline(time.Time{})

	c := &Conn{Conn: conn, bound: m.Bound()}
	if len(h.buf) > 0 {
		c.pending = append([]byte(nil), h.buf...)
	}
	return c, nil
}

type handshaker struct {
	conn    net.Conn
	m       *Machine
	timeout time.Duration
	buf     []byte

	deadlineState State
}

func (h *handshaker) run(ctx context.Context) error {
	out, err := h.m.Start()
	if err != nil {
		return err
	}

	for {
		if len(out) > 0 {
			if err := h.write(ctx, out); err != nil {
				return h.m.Abort(err)
			}
		}
		if h.m.State() == StateConnectionVerified {
			return nil
		}

		var n int
		n, out, err = h.m.Advance(h.buf)
		if err != nil {
			return err
		}
		if n > 0 {
			h.buf = h.buf[n:]
			continue
		}

		if err := h.read(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return h.m.Finish(h.buf)
			}
			return h.m.Abort(err)
		}
	}
}

// armDeadline starts the reply budget for the current state. Reads within
// one state share it, so a proxy trickling a frame byte by byte still has to
// finish in time.
func (h *handshaker) armDeadline(ctx context.Context) {
	h.deadlineState = h.m.State()
	if h.timeout <= 0 {
		return
	}
	_ = h.conn.SetDeadline(time.Now().Add(h.timeout))
	if ctx.Err() != nil {
		// Cancellation may have raced with the line above.
		_ = h.conn.SetDeadline(aLongTimeAgo)
	}
}

func (h *handshaker) write(ctx context.Context, b []byte) error {
	h.armDeadline(ctx)
	if _, err := h.conn.Write(b); err != nil {
		return h.ioError(ctx, "write", err)
	}
	return nil
}

func (h *handshaker) read(ctx context.Context) error {
	if h.m.State() != h.deadlineState {
		h.armDeadline(ctx)
	}

	if cap(h.buf)-len(h.buf) < readChunk {
		nb := make([]byte, len(h.buf), len(h.buf)+readChunk)
		copy(nb, h.buf)
		h.buf = nb
	}
	n, err := h.conn.Read(h.buf[len(h.buf):cap(h.buf)])
	h.buf = h.buf[:len(h.buf)+n]
	if n > 0 || err == nil {
		// A pending error is returned again by the next read.
		return nil
	}
	return h.ioError(ctx, "read", err)
}

func (h *handshaker) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: no reply within %s", ErrHandshakeTimeout, h.timeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
