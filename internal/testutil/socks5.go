package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
)

// SOCKS5Server is a scripted SOCKS5 proxy for tests.
type SOCKS5Server struct {
	// Username and Password, if set, make the server require
	// username/password authentication.
	Username string
	Password string

	// Method, if nonzero, is sent as the selected method instead of the one
	// implied by the credentials.
	Method byte

	// Rep, if nonzero, is sent as the CONNECT reply code without dialing the
	// target.
	Rep byte

	// Trickle writes every reply one byte at a time.
	Trickle bool

	// Stall makes the server read the CONNECT request and then never answer.
	Stall bool

	// Requests, if non-nil, receives each CONNECT target as host:port.
	Requests chan<- string
}

// Serve runs one SOCKS5 session on c and relays it to the requested target.
func (s SOCKS5Server) Serve(ctx context.Context, c net.Conn) error {
	var w io.Writer = c
	if s.Trickle {
		w = trickleWriter{c}
	}

	if _, err := txsocks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	method := s.Method
	if method == 0 {
		method = txsocks5.MethodNone
		if s.Username != "" || s.Password != "" {
			method = txsocks5.MethodUsernamePassword
		}
	}
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(w); err != nil {
		return err
	}

	switch method {
	case txsocks5.MethodNone:
	case txsocks5.MethodUsernamePassword:
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != s.Username || string(urq.Passwd) != s.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(w)
			return nil
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(w); err != nil {
			return err
		}
	default:
		return nil
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if s.Requests != nil {
		s.Requests <- req.Address()
	}
	if s.Stall {
		// Wait for the client to give up.
		_, _ = io.Copy(io.Discard, c)
		return nil
	}
	if req.Cmd != txsocks5.CmdConnect {
		return writeSOCKS5Reply(w, txsocks5.RepCommandNotSupported)
	}
	if s.Rep != 0 {
		return writeSOCKS5Reply(w, s.Rep)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return writeSOCKS5Reply(w, txsocks5.RepHostUnreachable)
	}
	defer dst.Close()

	a, addr, port, err := txsocks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(w); err != nil {
		return err
	}

	relay(c, c, dst)
	return nil
}

func writeSOCKS5Reply(w io.Writer, rep byte) error {
	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(w)
	return err
}

// StartSOCKS5Proxy runs s on a loopback listener for the life of the test.
func StartSOCKS5Proxy(t *testing.T, ctx context.Context, s SOCKS5Server) net.Listener {
	t.Helper()

	ln, wait := StartServer(t, ctx, func(c net.Conn) {
		if err := s.Serve(ctx, c); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			t.Logf("socks5 proxy: %v", err)
		}
	})
	t.Cleanup(wait)
	return ln
}

// relay copies between the client and dst until either side is done. r is
// the client's read side, which may hold bytes already buffered.
func relay(c net.Conn, r io.Reader, dst net.Conn) {
	go func() {
		_, _ = io.Copy(dst, r)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}

// trickleWriter splits every write into single-byte writes.
type trickleWriter struct {
	w io.Writer
}

func (t trickleWriter) Write(p []byte) (int, error) {
	for i := range p {
		if _, err := t.w.Write(p[i : i+1]); err != nil {
			return i, fmt.Errorf("trickle: %w", err)
		}
	}
	return len(p), nil
}
