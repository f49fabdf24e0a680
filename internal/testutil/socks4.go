package testutil

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
)

const (
	socks4Granted  = 0x5a
	socks4Rejected = 0x5b
)

// SOCKS4Server is a scripted SOCKS4/SOCKS4a proxy for tests. SOCKS4a
// requests are recognized by their 0.0.0.x destination address.
type SOCKS4Server struct {
	// Ident, if set, must match the request's user id.
	Ident string

	// Status, if nonzero, is sent as the reply code without dialing the
	// target.
	Status byte

	// Trickle writes the reply one byte at a time.
	Trickle bool

	// Requests, if non-nil, receives each CONNECT target as host:port.
	Requests chan<- string
}

// SOCKS4Request is a parsed SOCKS4 or SOCKS4a CONNECT request.
type SOCKS4Request struct {
	Cmd   byte
	Port  uint16
	IP    netip.Addr
	Ident string
	Host  string
}

// Address returns the request's target as host:port, preferring the SOCKS4a
// hostname.
func (r *SOCKS4Request) Address() string {
	host := r.IP.String()
	if r.Host != "" {
		host = r.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(int(r.Port)))
}

// ReadSOCKS4Request parses a request from br.
func ReadSOCKS4Request(br *bufio.Reader) (*SOCKS4Request, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != 0x04 {
		return nil, fmt.Errorf("socks4: version %#02x", hdr[0])
	}

	req := &SOCKS4Request{
		Cmd:  hdr[1],
		Port: binary.BigEndian.Uint16(hdr[2:4]),
		IP:   netip.AddrFrom4([4]byte(hdr[4:8])),
	}

	ident, err := readCString(br)
	if err != nil {
		return nil, err
	}
	req.Ident = ident

	ip := req.IP.As4()
	if ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		if req.Host, err = readCString(br); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func readCString(br *bufio.Reader) (string, error) {
	s, err := br.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

// Serve runs one SOCKS4 session on c and relays it to the requested target.
func (s SOCKS4Server) Serve(ctx context.Context, c net.Conn) error {
	var w io.Writer = c
	if s.Trickle {
		w = trickleWriter{c}
	}

	br := bufio.NewReader(c)
	req, err := ReadSOCKS4Request(br)
	if err != nil {
		return err
	}
	if s.Requests != nil {
		s.Requests <- req.Address()
	}

	if s.Status != 0 {
		return writeSOCKS4Reply(w, s.Status, netip.AddrPort{})
	}
	if req.Cmd != 0x01 || (s.Ident != "" && req.Ident != s.Ident) {
		return writeSOCKS4Reply(w, socks4Rejected, netip.AddrPort{})
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp4", req.Address())
	if err != nil {
		return writeSOCKS4Reply(w, socks4Rejected, netip.AddrPort{})
	}
	defer dst.Close()

	bound, err := netip.ParseAddrPort(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if err := writeSOCKS4Reply(w, socks4Granted, bound); err != nil {
		return err
	}

	relay(c, br, dst)
	return nil
}

func writeSOCKS4Reply(w io.Writer, status byte, bound netip.AddrPort) error {
	b := []byte{0x00, status}
	b = binary.BigEndian.AppendUint16(b, bound.Port())
	ip := [4]byte{}
	if bound.Addr().Is4() {
		ip = bound.Addr().As4()
	}
	_, err := w.Write(append(b, ip[:]...))
	return err
}

// StartSOCKS4Proxy runs s on a loopback listener for the life of the test.
func StartSOCKS4Proxy(t *testing.T, ctx context.Context, s SOCKS4Server) net.Listener {
	t.Helper()

	ln, wait := StartServer(t, ctx, func(c net.Conn) {
		if err := s.Serve(ctx, c); err != nil && !errors.Is(err, io.EOF) {
			t.Logf("socks4 proxy: %v", err)
		}
	})
	t.Cleanup(wait)
	return ln
}
