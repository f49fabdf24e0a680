package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"sort"

	utls "github.com/refraction-networking/utls"

	"github.com/die-net/sockstun/internal/socks"
)

var fingerprints = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_Auto,
	"firefox": utls.HelloFirefox_Auto,
	"safari":  utls.HelloSafari_Auto,
	"ios":     utls.HelloIOS_Auto,
	"edge":    utls.HelloEdge_Auto,
	"android": utls.HelloAndroid_11_OkHttp,
}

// Fingerprints returns the accepted values of Config.TLSFingerprint besides
// the empty string, which uses crypto/tls. "random" picks one of the others
// per connection.
func Fingerprints() []string {
	names := make([]string, 0, len(fingerprints)+1)
	for name := range fingerprints {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, "random")
}

// TLSDialer upgrades connections made by another Connector to TLS.
type TLSDialer struct {
	next Connector
	cfg  Config
}

var _ Connector = (*TLSDialer)(nil)

// NewTLSDialer returns a dialer that performs a TLS client handshake over
// every connection next establishes.
func NewTLSDialer(next Connector, cfg Config) (*TLSDialer, error) {
	if fp := cfg.TLSFingerprint; fp != "" && fp != "random" {
		if _, ok := fingerprints[fp]; !ok {
			return nil, fmt.Errorf("unknown tls fingerprint %q", fp)
		}
	}
	return &TLSDialer{next: next, cfg: cfg}, nil
}

// Connect starts an attempt whose Established.Conn is the TLS connection
// (after handoff, if non-nil). Handshake failures wrap socks.ErrTLSHandshake.
func (d *TLSDialer) Connect(ctx context.Context, address string, handoff Handoff) *Attempt {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		a := newAttempt(ctx, "tls dial "+address)
		a.fail(fmt.Errorf("%w: %w", socks.ErrInvalidHost, err))
		return a
	}

	return d.next.Connect(ctx, address, func(ctx context.Context, conn net.Conn) (net.Conn, error) {
		tc, err := d.handshake(ctx, conn, host)
		if err != nil {
			return nil, err
		}
		if handoff == nil {
			return tc, nil
		}
		app, err := handoff(ctx, tc)
		if err != nil {
			_ = tc.Close()
			return nil, err
		}
		return app, nil
	})
}

// DialContext connects to address and completes a TLS handshake with it.
func (d *TLSDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dialAttempt(ctx, d, network, address, nil)
}

func (d *TLSDialer) handshake(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
	if d.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.NegotiationTimeout)
		defer cancel()
	}

	var (
		tc  net.Conn
		err error
	)
	if d.cfg.TLSFingerprint == "" {
		tc, err = d.stdHandshake(ctx, conn, host)
	} else {
		tc, err = d.utlsHandshake(ctx, conn, host)
	}
	if err == nil {
		return tc, nil
	}

	if errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: %w", socks.ErrCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w: %s: %w", socks.ErrTLSHandshake, socks.ErrHandshakeTimeout, host, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", socks.ErrTLSHandshake, host, err)
}

func (d *TLSDialer) stdHandshake(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.cfg.TLS != nil {
		cfg = d.cfg.TLS.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

// utlsHandshake sends a browser-like ClientHello. Its ALPN offer is replaced
// with the configured NextProtos (default http/1.1): the resulting conn is not
// a *tls.Conn, so net/http cannot detect a negotiated h2.
func (d *TLSDialer) utlsHandshake(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
	id, ok := fingerprints[d.cfg.TLSFingerprint]
	if !ok {
		names := Fingerprints()
		id = fingerprints[names[rand.IntN(len(names)-1)]]
	}

	cfg := &utls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}
	if base := d.cfg.TLS; base != nil {
		cfg.RootCAs = base.RootCAs
		cfg.InsecureSkipVerify = base.InsecureSkipVerify
		if base.ServerName != "" {
			cfg.ServerName = base.ServerName
		}
		if len(base.NextProtos) > 0 {
			cfg.NextProtos = slices.Clone(base.NextProtos)
		}
	}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", id.Str(), err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = slices.Clone(cfg.NextProtos)
		}
	}

	uc := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uc.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", id.Str(), err)
	}
	if err := uc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return uc, nil
}
