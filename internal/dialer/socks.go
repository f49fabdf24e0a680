package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/die-net/sockstun/internal/socks"
)

// Connector starts connection attempts to a target address.
type Connector interface {
	Connect(ctx context.Context, address string, handoff Handoff) *Attempt
}

// SOCKSProxyDialer connects to targets through a SOCKS4, SOCKS4a or SOCKS5
// proxy.
type SOCKSProxyDialer struct {
	cfg     Config
	proxy   socks.Config
	forward Dialer
}

var (
	_ Connector           = (*SOCKSProxyDialer)(nil)
	_ proxy.Dialer        = (*SOCKSProxyDialer)(nil)
	_ proxy.ContextDialer = (*SOCKSProxyDialer)(nil)
)

// NewSOCKSProxyDialer returns a dialer for the proxy described by pc.
func NewSOCKSProxyDialer(cfg Config, pc socks.Config) (*SOCKSProxyDialer, error) {
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("%s proxy dialer: %w", pc.Version, err)
	}
	return &SOCKSProxyDialer{cfg: cfg, proxy: pc, forward: NewDirectDialer(cfg)}, nil
}

// Proxy returns the proxy configuration.
func (f *SOCKSProxyDialer) Proxy() socks.Config {
	return f.proxy
}

// Connect starts an attempt to reach address through the proxy. Once the
// proxy confirms the tunnel, handoff (if non-nil) is given the connection and
// its result becomes the attempt's Established.Conn.
//
// Canceling ctx or calling Cancel on the attempt fails it with
// socks.ErrCanceled.
func (f *SOCKSProxyDialer) Connect(ctx context.Context, address string, handoff Handoff) *Attempt {
	a := newAttempt(ctx, fmt.Sprintf("%s proxy dial %s", f.proxy.Version, address))
	a.start(ctx, func(ctx context.Context) (Established, error) {
		return f.establish(ctx, address, handoff)
	})
	return a
}

func (f *SOCKSProxyDialer) establish(ctx context.Context, address string, handoff Handoff) (Established, error) {
	tl := &socks.Timeline{}
	rec := socks.Recorders{tl, f.cfg.Recorder}
	rec.Record(socks.EventConnectStart, time.Now())

	target, err := socks.ParseAddr(address)
	if err != nil {
		return Established{}, err
	}

	// The target is checked before anything is dialed.
	m, err := socks.NewMachine(f.proxy, target, rec)
	if err != nil {
		return Established{}, err
	}

	conn, err := f.forward.DialContext(ctx, "tcp", f.proxy.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return Established{}, m.Abort(fmt.Errorf("%w: %w", socks.ErrCanceled, context.Cause(ctx)))
		}
		return Established{}, m.Abort(fmt.Errorf("%w: %w", socks.ErrTransport, err))
	}
	rec.Record(socks.EventSocketOpen, time.Now())

	sc, err := socks.Handshake(ctx, conn, m, f.cfg.NegotiationTimeout)
	if err != nil {
		return Established{}, err
	}

	est := Established{Conn: sc, BoundAddr: sc.BoundAddr(), Timeline: tl}
	if handoff != nil {
		app, err := handoff(ctx, sc)
		if err != nil {
			_ = sc.Close()
			return Established{}, err
		}
		est.Conn = app
	}
	return est, nil
}

// DialContext connects to address through the proxy. The returned connection
// is a *socks.Conn.
func (f *SOCKSProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dialAttempt(ctx, f, network, address, nil)
}

// Dial is DialContext without a context, for proxy.Dialer.
func (f *SOCKSProxyDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}

func dialAttempt(ctx context.Context, c Connector, network, address string, handoff Handoff) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("dial %s %s: unsupported network", network, address)
	}

	est, err := c.Connect(ctx, address, handoff).Result()
	if err != nil {
		return nil, err
	}
	return est.Conn, nil
}
