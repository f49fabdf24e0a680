package dialer

import (
	"context"
	"net"
	"net/url"

	"golang.org/x/net/proxy"

	"github.com/die-net/sockstun/internal/socks"
)

// Register teaches proxy.FromURL the socks4 and socks4a schemes, using cfg
// for the resulting dialers. golang.org/x/net/proxy already handles socks5 and
// socks5h itself.
func Register(cfg Config) {
	for _, scheme := range []string{"socks4", "socks4a"} {
		proxy.RegisterDialerType(scheme, func(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
			pc, err := socks.FromURL(u)
			if err != nil {
				return nil, err
			}
			d, err := NewSOCKSProxyDialer(cfg, pc)
			if err != nil {
				return nil, err
			}
			if forward != nil {
				d.forward = forwardDialer{forward}
			}
			return d, nil
		})
	}
}

// forwardDialer lets a proxy.Dialer reach the SOCKS proxy, honoring the
// context when it can.
type forwardDialer struct {
	proxy.Dialer
}

func (f forwardDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := f.Dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return f.Dialer.Dial(network, address)
}
