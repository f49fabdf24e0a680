package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/sockstun/internal/socks"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - socks4://[ident@]host:port
//   - socks4a://[ident@]host:port
//   - socks5://[user:pass@]host:port
//   - socks5h://[user:pass@]host:port
//
// SOCKS proxies default to port 1080.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "":
		return nil, errors.New("invalid url: missing scheme")
	case "direct":
		if u.Path != "" && u.Path != "/" {
			return nil, errors.New("invalid url: path should be empty")
		}
		return NewDirectDialer(cfg), nil
	case "socks4", "socks4a", "socks5", "socks5h":
		pc, err := socks.FromURL(u)
		if err != nil {
			return nil, err
		}
		return NewSOCKSProxyDialer(cfg, pc)
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}
