package fetch

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/die-net/sockstun/internal/dialer"
	"github.com/die-net/sockstun/internal/socks"
)

var (
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")
	ErrUnsupportedScheme      = errors.New("unsupported url scheme")
)

// ProxyFunc returns the proxy to use for a request, or nil for a direct
// connection.
type ProxyFunc func(*http.Request) (*url.URL, error)

// FixedProxy returns a ProxyFunc that always picks u. A nil u means direct.
func FixedProxy(u *url.URL) ProxyFunc {
	return func(*http.Request) (*url.URL, error) {
		return u, nil
	}
}

type Config struct {
	Dialer dialer.Config

	// Proxy selects the proxy per request. Nil means direct.
	Proxy ProxyFunc

	IdleTimeout time.Duration
}

// Transport is an http.RoundTripper that routes each request directly,
// through an HTTP(S) proxy, or through a SOCKS4/4a/5 proxy.
//
// One http.Transport is kept per distinct proxy so connections are pooled
// per route.
type Transport struct {
	cfg Config

	mu     sync.Mutex
	routes map[string]*http.Transport
}

var _ http.RoundTripper = (*Transport)(nil)

func NewTransport(cfg Config) *Transport {
	return &Transport{cfg: cfg, routes: make(map[string]*http.Transport)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("fetch: nil request url")
	}
	switch req.URL.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("fetch %s: %w: %q", req.URL.Redacted(), ErrUnsupportedScheme, req.URL.Scheme)
	}

	var proxyURL *url.URL
	if t.cfg.Proxy != nil {
		u, err := t.cfg.Proxy(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: proxy: %w", req.URL.Redacted(), err)
		}
		proxyURL = u
	}

	rt, err := t.route(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	return rt.RoundTrip(req)
}

// CloseIdleConnections closes idle connections on every route.
func (t *Transport) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rt := range t.routes {
		rt.CloseIdleConnections()
	}
}

func (t *Transport) route(proxyURL *url.URL) (*http.Transport, error) {
	key := "direct"
	if proxyURL != nil {
		key = proxyURL.String()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rt, ok := t.routes[key]; ok {
		return rt, nil
	}
	rt, err := t.newRoute(proxyURL)
	if err != nil {
		return nil, err
	}
	t.routes[key] = rt
	return rt, nil
}

func (t *Transport) newRoute(proxyURL *url.URL) (*http.Transport, error) {
	direct := dialer.NewDirectDialer(t.cfg.Dialer)

	rt := &http.Transport{
		DialContext:         direct.DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     t.cfg.IdleTimeout,
		TLSHandshakeTimeout: t.cfg.Dialer.NegotiationTimeout,
		TLSClientConfig:     t.tlsConfig(),
	}
	if proxyURL == nil {
		rt.ForceAttemptHTTP2 = true
		return rt, nil
	}

	switch strings.ToLower(proxyURL.Scheme) {
	case "http", "https":
		rt.Proxy = http.ProxyURL(proxyURL)
		rt.ForceAttemptHTTP2 = true
	case "socks4", "socks4a", "socks5", "socks5h":
		pc, err := socks.FromURL(proxyURL)
		if err != nil {
			return nil, err
		}
		sd, err := dialer.NewSOCKSProxyDialer(t.cfg.Dialer, pc)
		if err != nil {
			return nil, err
		}
		td, err := dialer.NewTLSDialer(sd, t.cfg.Dialer)
		if err != nil {
			return nil, err
		}
		rt.DialContext = sd.DialContext
		rt.DialTLSContext = td.DialContext
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxyScheme, proxyURL.Scheme)
	}
	return rt, nil
}

func (t *Transport) tlsConfig() *tls.Config {
	if t.cfg.Dialer.TLS != nil {
		return t.cfg.Dialer.TLS.Clone()
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}
}
