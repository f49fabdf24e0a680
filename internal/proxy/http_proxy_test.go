package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/die-net/sockstun/internal/dialer"
	"github.com/die-net/sockstun/internal/socks"
	"github.com/die-net/sockstun/internal/testutil"
)

func socksDialer(t *testing.T, v socks.Version, ln net.Listener) dialer.Dialer {
	t.Helper()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	d, err := dialer.NewSOCKSProxyDialer(dialer.Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second},
		socks.Config{Version: v, Host: host, Port: uint16(p)})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func startHTTPProxy(t *testing.T, ctx context.Context, cfg Config) net.Listener {
	t.Helper()

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewHTTPProxyServer(ctx, cfg)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln
}

func connect(t *testing.T, proxyAddr, target string) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()

	c, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatal(err)
	}

	req := &http.Request{Method: http.MethodConnect, Host: target, URL: &url.URL{Opaque: target}}
	bw := bufio.NewWriter(c)
	if err := req.Write(bw); err != nil {
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		t.Fatal(err)
	}
	return c, br, resp
}

func TestHTTPProxyConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	upLn := testutil.StartSOCKS5Proxy(t, ctx, testutil.SOCKS5Server{})

	ln := startHTTPProxy(t, ctx, Config{
		NegotiationTimeout: 2 * time.Second,
		Dialer:             socksDialer(t, socks.V5, upLn),
	})

	c, br, resp := connect(t, ln.Addr().String(), echoLn.Addr().String())
	defer c.Close()
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}

	testutil.AssertEcho(t, c, br, []byte("hello"))
}

func TestHTTPProxyConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		version socks.Version
		server  testutil.SOCKS5Server
		target  string
		status  int
	}{
		{
			name:    "refused",
			version: socks.V5,
			server:  testutil.SOCKS5Server{Rep: 0x05},
			target:  "127.0.0.1:1",
			status:  http.StatusBadGateway,
		},
		{
			name:    "hostname over socks4",
			version: socks.V4,
			target:  "example.com:443",
			status:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			upLn := testutil.StartSOCKS5Proxy(t, ctx, tt.server)
			ln := startHTTPProxy(t, ctx, Config{Dialer: socksDialer(t, tt.version, upLn)})

			c, _, resp := connect(t, ln.Addr().String(), tt.target)
			defer c.Close()
			_ = resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestHTTPProxyForward(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") != "" {
			http.Error(w, "leaked client address", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "forwarded "+r.URL.Path)
	}))
	defer origin.Close()

	requests := make(chan string, 1)
	upLn := testutil.StartSOCKS5Proxy(t, ctx, testutil.SOCKS5Server{Requests: requests})
	ln := startHTTPProxy(t, ctx, Config{Dialer: socksDialer(t, socks.V5, upLn)})

	proxyURL, err := url.Parse("http://" + ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	defer tr.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin.URL+"/page", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := (&http.Client{Transport: tr}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "forwarded /page" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if got := <-requests; got != origin.Listener.Addr().String() {
		t.Fatalf("upstream was asked for %s", got)
	}
}
