package proxy

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/die-net/sockstun/internal/dialer"
)

// HTTPProxyServer serves an HTTP forward proxy whose outbound connections go
// through the configured upstream.
//
// It supports:
// - HTTP CONNECT tunneling (via connection hijacking + bidirectional copy)
// - non-CONNECT proxying (via httputil.ReverseProxy)
type HTTPProxyServer struct {
	ctx     context.Context
	dialer  dialer.Dialer
	verbose bool
	srv     *http.Server
	rp      *httputil.ReverseProxy
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
//
// Serve starts accepting connections on a listener; Close stops the underlying
// http.Server.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &HTTPProxyServer{ctx: ctx, dialer: cfg.Dialer, verbose: cfg.Verbose, rp: newReverseProxy(cfg)}
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

// Serve serves HTTP proxy requests on ln.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Close stops the HTTP server.
func (s *HTTPProxyServer) Close() error {
	return s.srv.Close()
}

func (s *HTTPProxyServer) handle(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Method, http.MethodConnect) {
		s.handleConnect(w, r)
		return
	}
	s.rp.ServeHTTP(w, r)
}

func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	_ = brw.Flush()

	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	ctx := r.Context()

	serverConn, err := s.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		if s.verbose {
			log.Printf("http proxy: CONNECT %s from %s: %v", target, clientConn.RemoteAddr(), err)
		}
		_, _ = writeError(brw, err, statusForDialError(err))
		_ = brw.Flush()
		_ = clientConn.Close()
		return
	}

	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	_ = brw.Flush()

	// The client may have sent tunnel bytes along with its request.
	if n := brw.Reader.Buffered(); n > 0 {
		early, _ := brw.Reader.Peek(n)
		if _, err := serverConn.Write(early); err != nil {
			_ = serverConn.Close()
			_ = clientConn.Close()
			return
		}
	}

	start := time.Now()
	stats, err := CopyBidirectional(ctx, clientConn, serverConn)
	if s.verbose {
		log.Printf("http proxy: CONNECT %s from %s: %d bytes up, %d down in %s (%v)",
			target, clientConn.RemoteAddr(), stats.Up, stats.Down, time.Since(start).Round(time.Millisecond), err)
	}
}

// writeError simulates http.Error() for use on a hijacked connection.
func writeError(brw *bufio.ReadWriter, err error, code int) (int, error) {
	return fmt.Fprintf(brw, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}

func newReverseProxy(cfg Config) *httputil.ReverseProxy {
	rewrite := func(pr *httputil.ProxyRequest) {
		// Forward-proxy handling: ensure URL is absolute and points at the origin server.
		out := pr.Out

		// Allow schema override through a non-standard header.
		if s := out.Header.Get("X-Proxy-Scheme"); s != "" {
			out.Header.Del("X-Proxy-Scheme")
			out.URL.Scheme = s
		} else if out.URL.Scheme == "" {
			out.URL.Scheme = "http"
		}

		if out.URL.Host == "" {
			out.URL.Host = pr.In.Host
		}
		out.Host = out.URL.Host
	}

	errHandler := func(w http.ResponseWriter, r *http.Request, err error) {
		if cfg.Verbose {
			log.Printf("http proxy: %s %s: %v", r.Method, r.URL.Redacted(), err)
		}
		http.Error(w, err.Error(), statusForDialError(err))
	}

	rt := cfg.Transport
	if rt == nil {
		rt = &http.Transport{
			DialContext:         cfg.Dialer.DialContext,
			MaxIdleConns:        2048,
			MaxIdleConnsPerHost: 1024,
			IdleConnTimeout:     cfg.HTTPIdleTimeout,
			TLSHandshakeTimeout: cfg.NegotiationTimeout,
		}
	}

	return &httputil.ReverseProxy{
		Rewrite:       rewrite,
		Transport:     rt,
		FlushInterval: 10 * time.Millisecond, // Only buffer incomplete responses briefly
		ErrorHandler:  errHandler,
		BufferPool:    copyBuffers,
	}
}
