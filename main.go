package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sockstun/internal/dialer"
	"github.com/die-net/sockstun/internal/fetch"
	"github.com/die-net/sockstun/internal/proxy"
	"github.com/die-net/sockstun/internal/socks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type settings struct {
	Proxy              string
	NoProxy            string
	HTTPListen         string
	DebugListen        string
	ConnectTimeout     time.Duration
	NegotiationTimeout time.Duration
	HTTPIdleTimeout    time.Duration
	TLSFingerprint     string
	Insecure           bool
	TCPKeepAlive       string
	UserAgent          string
	Verbose            bool
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [url...]\n\nFetches each url through the proxy, and/or serves a local HTTP proxy.\n\n", os.Args[0])
		fs.PrintDefaults()
	}

	fs.String("config", "", "Config file (yaml, toml or json) supplying any of the flags below")
	fs.String("proxy", defaultEnv("ALL_PROXY", "direct://"), "Upstream proxy URL: direct:// | socks4://[ident@]host:port | socks4a://[ident@]host:port | socks5://[user:pass@]host:port | socks5h://[user:pass@]host:port | http(s)://host:port (fetch only)")
	fs.String("no-proxy", defaultEnv("NO_PROXY", ""), "Comma-separated hosts fetched without the proxy")
	fs.String("http-listen", "", "HTTP proxy listen address (e.g. 127.0.0.1:8080). Empty disables.")
	fs.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.Duration("connect-timeout", 3*time.Second, "Timeout for DNS lookup and TCP connect to the proxy")
	fs.Duration("negotiation-timeout", 10*time.Second, "Timeout for each step of the SOCKS and TLS handshakes")
	fs.Duration("http-idle-timeout", 4*time.Minute, "Timeout for idle HTTP connections")
	fs.String("tls-fingerprint", "", "Mimic a browser TLS ClientHello: "+strings.Join(dialer.Fingerprints(), "|")+". Empty uses Go's own.")
	fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.String("user-agent", "sockstun/1.0", "User-Agent for fetched urls")
	fs.Bool("verbose", false, "Enable per-connection logging")

	fs.SortFlags = false
	return fs
}

// loadSettings merges flags, SOCKSTUN_* environment variables and the
// optional config file, in that order of precedence.
func loadSettings(fs *pflag.FlagSet, args []string) (settings, []string, error) {
	if err := fs.Parse(args); err != nil {
		return settings{}, nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return settings{}, nil, err
	}
	v.SetEnvPrefix("sockstun")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	s := settings{
		Proxy:              v.GetString("proxy"),
		NoProxy:            v.GetString("no-proxy"),
		HTTPListen:         v.GetString("http-listen"),
		DebugListen:        v.GetString("debug-listen"),
		ConnectTimeout:     v.GetDuration("connect-timeout"),
		NegotiationTimeout: v.GetDuration("negotiation-timeout"),
		HTTPIdleTimeout:    v.GetDuration("http-idle-timeout"),
		TLSFingerprint:     v.GetString("tls-fingerprint"),
		Insecure:           v.GetBool("insecure"),
		TCPKeepAlive:       v.GetString("tcp-keepalive"),
		UserAgent:          v.GetString("user-agent"),
		Verbose:            v.GetBool("verbose"),
	}
	return s, fs.Args(), nil
}

func run() error {
	s, urls, err := loadSettings(newFlagSet(), os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(s.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if s.HTTPListen == "" && len(urls) == 0 {
		return errors.New("nothing to do (pass urls to fetch and/or set --http-listen)")
	}

	dialCfg := dialer.Config{
		DialTimeout:        s.ConnectTimeout,
		NegotiationTimeout: s.NegotiationTimeout,
		KeepAlive:          ka,
		TLSFingerprint:     s.TLSFingerprint,
		TLS: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.Insecure, //nolint:gosec // Opt-in via --insecure.
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		},
	}
	if s.Verbose {
		dialCfg.Recorder = socks.LogRecorder{Prefix: "socks: "}
	}
	dialer.Register(dialCfg)

	rt := fetch.NewTransport(fetch.Config{
		Dialer:      dialCfg,
		Proxy:       fetch.NewProxyFunc(s.Proxy, s.NoProxy),
		IdleTimeout: s.HTTPIdleTimeout,
	})
	defer rt.CloseIdleConnections()

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.DebugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := proxy.ListenTCP(ctx, "tcp", s.DebugListen, ka)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Printf("debug listening on %s", s.DebugListen)
	}

	if s.HTTPListen != "" {
		upstream, err := dialer.New(dialCfg, s.Proxy)
		if err != nil {
			return fmt.Errorf("invalid --proxy: %w", err)
		}

		ln, err := proxy.ListenTCP(ctx, "tcp", s.HTTPListen, ka)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		srv := proxy.NewHTTPProxyServer(ctx, proxy.Config{
			NegotiationTimeout: s.NegotiationTimeout,
			HTTPIdleTimeout:    s.HTTPIdleTimeout,
			KeepAlive:          ka,
			Dialer:             upstream,
			Transport:          rt,
			Verbose:            s.Verbose,
		})
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil {
				return fmt.Errorf("http proxy serve: %w", err)
			}
			return nil
		})
		log.Printf("http proxy listening on %s via %s", s.HTTPListen, redactProxy(s.Proxy))
	}

	if len(urls) > 0 {
		f := fetch.NewFetcher(rt, s.UserAgent)
		g.Go(func() error {
			return fetchAll(ctx, f, urls, s.Verbose, s.HTTPListen == "")
		})
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, errFetchDone) {
		err = nil
	}

	if s.HTTPListen != "" {
		log.Print("shutting down")
	}
	return err
}

// errFetchDone stops the group once all urls are fetched and no listener
// needs to keep running.
var errFetchDone = errors.New("fetch done")

func fetchAll(ctx context.Context, f *fetch.Fetcher, urls []string, verbose, exitWhenDone bool) error {
	var failed int
	for _, u := range urls {
		res, err := f.Fetch(ctx, u, os.Stdout)
		if err != nil {
			failed++
			log.Printf("fetch %s: %v", u, err)
			continue
		}
		if verbose || res.StatusCode >= 400 {
			log.Printf("fetch %s: %s, %d bytes in %s", u, res.Status, res.Bytes, res.Elapsed.Round(time.Millisecond))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(urls))
	}
	if exitWhenDone {
		return errFetchDone
	}
	return nil
}

func redactProxy(raw string) string {
	if pc, err := socks.ParseURL(raw); err == nil {
		return pc.String()
	}
	return raw
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultEnv(name, def string) string {
	if p := os.Getenv(name); p != "" {
		return p
	}
	if p := os.Getenv(strings.ToLower(name)); p != "" {
		return p
	}
	return def
}
