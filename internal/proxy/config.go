package proxy

import (
	"net"
	"net/http"
	"time"

	"github.com/die-net/sockstun/internal/dialer"
)

type Config struct {
	NegotiationTimeout time.Duration
	HTTPIdleTimeout    time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer opens CONNECT tunnels.
	Dialer dialer.Dialer

	// Transport forwards non-CONNECT requests. If nil, an http.Transport
	// dialing through Dialer is used.
	Transport http.RoundTripper

	// Verbose logs every tunnel and its failures.
	Verbose bool
}
