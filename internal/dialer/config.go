package dialer

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/die-net/sockstun/internal/socks"
)

type Config struct {
	// DialTimeout bounds the TCP connect to the proxy (or to the target for
	// direct connections).
	DialTimeout time.Duration

	// NegotiationTimeout bounds each step of the SOCKS handshake and the TLS
	// handshake that may follow it.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// TLS is the trust policy for TLS upgrades. A nil value uses the system
	// roots.
	TLS *tls.Config

	// TLSFingerprint selects a browser ClientHello to mimic. See
	// [Fingerprints].
	TLSFingerprint string

	// Recorder receives connection milestones. It may be nil.
	Recorder socks.Recorder
}
