// Package dialer opens outbound connections for sockstun, either directly or
// tunneled through a SOCKS4, SOCKS4a or SOCKS5 proxy, optionally upgrading the
// tunnel to TLS.
//
// Every proxied connection attempt is an [Attempt] that completes exactly
// once. The DialContext methods wrap an Attempt for callers that only need a
// net.Conn.
package dialer
