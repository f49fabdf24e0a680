// Package socks implements the client side of the SOCKS4, SOCKS4a and SOCKS5
// CONNECT handshakes.
//
// The protocol logic lives in [Machine], which performs no I/O: it produces
// the bytes to send and consumes whatever reply bytes have been buffered so
// far, so partial and coalesced reads are handled the same way. [Handshake]
// drives a Machine over a net.Conn, applying a per-state deadline and
// returning a [Conn] once the proxy has confirmed the tunnel.
//
// Target hosts are never resolved locally. IPv4 literals are sent as
// addresses, hostnames are handed to the proxy (SOCKS4a and SOCKS5), and
// IPv6 literals are only supported by SOCKS5.
package socks
