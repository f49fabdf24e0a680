// Package fetch downloads URLs, choosing per request whether to connect
// directly, through an HTTP proxy, or through a SOCKS tunnel.
package fetch
