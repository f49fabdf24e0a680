// Package proxy implements the local HTTP forward proxy that sends its
// outbound traffic through the configured SOCKS upstream.
//
// CONNECT requests become tunnels from the upstream dialer; other requests
// are forwarded with an http.RoundTripper. Shared plumbing such as keepalive
// listeners and bidirectional copy lives here too.
package proxy
