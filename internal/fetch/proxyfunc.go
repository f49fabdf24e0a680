package fetch

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"
)

// NewProxyFunc returns a ProxyFunc that sends every request through proxy
// except those whose host matches noProxy, a comma-separated list in the
// NO_PROXY format. Requests for localhost and loopback addresses always go
// direct. An empty proxy or "direct://" means no proxy at all.
func NewProxyFunc(proxy, noProxy string) ProxyFunc {
	if proxy == "" || strings.EqualFold(proxy, "direct://") {
		return nil
	}

	fn := (&httpproxy.Config{HTTPProxy: proxy, HTTPSProxy: proxy, NoProxy: noProxy}).ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return fn(req.URL)
	}
}
