package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result describes a completed download.
type Result struct {
	URL        string
	Status     string
	StatusCode int
	Bytes      int64
	Elapsed    time.Duration
}

// Fetcher downloads URLs with an http.Client built on a Transport.
type Fetcher struct {
	client *http.Client
	ua     string
}

// NewFetcher returns a Fetcher using rt. userAgent is sent when non-empty.
func NewFetcher(rt http.RoundTripper, userAgent string) *Fetcher {
	return &Fetcher{client: &http.Client{Transport: rt}, ua: userAgent}
}

// Fetch GETs rawURL and copies the response body to w. Non-2xx responses are
// not errors; check Result.StatusCode.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) (Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if f.ua != "" {
		req.Header.Set("User-Agent", f.ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	res := Result{
		URL:        rawURL,
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Bytes:      n,
		Elapsed:    time.Since(start),
	}
	if err != nil {
		return res, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}
	return res, nil
}
