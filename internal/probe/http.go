package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxDrain bounds how much of a response body is read before closing, so the
// connection can be reused without downloading whole pages.
const maxDrain = 64 << 10

// HTTPFetcher issues reachability GETs over a dedicated transport. Keep-alives
// stay on: leaving warmed TCP/TLS sessions in the pool is the point.
type HTTPFetcher struct {
	client *http.Client
	tr     *http.Transport
}

// NewHTTPFetcher builds a fetcher with its own connection pool.
func NewHTTPFetcher() *HTTPFetcher {
	d := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTPFetcher{client: &http.Client{Transport: tr}, tr: tr}
}

// Get performs a GET bounded by timeout and returns the response status.
// Redirects are followed, so the status is that of the final hop.
func (f *HTTPFetcher) Get(ctx context.Context, url string, timeout time.Duration) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "netwarmer/1")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// Close drops idle pooled connections.
func (f *HTTPFetcher) Close() error {
	f.tr.CloseIdleConnections()
	return nil
}
