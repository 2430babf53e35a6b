package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	maxBody        = 1 << 20
	userAgent      = "warden-resolver"
)

// Option configures HTTP-backed providers.
type Option func(*httpSource)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *httpSource) {
		s.client = c
	}
}

// WithTimeout bounds every request made by the provider.
func WithTimeout(d time.Duration) Option {
	return func(s *httpSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// httpSource is the JSON-over-HTTP plumbing shared by all providers.
type httpSource struct {
	id      string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func newHTTPSource(id, baseURL string, opts []Option) httpSource {
	s := httpSource{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s httpSource) ID() string { return s.id }

// getJSON fetches url and decodes a 200 response into out. Other statuses
// become categorized provider errors.
func (s httpSource) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewProviderError(ErrorInternal, s.id, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return transportError(s.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return NewProviderError(categoryForStatus(resp.StatusCode), s.id,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return NewProviderError(ErrorBadData, s.id, "decode response", err)
	}
	return nil
}
