package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// restClient is the HTTP transport shared by the REST adapters. It performs
// exactly one attempt per call and normalizes transport failures; mapping
// response bodies and status codes stays with each venue.
type restClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	headers    map[string]string
}

// Option configures an adapter's HTTP transport.
type Option func(*restClient)

// WithBaseURL overrides the venue endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *restClient) {
		c.baseURL = u
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *restClient) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *restClient) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *restClient) {
		c.logger = logger
	}
}

func newRESTClient(baseURL string, opts ...Option) restClient {
	c := restClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// get performs one GET and returns the status code and body. Transport
// errors come back normalized: deadline overruns as timeouts, everything
// else as connection failures.
func (c *restClient) get(ctx context.Context, exchange, path string, query url.Values) (int, []byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, nil, Wrap(KindConnection, exchange, err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, Wrap(KindTimeout, exchange, err)
		}
		return 0, nil, Wrap(KindConnection, exchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, Wrap(KindConnection, exchange, err)
	}

	return resp.StatusCode, body, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
