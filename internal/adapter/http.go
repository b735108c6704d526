package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPResponse carries the raw outcome of a single request. Body is fully
// read and the connection released before the response is returned.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// HTTPClient defines an interface for HTTP operations to enable mocking.
// It performs exactly one request per call: retry policy belongs to callers.
type HTTPClient interface {
	// Get performs a GET request with the given query parameters and headers
	Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) (*HTTPResponse, error)

	// Post performs a POST request with the given body and headers
	Post(ctx context.Context, rawURL string, contentType string, body io.Reader, headers map[string]string) (*HTTPResponse, error)
}

// RealHTTPClient implements HTTPClient using the standard http package
type RealHTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a new real HTTP client. The timeout is the default
// ceiling for the full request/response cycle; callers may impose tighter
// per-request deadlines through the context.
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &RealHTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *RealHTTPClient) Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) (*HTTPResponse, error) {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL = rawURL + sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, headers)
}

func (c *RealHTTPClient) Post(ctx context.Context, rawURL string, contentType string, body io.Reader, headers map[string]string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.do(req, headers)
}

func (c *RealHTTPClient) do(req *http.Request, headers map[string]string) (*HTTPResponse, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
