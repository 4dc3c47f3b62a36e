package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/aidgraph/discovery"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// HTTPClient queries a hosted search service.
//
// The anonymized query is POSTed as JSON to the endpoint, which answers
// with {"results": [...]} using the discovery.Result field names. Non-2xx
// responses become a *StatusError; 429 and 5xx are retried.
//
// Example usage:
//
//	client := search.NewHTTPClient("https://search.internal/v1/aid",
//	    search.WithHeader("Authorization", "Bearer "+token),
//	)
//	results, err := client.Search(ctx, query)
type HTTPClient struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	retry    RetryPolicy
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHeader adds a request header.
func WithHeader(key, value string) HTTPOption {
	return func(c *HTTPClient) { c.headers[key] = value }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// WithHTTPRetryPolicy replaces DefaultRetryPolicy.
func WithHTTPRetryPolicy(p RetryPolicy) HTTPOption {
	return func(c *HTTPClient) { c.retry = p }
}

// NewHTTPClient creates an HTTPClient for endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		headers:  map[string]string{},
		retry:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements discovery.SearchClient.
func (c *HTTPClient) Search(ctx context.Context, q discovery.Query) ([]discovery.Result, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("search endpoint is not configured")
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var results []discovery.Result
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		results, callErr = c.post(ctx, payload)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	for i := range results {
		if results[i].ID == "" {
			results[i].ID = uuid.NewString()
		}
	}
	return results, nil
}

func (c *HTTPClient) post(ctx context.Context, payload []byte) ([]discovery.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded struct {
		Results []discovery.Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded.Results, nil
}
