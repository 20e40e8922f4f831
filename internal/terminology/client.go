// Package terminology implements the value set membership collaborator: an
// HTTP client against a FHIR-style terminology service, wrapped in a
// circuit breaker and fronted by a two-tier (memory, Redis) cache.
package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/emr-interpretation-server/internal/domain"
)

// Client handles interactions with the terminology service's
// validate-code endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// ClientConfig represents configuration for the terminology client.
type ClientConfig struct {
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
	RateLimit  int           `json:"rate_limit"` // requests per second
	MaxRetries int           `json:"max_retries"`
}

// validateCodeResponse is the service's membership answer.
type validateCodeResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message,omitempty"`
}

// NewClient creates a new terminology service client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Lookup answers whether the coding belongs to the named value set.
func (c *Client) Lookup(ctx context.Context, slug string, coding domain.Coding) (bool, error) {
	if slug == "" {
		return false, fmt.Errorf("valueset slug cannot be empty")
	}
	if coding.Code == "" {
		return false, fmt.Errorf("coding code cannot be empty")
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/valueset/%s/$validate-code", c.baseURL, url.PathEscape(slug))
	params := url.Values{}
	params.Set("system", coding.System)
	params.Set("code", coding.Code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("terminology request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, fmt.Errorf("valueset %q not found", slug)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("terminology service returned %d: %s", resp.StatusCode, string(body))
	}

	var result validateCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return result.Result, nil
}
