// Package taxrates implements the external combined-rate lookup used by the
// tax service. The upstream API answers a basic-authenticated GET over the
// destination address with the combined tax rate for that address.
package taxrates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/platform/config"
)

const (
	byAddressPath  = "/api/v2/taxrates/byaddress"
	defaultTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a misbehaving upstream response is read.
	maxResponseBytes = 1 << 20
)

var errEndpointRequired = errors.New("taxrates client: endpoint is required")

// Client calls the external tax-rate service. The credential comes from
// configuration; failures are reported as errors and left to the caller to
// degrade.
type Client struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a rate-lookup client from configuration.
func NewClient(cfg config.TaxRatesConfig, opts ...Option) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errEndpointRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		endpoint:   endpoint,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type rateResponse struct {
	TotalRate json.Number `json:"totalRate"`
}

// LookupRate fetches the combined rate for the address. Address fields are
// optional and appended to the query independently.
func (c *Client) LookupRate(ctx context.Context, address domain.Address) (float64, error) {
	if c == nil || c.httpClient == nil {
		return 0, errors.New("taxrates client: not initialised")
	}

	query := url.Values{}
	setParam(query, "street", address.Address1)
	setParam(query, "city", address.City)
	setParam(query, "region", address.Region)
	setParam(query, "postal", address.Postal)
	setParam(query, "country", address.Country)

	requestURL := c.endpoint + byAddressPath
	if encoded := query.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, fmt.Errorf("taxrates client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("taxrates client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("taxrates client: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("taxrates client: read response: %w", err)
	}

	var payload rateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("taxrates client: malformed response: %w", err)
	}
	rate, err := payload.TotalRate.Float64()
	if err != nil {
		return 0, fmt.Errorf("taxrates client: malformed rate %q", payload.TotalRate.String())
	}
	return rate, nil
}

func setParam(query url.Values, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		query.Set(key, v)
	}
}
