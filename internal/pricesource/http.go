// Package pricesource fetches item prices from the upstream item API.
package pricesource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-coupon/internal/resilience"
)

// DefaultBaseURL points at the public items endpoint.
const DefaultBaseURL = "https://api.mercadolibre.com/items/"

const maxBodyBytes = 1 << 20

// ErrUpstream marks unexpected responses from the item API.
var ErrUpstream = errors.New("pricesource: unexpected upstream response")

type itemPayload struct {
	ID    string           `json:"id"`
	Price *decimal.Decimal `json:"price"`
}

// HTTPSource resolves prices with GET {BaseURL}{id}.
type HTTPSource struct {
	baseURL string
	client  resilience.HTTPClient
}

// NewHTTPSource builds a source against baseURL. A trailing slash is added
// when missing.
func NewHTTPSource(baseURL string, client resilience.HTTPClient) (*HTTPSource, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("pricesource: invalid base url: %w", err)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client.Client == nil {
		client.Client = http.DefaultClient
	}
	return &HTTPSource{baseURL: baseURL, client: client}, nil
}

// FetchPrice returns the listed price for id. A 404, an empty body or a null
// price report absence without error.
func (s *HTTPSource) FetchPrice(ctx context.Context, id string) (decimal.Decimal, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+url.PathEscape(id), nil)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Decimal{}, false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return decimal.Decimal{}, false, fmt.Errorf("%w: %s returned %d", ErrUpstream, id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("pricesource: read %s: %w", id, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return decimal.Decimal{}, false, nil
	}
	var payload itemPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("%w: decode %s: %v", ErrUpstream, id, err)
	}
	if payload.Price == nil {
		return decimal.Decimal{}, false, nil
	}
	return *payload.Price, true, nil
}
