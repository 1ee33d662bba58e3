package fxrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultFrankfurterURL = "https://api.frankfurter.app"

// FrankfurterProvider fetches historical rates from the Frankfurter API
// (ECB reference data, no API key required).
type FrankfurterProvider struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check that FrankfurterProvider implements Provider
var _ Provider = (*FrankfurterProvider)(nil)

// NewFrankfurterProvider creates a provider against api.frankfurter.app.
// An empty baseURL selects the public endpoint.
func NewFrankfurterProvider(baseURL string) *FrankfurterProvider {
	if baseURL == "" {
		baseURL = defaultFrankfurterURL
	}
	return &FrankfurterProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// frankfurterResponse is the relevant slice of the API response:
//
//	{"amount": 1.0, "base": "USD", "date": "2026-02-13", "rates": {"JPY": 150.5}}
type frankfurterResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// Fetch returns the rate published for exactly the given date. Failures
// are classified so the resolver can decide between retrying, falling back
// to nearby dates, and giving up.
func (p *FrankfurterProvider) Fetch(ctx context.Context, from, to string, date time.Time) (float64, error) {
	url := fmt.Sprintf("%s/%s?from=%s&to=%s", p.baseURL, date.Format(dateFormat), from, to)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth retrying
		return 0, fmt.Errorf("fetch %s/%s for %s: %w", from, to, date.Format(dateFormat), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decoding
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrNoData, date.Format(dateFormat))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("provider returned status %d", resp.StatusCode)
	default:
		return 0, fmt.Errorf("%w: unexpected status %d", ErrPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	var parsed frankfurterResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("%w: parse response: %v", ErrPermanent, err)
	}

	rate, ok := parsed.Rates[to]
	if !ok {
		// The API answers 200 with the nearest prior business day for some
		// queries but omits the target currency when nothing is published.
		return 0, fmt.Errorf("%w: %s missing from response", ErrNoData, to)
	}

	return rate, nil
}
