// Package quotes is the HTTP client for the external market-data
// provider. It exposes the latest and historical endpoints separately;
// callers building a current snapshot must use LatestQuotes plus
// GlobalMetrics, never the historical endpoint at now.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxRetries = 3

// Config holds the quotes client configuration
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	AcquireTimeout time.Duration
}

// Client talks to the quotes provider
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	limiter        *RateLimiter
	acquireTimeout time.Duration
}

// NewClient creates a quotes client with the shared rate limiter
func NewClient(cfg Config, limiter *RateLimiter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: timeout},
		limiter:        limiter,
		acquireTimeout: acquireTimeout,
	}
}

// LatestQuotes returns current price and market cap per symbol. All
// values are validated positive; bad data fails the whole call.
func (c *Client) LatestQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	params := url.Values{}
	params.Set("symbol", strings.Join(symbols, ","))
	params.Set("convert", "USD")

	var resp latestResponse
	if err := c.get(ctx, "/v1/cryptocurrency/quotes/latest", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("provider error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	quotes := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		entry, ok := resp.Data[sym]
		if !ok {
			return nil, fmt.Errorf("%w: symbol %s missing from response", ErrBadProviderData, sym)
		}
		q := Quote{
			Symbol:    sym,
			Price:     entry.Quote.USD.Price,
			MarketCap: entry.Quote.USD.MarketCap,
		}
		if q.Price <= 0 || q.MarketCap <= 0 {
			return nil, fmt.Errorf("%w: %s price=%f cap=%f", ErrBadProviderData, sym, q.Price, q.MarketCap)
		}
		quotes[sym] = q
	}
	return quotes, nil
}

// HistoricalQuotes returns a historical series for one symbol. Used by
// the bootstrap path only.
func (c *Client) HistoricalQuotes(ctx context.Context, symbol string, from, to time.Time, interval string) ([]HistoricalPoint, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("time_start", from.UTC().Format(time.RFC3339))
	params.Set("time_end", to.UTC().Format(time.RFC3339))
	params.Set("interval", interval)
	params.Set("convert", "USD")

	var resp historicalResponse
	if err := c.get(ctx, "/v1/cryptocurrency/quotes/historical", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("provider error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	points := make([]HistoricalPoint, 0, len(resp.Data.Quotes))
	for _, q := range resp.Data.Quotes {
		p := HistoricalPoint{
			Timestamp: q.Timestamp,
			Price:     q.Quote.USD.Price,
			MarketCap: q.Quote.USD.MarketCap,
		}
		if p.Price <= 0 || p.MarketCap <= 0 {
			return nil, fmt.Errorf("%w: %s at %s price=%f cap=%f",
				ErrBadProviderData, symbol, p.Timestamp.Format(time.RFC3339), p.Price, p.MarketCap)
		}
		points = append(points, p)
	}
	return points, nil
}

// HistoricalGlobalMetrics returns the historical total cap and BTC
// dominance series. Used by the bootstrap path only.
func (c *Client) HistoricalGlobalMetrics(ctx context.Context, from, to time.Time, interval string) ([]GlobalHistoricalPoint, error) {
	params := url.Values{}
	params.Set("time_start", from.UTC().Format(time.RFC3339))
	params.Set("time_end", to.UTC().Format(time.RFC3339))
	params.Set("interval", interval)
	params.Set("convert", "USD")

	var resp globalHistoricalResponse
	if err := c.get(ctx, "/v1/global-metrics/quotes/historical", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("provider error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	points := make([]GlobalHistoricalPoint, 0, len(resp.Data.Quotes))
	for _, q := range resp.Data.Quotes {
		p := GlobalHistoricalPoint{
			Timestamp:      q.Timestamp,
			TotalMarketCap: q.Quote.USD.TotalMarketCap,
			BTCDominance:   q.BTCDominance,
		}
		if p.TotalMarketCap <= 0 || p.BTCDominance <= 0 || p.BTCDominance >= 100 {
			return nil, fmt.Errorf("%w: global at %s total_cap=%f dominance=%f",
				ErrBadProviderData, p.Timestamp.Format(time.RFC3339), p.TotalMarketCap, p.BTCDominance)
		}
		points = append(points, p)
	}
	return points, nil
}

// GlobalMetrics returns the market-wide total cap and BTC dominance
func (c *Client) GlobalMetrics(ctx context.Context) (*GlobalMetrics, error) {
	params := url.Values{}
	params.Set("convert", "USD")

	var resp globalResponse
	if err := c.get(ctx, "/v1/global-metrics/quotes/latest", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("provider error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	m := &GlobalMetrics{
		TotalMarketCap: resp.Data.Quote.USD.TotalMarketCap,
		BTCDominance:   resp.Data.BTCDominance,
	}
	if m.TotalMarketCap <= 0 || m.BTCDominance <= 0 || m.BTCDominance >= 100 {
		return nil, fmt.Errorf("%w: total_cap=%f dominance=%f", ErrBadProviderData, m.TotalMarketCap, m.BTCDominance)
	}
	return m, nil
}

// get performs a rate-limited GET with bounded exponential retries.
// 5xx and network errors are retried up to maxRetries; 4xx is
// terminal.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if !c.limiter.Acquire(c.acquireTimeout) {
		return ErrRateLimited
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(operation, policy)
}
