// Package exchange is the HTTP client for the perpetuals exchange
// info API. All calls go through a circuit breaker so a flapping
// provider cannot pin the sync workers.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the exchange client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the exchange info endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates an exchange client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange-info",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// UserFills returns all fills for a wallet newer than startTimeMs, up
// to the provider cap. A result of exactly FillCap entries means the
// caller must paginate from max(time)+1.
func (c *Client) UserFills(ctx context.Context, wallet string, startTimeMs int64) ([]Fill, error) {
	body := userFillsRequest{
		Type:      "userFillsByTime",
		User:      wallet,
		StartTime: startTimeMs,
	}

	var fills []Fill
	if err := c.post(ctx, body, &fills); err != nil {
		return nil, fmt.Errorf("user fills for %s: %w", wallet, err)
	}
	return fills, nil
}

// Candles returns OHLC bars for a coin and interval since startMs
func (c *Client) Candles(ctx context.Context, coin, interval string, startMs int64) ([]Candle, error) {
	var body candleSnapshotRequest
	body.Type = "candleSnapshot"
	body.Req.Coin = coin
	body.Req.Interval = interval
	body.Req.StartTime = startMs

	var candles []Candle
	if err := c.post(ctx, body, &candles); err != nil {
		return nil, fmt.Errorf("candles for %s/%s: %w", coin, interval, err)
	}
	return candles, nil
}

func (c *Client) post(ctx context.Context, reqBody interface{}, out interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/info", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("exchange returned %d: %s", resp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
