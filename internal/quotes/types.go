package quotes

import (
	"errors"
	"time"
)

// ErrBadProviderData is returned when the provider reports a
// non-positive price or market cap
var ErrBadProviderData = errors.New("provider returned bad data")

// ErrRateLimited is returned when no rate-limit slot could be acquired
var ErrRateLimited = errors.New("rate limit acquire timed out")

// Quote is one symbol's current price and market cap
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	MarketCap float64 `json:"market_cap"`
}

// HistoricalPoint is one sample in a historical series
type HistoricalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	MarketCap float64   `json:"market_cap"`
}

// GlobalMetrics is the market-wide aggregate sample
type GlobalMetrics struct {
	TotalMarketCap float64 `json:"total_market_cap"`
	BTCDominance   float64 `json:"btc_dominance"`
}

// GlobalHistoricalPoint is one sample in the historical global series
type GlobalHistoricalPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalMarketCap float64   `json:"total_market_cap"`
	BTCDominance   float64   `json:"btc_dominance"`
}

// Provider wire types (CoinMarketCap-style envelope)

type apiStatus struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type usdQuote struct {
	Price     float64 `json:"price"`
	MarketCap float64 `json:"market_cap"`
}

type latestEntry struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		USD usdQuote `json:"USD"`
	} `json:"quote"`
}

type latestResponse struct {
	Status apiStatus              `json:"status"`
	Data   map[string]latestEntry `json:"data"`
}

type historicalResponse struct {
	Status apiStatus `json:"status"`
	Data   struct {
		Quotes []struct {
			Timestamp time.Time `json:"timestamp"`
			Quote     struct {
				USD usdQuote `json:"USD"`
			} `json:"quote"`
		} `json:"quotes"`
	} `json:"data"`
}

type globalHistoricalResponse struct {
	Status apiStatus `json:"status"`
	Data   struct {
		Quotes []struct {
			Timestamp    time.Time `json:"timestamp"`
			BTCDominance float64   `json:"btc_dominance"`
			Quote        struct {
				USD struct {
					TotalMarketCap float64 `json:"total_market_cap"`
				} `json:"USD"`
			} `json:"quote"`
		} `json:"quotes"`
	} `json:"data"`
}

type globalResponse struct {
	Status apiStatus `json:"status"`
	Data   struct {
		BTCDominance float64 `json:"btc_dominance"`
		Quote        struct {
			USD struct {
				TotalMarketCap float64 `json:"total_market_cap"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}
