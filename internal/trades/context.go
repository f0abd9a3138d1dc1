package trades

import (
	"context"
	"errors"
	"strings"
	"time"

	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
)

// Urgency bands for prior-analysis context, derived from the
// timeframe lookback window
const (
	urgencyRecent = "recent"
	urgencyActive = "active"
	urgencyStale  = "stale"
)

// BuildContext assembles the prompt context for a new chart analysis.
// An open position short-circuits the history lookup: the position
// itself is the context, and the model must rule on it. Without a
// position the most recent prior analysis inside the timeframe
// lookback window (bounded by the configured max age) is included
// with an urgency band.
func (e *Engine) BuildContext(ctx context.Context, ticker string, timeframe database.Timeframe, currentPrice float64, regime, permission string) (*llm.AnalysisPromptInput, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	input := &llm.AnalysisPromptInput{
		Ticker:       ticker,
		Timeframe:    string(timeframe),
		CurrentPrice: currentPrice,
		MarketRegime: regime,
		Permission:   permission,
	}

	open, err := e.store.GetOpenTrade(ctx, ticker, timeframe)
	if err == nil {
		input.Position = &llm.PositionContext{
			Action:       open.Action,
			Status:       string(open.Status),
			EntryPrice:   open.EntryPrice,
			TargetPrice:  &open.TargetPrice,
			StopLoss:     &open.StopLoss,
			CurrentPrice: currentPrice,
			OpenedAt:     open.CreatedAt,
			TriggeredAt:  open.TriggerHitTime,
		}
		return input, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	prior, err := e.store.LatestAnalysis(ctx, ticker, timeframe)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return input, nil
		}
		return nil, err
	}

	age := e.now().Sub(prior.AnalysisTimestamp)
	maxAge := e.cfg.AnalysisMaxAge
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	if age > maxAge {
		return input, nil
	}

	lookback := time.Duration(timeframe.LookbackHours() * float64(time.Hour))
	urgency := urgencyStale
	switch {
	case age <= lookback/4:
		urgency = urgencyRecent
	case age <= lookback:
		urgency = urgencyActive
	}

	input.PriorAnalysis = &llm.PriorAnalysisContext{
		Action:     prior.Action,
		Confidence: prior.Confidence,
		Age:        age,
		Urgency:    urgency,
		Reasoning:  prior.Reasoning,
	}
	return input, nil
}
