package llm

import (
	"errors"
	"strings"
	"testing"
)

// ==================== Verdict Parsing ====================

func TestParseVerdictPlainJSON(t *testing.T) {
	raw := `{
		"overall_confidence": 72,
		"market_regime": "ALT_SEASON",
		"trade_permission": "SELECTIVE",
		"btc_trend": {"direction": "UP", "strength": 60},
		"eth_trend": {"direction": "SIDEWAYS", "strength": 40},
		"alt_trend": {"direction": "UP", "strength": 80},
		"summary": "alts leading"
	}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OverallConfidence != 72 {
		t.Errorf("confidence = %f, want 72", v.OverallConfidence)
	}
	if v.MarketRegime != "ALT_SEASON" {
		t.Errorf("regime = %q, want ALT_SEASON", v.MarketRegime)
	}
	if v.AltTrend.Direction != "UP" || v.AltTrend.Strength != 80 {
		t.Errorf("alt trend = %+v", v.AltTrend)
	}
}

func TestParseVerdictStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"overall_confidence\": 50, \"market_regime\": \"bear\", \"trade_permission\": \"no_trade\", " +
		"\"btc_trend\": {\"direction\": \"down\", \"strength\": 70}, " +
		"\"eth_trend\": {\"direction\": \"down\", \"strength\": 65}, " +
		"\"alt_trend\": {\"direction\": \"down\", \"strength\": 90}}\n```"

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Lower-case values normalize to the canonical enums
	if v.MarketRegime != "BEAR" {
		t.Errorf("regime = %q, want BEAR", v.MarketRegime)
	}
	if v.TradePermission != "NO_TRADE" {
		t.Errorf("permission = %q, want NO_TRADE", v.TradePermission)
	}
	if v.BTCTrend.Direction != "DOWN" {
		t.Errorf("btc direction = %q, want DOWN", v.BTCTrend.Direction)
	}
}

func TestParseVerdictClampsRanges(t *testing.T) {
	raw := `{
		"overall_confidence": 140,
		"market_regime": "TRANSITION",
		"trade_permission": "AGGRESSIVE",
		"btc_trend": {"direction": "UP", "strength": -10},
		"eth_trend": {"direction": "UP", "strength": 250},
		"alt_trend": {"direction": "SIDEWAYS", "strength": 50}
	}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OverallConfidence != 100 {
		t.Errorf("confidence = %f, want clamped to 100", v.OverallConfidence)
	}
	if v.BTCTrend.Strength != 0 {
		t.Errorf("btc strength = %f, want clamped to 0", v.BTCTrend.Strength)
	}
	if v.ETHTrend.Strength != 100 {
		t.Errorf("eth strength = %f, want clamped to 100", v.ETHTrend.Strength)
	}
}

func TestParseVerdictRejectsBadEnums(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bad regime", `{"overall_confidence": 50, "market_regime": "MOON_SEASON", "trade_permission": "SELECTIVE",
			"btc_trend": {"direction": "UP"}, "eth_trend": {"direction": "UP"}, "alt_trend": {"direction": "UP"}}`},
		{"bad permission", `{"overall_confidence": 50, "market_regime": "BEAR", "trade_permission": "MAYBE",
			"btc_trend": {"direction": "UP"}, "eth_trend": {"direction": "UP"}, "alt_trend": {"direction": "UP"}}`},
		{"bad direction", `{"overall_confidence": 50, "market_regime": "BEAR", "trade_permission": "NO_TRADE",
			"btc_trend": {"direction": "DIAGONAL"}, "eth_trend": {"direction": "UP"}, "alt_trend": {"direction": "UP"}}`},
		{"no json", "the market looks bearish today"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseVerdict(tc.raw); !errors.Is(err, ErrParse) {
				t.Errorf("error = %v, want ErrParse", err)
			}
		})
	}
}

func TestParseVerdictFixesTypographicQuotes(t *testing.T) {
	raw := `{“overall_confidence”: 60, “market_regime”: “BTC_SEASON”, “trade_permission”: “SELECTIVE”,
		“btc_trend”: {“direction”: “UP”, “strength”: 55},
		“eth_trend”: {“direction”: “SIDEWAYS”, “strength”: 30},
		“alt_trend”: {“direction”: “DOWN”, “strength”: 45}}`

	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.MarketRegime != "BTC_SEASON" {
		t.Errorf("regime = %q, want BTC_SEASON", v.MarketRegime)
	}
}

// ==================== Recommendation Parsing ====================

func TestParseRecommendationStrict(t *testing.T) {
	raw := "```json\n" + `{
		"action": "BUY",
		"entry_price": 2750.5,
		"target_price": 2820,
		"stop_loss": 2620,
		"confidence": 0.8,
		"reasoning": "bounce off support",
		"context_assessment": {"previous_position_status": "maintain"}
	}` + "\n```"

	rec, err := ParseRecommendation(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Action != "buy" {
		t.Errorf("action = %q, want buy", rec.Action)
	}
	if rec.EntryPrice == nil || *rec.EntryPrice != 2750.5 {
		t.Errorf("entry = %v, want 2750.5", rec.EntryPrice)
	}
	if rec.PositionStatus() != "MAINTAIN" {
		t.Errorf("position status = %q, want MAINTAIN", rec.PositionStatus())
	}
	if rec.AnalysisType == "unstructured" {
		t.Error("strict parse should not be tagged unstructured")
	}
}

func TestParseRecommendationFallback(t *testing.T) {
	raw := "The chart looks bullish. I would consider entry around $2,750 with a target of $2,820 and a stop near $2,620."

	rec, err := ParseRecommendation(raw)
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if rec.AnalysisType != "unstructured" {
		t.Errorf("analysis_type = %q, want unstructured", rec.AnalysisType)
	}
	if rec.Action != "buy" {
		t.Errorf("action = %q, want buy from bullish text", rec.Action)
	}
	if rec.EntryPrice == nil || *rec.EntryPrice != 2750 {
		t.Errorf("entry = %v, want 2750", rec.EntryPrice)
	}
	if rec.TargetPrice == nil || *rec.TargetPrice != 2820 {
		t.Errorf("target = %v, want 2820", rec.TargetPrice)
	}
	if rec.StopLoss == nil || *rec.StopLoss != 2620 {
		t.Errorf("stop = %v, want 2620", rec.StopLoss)
	}
	if rec.Confidence >= 0.5 {
		t.Errorf("confidence = %f, fallback should be low", rec.Confidence)
	}
}

func TestParseRecommendationFallbackNeverNil(t *testing.T) {
	rec, err := ParseRecommendation("")
	if err != nil || rec == nil {
		t.Fatalf("rec = %v, err = %v; want non-nil rec and nil err", rec, err)
	}
	if rec.Action != "hold" {
		t.Errorf("action = %q, want hold for empty input", rec.Action)
	}
}

func TestParseRecommendationTruncatesLongReasoning(t *testing.T) {
	raw := "bearish " + strings.Repeat("x", 600)
	rec, err := ParseRecommendation(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Reasoning) > 510 {
		t.Errorf("reasoning length = %d, want truncated", len(rec.Reasoning))
	}
	if rec.Action != "sell" {
		t.Errorf("action = %q, want sell from bearish text", rec.Action)
	}
}

func TestPositionStatusMissingAssessment(t *testing.T) {
	rec := &Recommendation{}
	if got := rec.PositionStatus(); got != "" {
		t.Errorf("status = %q, want empty", got)
	}
}
