package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse is returned when model output cannot be coerced into the
// expected schema
var ErrParse = errors.New("failed to parse AI response")

var (
	reCodeFence      = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")
	reJSONObject     = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	rePriceNumber    = regexp.MustCompile(`\$?\d[\d,]*\.?\d*`)
	reInvisibleRunes = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// VerdictResult is the parsed sentiment verdict schema
type VerdictResult struct {
	OverallConfidence float64     `json:"overall_confidence"`
	MarketRegime      string      `json:"market_regime"`
	TradePermission   string      `json:"trade_permission"`
	BTCTrend          TrendResult `json:"btc_trend"`
	ETHTrend          TrendResult `json:"eth_trend"`
	AltTrend          TrendResult `json:"alt_trend"`
	Summary           string      `json:"summary,omitempty"`
}

// TrendResult is one asset's parsed trend reading
type TrendResult struct {
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
}

// Recommendation is the parsed per-ticker analysis response
type Recommendation struct {
	Action            string          `json:"action"`
	EntryPrice        *float64        `json:"entry_price,omitempty"`
	TargetPrice       *float64        `json:"target_price,omitempty"`
	StopLoss          *float64        `json:"stop_loss,omitempty"`
	Confidence        float64         `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	AnalysisType      string          `json:"analysis_type,omitempty"`
	DetailedAnalysis  json.RawMessage `json:"detailed_analysis,omitempty"`
	ContextAssessment json.RawMessage `json:"context_assessment,omitempty"`
}

// PositionStatus extracts previous_position_status from the context
// assessment, normalized with trim and upper-case. A missing or
// non-object assessment yields the empty string.
func (r *Recommendation) PositionStatus() string {
	if len(r.ContextAssessment) == 0 {
		return ""
	}
	var assessment map[string]interface{}
	if err := json.Unmarshal(r.ContextAssessment, &assessment); err != nil {
		return ""
	}
	status, _ := assessment["previous_position_status"].(string)
	return strings.ToUpper(strings.TrimSpace(status))
}

// ParseVerdict parses model output into the sentiment verdict schema.
// The strict JSON path is the only path; on failure ErrParse is
// returned and the caller counts an analysis failure.
func ParseVerdict(text string) (*VerdictResult, error) {
	cleaned := cleanModelOutput(text)
	jsonPart := extractJSONObject(cleaned)
	if jsonPart == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParse)
	}

	var v VerdictResult
	if err := json.Unmarshal([]byte(jsonPart), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	// Clamp and normalize
	v.OverallConfidence = clamp(v.OverallConfidence, 0, 100)
	v.MarketRegime = strings.ToUpper(strings.TrimSpace(v.MarketRegime))
	v.TradePermission = strings.ToUpper(strings.TrimSpace(v.TradePermission))
	for _, t := range []*TrendResult{&v.BTCTrend, &v.ETHTrend, &v.AltTrend} {
		t.Direction = strings.ToUpper(strings.TrimSpace(t.Direction))
		t.Strength = clamp(t.Strength, 0, 100)
	}

	switch v.MarketRegime {
	case "BTC_SEASON", "ETH_SEASON", "ALT_SEASON", "TRANSITION", "BEAR":
	default:
		return nil, fmt.Errorf("%w: invalid market_regime %q", ErrParse, v.MarketRegime)
	}
	switch v.TradePermission {
	case "NO_TRADE", "SELECTIVE", "AGGRESSIVE":
	default:
		return nil, fmt.Errorf("%w: invalid trade_permission %q", ErrParse, v.TradePermission)
	}
	for _, t := range []TrendResult{v.BTCTrend, v.ETHTrend, v.AltTrend} {
		switch t.Direction {
		case "UP", "DOWN", "SIDEWAYS":
		default:
			return nil, fmt.Errorf("%w: invalid trend direction %q", ErrParse, t.Direction)
		}
	}

	return &v, nil
}

// ParseRecommendation parses model output into a recommendation. The
// strict JSON path is tried first; on failure the fallback text path
// extracts sentiment words, price-like numbers and a summary, yielding
// a minimal record tagged analysis_type "unstructured". Never returns
// nil with a nil error.
func ParseRecommendation(text string) (*Recommendation, error) {
	cleaned := cleanModelOutput(text)

	if jsonPart := extractJSONObject(cleaned); jsonPart != "" {
		var rec Recommendation
		if err := json.Unmarshal([]byte(jsonPart), &rec); err == nil && rec.Action != "" {
			rec.Action = strings.ToLower(strings.TrimSpace(rec.Action))
			rec.Confidence = clamp(rec.Confidence, 0, 1)
			return &rec, nil
		}
	}

	return fallbackRecommendation(cleaned), nil
}

// fallbackRecommendation builds a schema-shaped record from free text
func fallbackRecommendation(text string) *Recommendation {
	lower := strings.ToLower(text)

	action := "hold"
	switch {
	case strings.Contains(lower, "strong buy") || strings.Contains(lower, "bullish"):
		action = "buy"
	case strings.Contains(lower, "strong sell") || strings.Contains(lower, "bearish"):
		action = "sell"
	case strings.Contains(lower, "buy"):
		action = "buy"
	case strings.Contains(lower, "sell"):
		action = "sell"
	}

	rec := &Recommendation{
		Action:       action,
		Confidence:   0.3, // Low confidence for unstructured output
		AnalysisType: "unstructured",
	}

	// Price-like numbers in order of appearance: entry, target, stop
	prices := extractPrices(text)
	if len(prices) > 0 {
		rec.EntryPrice = &prices[0]
	}
	if len(prices) > 1 {
		rec.TargetPrice = &prices[1]
	}
	if len(prices) > 2 {
		rec.StopLoss = &prices[2]
	}

	summary := strings.TrimSpace(text)
	if len(summary) > 500 {
		summary = summary[:500] + "..."
	}
	rec.Reasoning = summary

	return rec
}

func extractPrices(text string) []float64 {
	matches := rePriceNumber.FindAllString(text, 6)
	var prices []float64
	for _, m := range matches {
		m = strings.TrimPrefix(m, "$")
		m = strings.ReplaceAll(m, ",", "")
		v, err := strconv.ParseFloat(m, 64)
		if err != nil || v <= 0 {
			continue
		}
		prices = append(prices, v)
	}
	return prices
}

// cleanModelOutput strips markdown fences, invisible runes and
// typographic punctuation the models occasionally emit
func cleanModelOutput(text string) string {
	s := strings.TrimSpace(text)
	if m := reCodeFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = reInvisibleRunes.ReplaceAllString(s, "")
	s = fixTypographicQuotes(s)
	return s
}

// fixTypographicQuotes normalizes curly quotes and full-width
// punctuation that break JSON parsing
func fixTypographicQuotes(s string) string {
	replacements := [][2]string{
		{"“", "\""}, {"”", "\""},
		{"‘", "'"}, {"’", "'"},
		{"［", "["}, {"］", "]"},
		{"｛", "{"}, {"｝", "}"},
		{"：", ":"}, {"，", ","},
		{"【", "["}, {"】", "]"},
		{"　", " "},
	}
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r[0], r[1])
	}
	return s
}

// extractJSONObject finds the outermost JSON object in the text
func extractJSONObject(s string) string {
	return strings.TrimSpace(reJSONObject.FindString(s))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
