package llm

import (
	"fmt"
	"strings"
	"time"
)

// SentimentPromptInput carries the numbers rendered alongside the
// macro charts so the model never has to read values off the images
type SentimentPromptInput struct {
	BTCPrice         float64
	ETHPrice         float64
	BTCDominance     float64
	TotalMarketCap   float64
	AltStrengthRatio float64
	SnapshotCount    int
	WindowHours      int
}

// BuildSentimentPrompt renders the macro sentiment analysis prompt.
// The attached images are, in order: BTC price, ETH price, BTC
// dominance, alt strength ratio, combined overview.
func BuildSentimentPrompt(in SentimentPromptInput) string {
	var b strings.Builder

	b.WriteString("You are a cryptocurrency market analyst. Analyze the attached charts and determine the current macro market regime.\n\n")
	b.WriteString("Attached charts (in order):\n")
	b.WriteString("1. BTC price (USD)\n")
	b.WriteString("2. ETH price (USD)\n")
	b.WriteString("3. BTC dominance (%)\n")
	b.WriteString("4. Altcoin strength ratio (alt market cap / BTC price)\n")
	b.WriteString("5. Combined overview\n\n")

	fmt.Fprintf(&b, "Current readings:\n")
	fmt.Fprintf(&b, "- BTC price: $%.2f\n", in.BTCPrice)
	fmt.Fprintf(&b, "- ETH price: $%.2f\n", in.ETHPrice)
	fmt.Fprintf(&b, "- BTC dominance: %.2f%%\n", in.BTCDominance)
	fmt.Fprintf(&b, "- Total market cap: $%.0f\n", in.TotalMarketCap)
	fmt.Fprintf(&b, "- Alt strength ratio: %.4f\n", in.AltStrengthRatio)
	fmt.Fprintf(&b, "- Data points in window: %d over %d hours\n\n", in.SnapshotCount, in.WindowHours)

	b.WriteString("Respond with ONLY a JSON object in exactly this format:\n")
	b.WriteString(`{
  "overall_confidence": <0-100>,
  "market_regime": "<BTC_SEASON|ETH_SEASON|ALT_SEASON|TRANSITION|BEAR>",
  "trade_permission": "<NO_TRADE|SELECTIVE|AGGRESSIVE>",
  "btc_trend": {"direction": "<UP|DOWN|SIDEWAYS>", "strength": <0-100>},
  "eth_trend": {"direction": "<UP|DOWN|SIDEWAYS>", "strength": <0-100>},
  "alt_trend": {"direction": "<UP|DOWN|SIDEWAYS>", "strength": <0-100>},
  "summary": "<2-3 sentence assessment>"
}`)
	b.WriteString("\n\nNo prose outside the JSON object.")

	return b.String()
}

// PositionContext describes an open position included in an analysis
// prompt
type PositionContext struct {
	Action       string
	Status       string
	EntryPrice   float64
	TargetPrice  *float64
	StopLoss     *float64
	CurrentPrice float64
	OpenedAt     time.Time
	TriggeredAt  *time.Time
}

// PriorAnalysisContext summarizes the most recent prior analysis for
// the same ticker and timeframe
type PriorAnalysisContext struct {
	Action     string
	Confidence float64
	Age        time.Duration
	Urgency    string // recent | active | stale
	Reasoning  string
}

// AnalysisPromptInput carries everything the per-ticker chart
// analysis prompt needs
type AnalysisPromptInput struct {
	Ticker        string
	Timeframe     string
	CurrentPrice  float64
	Position      *PositionContext
	PriorAnalysis *PriorAnalysisContext
	MarketRegime  string
	Permission    string
}

// BuildAnalysisPrompt renders the per-ticker chart analysis prompt.
// When an open position exists the model must choose one of MAINTAIN,
// MODIFY, CLOSE or REPLACE and say so in context_assessment.
func BuildAnalysisPrompt(in AnalysisPromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a cryptocurrency trading analyst. Analyze the attached %s chart for %s.\n\n",
		in.Timeframe, strings.ToUpper(in.Ticker))
	fmt.Fprintf(&b, "Current price: $%.6g\n", in.CurrentPrice)
	if in.MarketRegime != "" {
		fmt.Fprintf(&b, "Macro regime: %s (trade permission: %s)\n", in.MarketRegime, in.Permission)
	}
	b.WriteString("\n")

	if in.Position != nil {
		p := in.Position
		b.WriteString("OPEN POSITION for this ticker and timeframe:\n")
		fmt.Fprintf(&b, "- Direction: %s\n", strings.ToUpper(p.Action))
		fmt.Fprintf(&b, "- Status: %s\n", p.Status)
		fmt.Fprintf(&b, "- Entry: $%.6g\n", p.EntryPrice)
		if p.TargetPrice != nil {
			fmt.Fprintf(&b, "- Target: $%.6g\n", *p.TargetPrice)
		}
		if p.StopLoss != nil {
			fmt.Fprintf(&b, "- Stop: $%.6g\n", *p.StopLoss)
		}
		fmt.Fprintf(&b, "- Opened: %s (%s ago)\n",
			p.OpenedAt.UTC().Format(time.RFC3339), formatAge(time.Since(p.OpenedAt)))
		if p.TriggeredAt != nil {
			fmt.Fprintf(&b, "- Triggered: %s\n", p.TriggeredAt.UTC().Format(time.RFC3339))
		}
		b.WriteString("\nYou MUST decide what to do with this position. Set context_assessment.previous_position_status to exactly one of:\n")
		b.WriteString("- MAINTAIN: the position is still valid as-is\n")
		b.WriteString("- MODIFY: keep the position but adjust target and/or stop\n")
		b.WriteString("- CLOSE: the thesis is invalidated, close at current price\n")
		b.WriteString("- REPLACE: close this position and open a new one per your recommendation\n\n")
	}

	if in.PriorAnalysis != nil {
		a := in.PriorAnalysis
		fmt.Fprintf(&b, "Previous analysis (%s, %s ago, urgency: %s): %s at %.0f%% confidence.\n",
			strings.ToUpper(a.Action), formatAge(a.Age), a.Urgency, a.Action, a.Confidence*100)
		if a.Reasoning != "" {
			fmt.Fprintf(&b, "Previous reasoning: %s\n", truncate(a.Reasoning, 300))
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with ONLY a JSON object in exactly this format:\n")
	b.WriteString(`{
  "action": "<buy|sell|hold>",
  "entry_price": <number or null>,
  "target_price": <number or null>,
  "stop_loss": <number or null>,
  "confidence": <0.0-1.0>,
  "reasoning": "<your analysis>",
  "detailed_analysis": {
    "trend": "<description>",
    "key_levels": ["<level descriptions>"],
    "entry_strategy": "<traditional pullback or breakout, and why>"
  }`)
	if in.Position != nil {
		b.WriteString(`,
  "context_assessment": {
    "previous_position_status": "<MAINTAIN|MODIFY|CLOSE|REPLACE>",
    "rationale": "<why>"
  }`)
	}
	b.WriteString("\n}\n\nNo prose outside the JSON object.")

	return b.String()
}

func formatAge(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
