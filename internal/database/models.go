package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timeframe buckets supported for analyses and trades
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
)

// Valid reports whether the timeframe is one of the supported buckets
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
		Timeframe1h, Timeframe4h, Timeframe1D, Timeframe1W:
		return true
	}
	return false
}

// LookbackHours returns the context lookback window for the timeframe
func (tf Timeframe) LookbackHours() float64 {
	switch tf {
	case Timeframe1m:
		return 1
	case Timeframe5m:
		return 2
	case Timeframe15m:
		return 4
	case Timeframe30m:
		return 8
	case Timeframe1h:
		return 12
	case Timeframe4h:
		return 24
	case Timeframe1D:
		return 72
	case Timeframe1W:
		return 168
	default:
		return 12
	}
}

// TradeStatus is the trade lifecycle state
type TradeStatus string

const (
	TradeStatusWaiting    TradeStatus = "waiting"
	TradeStatusActive     TradeStatus = "active"
	TradeStatusProfitHit  TradeStatus = "profit_hit"
	TradeStatusStopHit    TradeStatus = "stop_hit"
	TradeStatusAIClosed   TradeStatus = "ai_closed"
	TradeStatusUserClosed TradeStatus = "user_closed"
)

// IsClosed reports whether the status is terminal
func (s TradeStatus) IsClosed() bool {
	switch s {
	case TradeStatusProfitHit, TradeStatusStopHit, TradeStatusAIClosed, TradeStatusUserClosed:
		return true
	}
	return false
}

// SystemStatus is the sentiment engine state machine status
type SystemStatus string

const (
	SystemStatusInitializing SystemStatus = "INITIALIZING"
	SystemStatusActive       SystemStatus = "ACTIVE"
	SystemStatusDegraded     SystemStatus = "DEGRADED"
	SystemStatusHalted       SystemStatus = "HALTED"
)

// MarketRegime classifies the macro market phase
type MarketRegime string

const (
	RegimeBTCSeason  MarketRegime = "BTC_SEASON"
	RegimeETHSeason  MarketRegime = "ETH_SEASON"
	RegimeAltSeason  MarketRegime = "ALT_SEASON"
	RegimeTransition MarketRegime = "TRANSITION"
	RegimeBear       MarketRegime = "BEAR"
)

func (r MarketRegime) Valid() bool {
	switch r {
	case RegimeBTCSeason, RegimeETHSeason, RegimeAltSeason, RegimeTransition, RegimeBear:
		return true
	}
	return false
}

// TradePermission is the coarse gate consulted before creating trades
type TradePermission string

const (
	PermissionNoTrade    TradePermission = "NO_TRADE"
	PermissionSelective  TradePermission = "SELECTIVE"
	PermissionAggressive TradePermission = "AGGRESSIVE"
)

func (p TradePermission) Valid() bool {
	switch p {
	case PermissionNoTrade, PermissionSelective, PermissionAggressive:
		return true
	}
	return false
}

// TrendDirection is a per-asset trend classification
type TrendDirection string

const (
	TrendUp       TrendDirection = "UP"
	TrendDown     TrendDirection = "DOWN"
	TrendSideways TrendDirection = "SIDEWAYS"
)

func (d TrendDirection) Valid() bool {
	switch d {
	case TrendUp, TrendDown, TrendSideways:
		return true
	}
	return false
}

// SyncState is the fill-sync job state for one account
type SyncState string

const (
	SyncIdle      SyncState = "IDLE"
	SyncRunning   SyncState = "RUNNING"
	SyncCompleted SyncState = "COMPLETED"
	SyncFailed    SyncState = "FAILED"
)

// UpdateType classifies trade audit entries
type UpdateType string

const (
	UpdateTradeCreated     UpdateType = "trade_created"
	UpdateTriggerHit       UpdateType = "trigger_hit"
	UpdateStatusChange     UpdateType = "status_change"
	UpdateStatusCorrection UpdateType = "status_correction"
	UpdateMaintainNote     UpdateType = "maintain_note"
	UpdateModify           UpdateType = "modify"
	UpdateOrphanCleanup    UpdateType = "orphan_cleanup"
	UpdatePriceTick        UpdateType = "price_tick"
)

// Analysis is one LLM verdict about a chart snapshot for a (ticker, timeframe)
type Analysis struct {
	ID                int64           `json:"id"`
	Ticker            string          `json:"ticker"`
	Timeframe         Timeframe       `json:"timeframe"`
	AnalysisTimestamp time.Time       `json:"analysis_timestamp"`
	Confidence        float64         `json:"confidence"` // [0,1]
	Action            string          `json:"action"`     // buy, sell, hold
	EntryPrice        *float64        `json:"entry_price,omitempty"`
	TargetPrice       *float64        `json:"target_price,omitempty"`
	StopLoss          *float64        `json:"stop_loss,omitempty"`
	Reasoning         string          `json:"reasoning"`
	DetailedAnalysis  json.RawMessage `json:"detailed_analysis,omitempty"`
	ContextAssessment json.RawMessage `json:"context_assessment,omitempty"`
	ImageHash         *string         `json:"image_hash,omitempty"`
	ModelUsed         *string         `json:"model_used,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Trade is a position derived from a specific analysis
type Trade struct {
	ID                       int64           `json:"id"`
	AnalysisID               int64           `json:"analysis_id"`
	Ticker                   string          `json:"ticker"`
	Timeframe                Timeframe       `json:"timeframe"`
	Action                   string          `json:"action"` // buy, sell
	EntryPrice               float64         `json:"entry_price"`
	TargetPrice              float64         `json:"target_price"`
	StopLoss                 float64         `json:"stop_loss"`
	EntryCondition           string          `json:"entry_condition"`
	EntryStrategy            string          `json:"entry_strategy"` // pullback, breakout
	Status                   TradeStatus     `json:"status"`
	TriggerHitTime           *time.Time      `json:"trigger_hit_time,omitempty"`
	TriggerHitPrice          *float64        `json:"trigger_hit_price,omitempty"`
	CurrentPrice             *float64        `json:"current_price,omitempty"`
	UnrealizedPnL            *float64        `json:"unrealized_pnl,omitempty"`
	RealizedPnL              *float64        `json:"realized_pnl,omitempty"`
	CloseTime                *time.Time      `json:"close_time,omitempty"`
	ClosePrice               *float64        `json:"close_price,omitempty"`
	CloseReason              *string         `json:"close_reason,omitempty"`
	CloseDetails             json.RawMessage `json:"close_details,omitempty"`
	OriginalAnalysisSnapshot json.RawMessage `json:"original_analysis_snapshot,omitempty"`
	OriginalContextSnapshot  json.RawMessage `json:"original_context_snapshot,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// IsClosed reports whether the trade reached a terminal state
func (t *Trade) IsClosed() bool {
	return t.Status.IsClosed()
}

// TradeUpdate is an immutable audit entry attached to a trade
type TradeUpdate struct {
	ID         int64           `json:"id"`
	TradeID    int64           `json:"trade_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Price      *float64        `json:"price,omitempty"`
	UpdateType UpdateType      `json:"update_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// MarketSnapshot is one point-in-time sample of the whole crypto market
type MarketSnapshot struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	BTCPrice         float64   `json:"btc_price"`
	ETHPrice         float64   `json:"eth_price"`
	BTCMarketCap     float64   `json:"btc_market_cap"`
	ETHMarketCap     float64   `json:"eth_market_cap"`
	TotalMarketCap   float64   `json:"total_market_cap"`
	BTCDominance     float64   `json:"btc_dominance"` // Percent
	AltStrengthRatio float64   `json:"alt_strength_ratio"`
	DataSource       string    `json:"data_source"`
	DataQualityScore float64   `json:"data_quality_score"` // [0,1]
}

// Validate enforces the snapshot ingest invariants. Rows failing
// validation must never be persisted.
func (s *MarketSnapshot) Validate() error {
	if s.BTCPrice <= 0 {
		return fmt.Errorf("%w: btc_price must be positive, got %f", ErrValidation, s.BTCPrice)
	}
	if s.ETHPrice <= 0 {
		return fmt.Errorf("%w: eth_price must be positive, got %f", ErrValidation, s.ETHPrice)
	}
	if s.BTCMarketCap <= 0 {
		return fmt.Errorf("%w: btc_market_cap must be positive, got %f", ErrValidation, s.BTCMarketCap)
	}
	if s.ETHMarketCap <= 0 {
		return fmt.Errorf("%w: eth_market_cap must be positive, got %f", ErrValidation, s.ETHMarketCap)
	}
	if s.BTCDominance <= 0 || s.BTCDominance >= 100 {
		return fmt.Errorf("%w: btc_dominance must be in (0,100), got %f", ErrValidation, s.BTCDominance)
	}
	if s.TotalMarketCap < s.BTCMarketCap+s.ETHMarketCap {
		return fmt.Errorf("%w: total_market_cap %f below btc+eth caps", ErrValidation, s.TotalMarketCap)
	}
	return nil
}

// ComputeAltStrength derives the alt-strength ratio from the snapshot caps
func (s *MarketSnapshot) ComputeAltStrength() float64 {
	if s.BTCPrice <= 0 {
		return 0
	}
	return (s.TotalMarketCap - s.BTCMarketCap) / s.BTCPrice
}

// TrendReading is one asset's trend classification inside a verdict
type TrendReading struct {
	Direction TrendDirection `json:"direction"`
	Strength  float64        `json:"strength"` // [0,100]
}

// SentimentVerdict is the latest AI verdict over the sentiment window
type SentimentVerdict struct {
	ID                int64           `json:"id"`
	AnalysisTimestamp time.Time       `json:"analysis_timestamp"`
	OverallConfidence float64         `json:"overall_confidence"` // [0,100]
	MarketRegime      MarketRegime    `json:"market_regime"`
	TradePermission   TradePermission `json:"trade_permission"`
	BTCTrend          TrendReading    `json:"btc_trend"`
	ETHTrend          TrendReading    `json:"eth_trend"`
	AltTrend          TrendReading    `json:"alt_trend"`
	ChartBTC          []byte          `json:"-"`
	ChartETH          []byte          `json:"-"`
	ChartDominance    []byte          `json:"-"`
	ChartAltStrength  []byte          `json:"-"`
	ChartCombined     []byte          `json:"-"`
	ModelUsed         string          `json:"model_used"`
	ProcessingTimeMs  int64           `json:"processing_time_ms"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SystemState is the singleton coordination record for the sentiment engine
type SystemState struct {
	BootstrapCompleted          bool         `json:"bootstrap_completed"`
	BootstrapDataPoints         int          `json:"bootstrap_data_points"`
	BootstrapFailureReason      string       `json:"bootstrap_failure_reason,omitempty"`
	ScannerRunning              bool         `json:"scanner_running"`
	ScanIntervalHours           float64      `json:"scan_interval_hours"`
	LastSuccessfulScan          *time.Time   `json:"last_successful_scan,omitempty"`
	LastFailedScan              *time.Time   `json:"last_failed_scan,omitempty"`
	LastAnalysisTimestamp       *time.Time   `json:"last_analysis_timestamp,omitempty"`
	ConsecutiveFailures         int          `json:"consecutive_failures"`
	ConsecutiveAnalysisFailures int          `json:"consecutive_analysis_failures"`
	SystemStatus                SystemStatus `json:"system_status"`
	TotalScansCompleted         int64        `json:"total_scans_completed"`
	TotalAnalysesCompleted      int64        `json:"total_analyses_completed"`
	UpdatedAt                   time.Time    `json:"updated_at"`
}

// SyncStatus is the per-account fill-sync record
type SyncStatus struct {
	AccountType     string          `json:"account_type"`
	WalletAddress   string          `json:"wallet_address"`
	Status          SyncState       `json:"status"`
	LastSuccessTime *time.Time      `json:"last_success_time,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Fill is one exchange trade record
type Fill struct {
	ID            int64   `json:"id"`
	Hash          string  `json:"hash"`
	TID           int64   `json:"tid"`
	TimeMs        int64   `json:"time_ms"`
	Coin          string  `json:"coin"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price"`
	AccountType   string  `json:"account_type"`
	WalletAddress string  `json:"wallet_address"`
}

// TradePatch is a partial trade update applied with CAS on updated_at
type TradePatch struct {
	TargetPrice       *float64
	StopLoss          *float64
	CurrentPrice      *float64
	UnrealizedPnL     *float64
	Status            *TradeStatus
	TriggerHitTime    *time.Time
	TriggerHitPrice   *float64
	ExpectedUpdatedAt time.Time
}

// SystemStatePatch is a partial system-state update; nil fields are untouched
type SystemStatePatch struct {
	BootstrapCompleted          *bool
	BootstrapDataPoints         *int
	BootstrapFailureReason      *string
	ScannerRunning              *bool
	ScanIntervalHours           *float64
	LastSuccessfulScan          *time.Time
	LastFailedScan              *time.Time
	LastAnalysisTimestamp       *time.Time
	ConsecutiveFailures         *int
	ConsecutiveAnalysisFailures *int
	SystemStatus                *SystemStatus
	IncrementScans              bool
	IncrementAnalyses           bool
}

// SyncStatusPatch is a partial sync-status update
type SyncStatusPatch struct {
	Status          *SyncState
	LastSuccessTime *time.Time
	Metadata        json.RawMessage
}
