// Package sentiment runs the macro market sentiment engine: periodic
// snapshot scans, historical bootstrap, and AI regime analysis over
// the snapshot window.
package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-analytics/config"
	"trading-analytics/internal/charts"
	"trading-analytics/internal/database"
	"trading-analytics/internal/events"
	"trading-analytics/internal/quotes"
	"trading-analytics/internal/scheduler"
)

const (
	// analysisWindow is the snapshot span rendered into charts
	analysisWindow = 7 * 24 * time.Hour

	// degradeThreshold is the consecutive failure count that flips the
	// engine to DEGRADED
	degradeThreshold = 3

	debounceKey = "sentiment-analysis"
)

// Store is the persistence surface the engine needs
type Store interface {
	InsertSnapshot(ctx context.Context, s *database.MarketSnapshot) error
	LatestSnapshot(ctx context.Context) (*database.MarketSnapshot, error)
	RangeSnapshots(ctx context.Context, from, to time.Time) ([]database.MarketSnapshot, error)
	CountSnapshots(ctx context.Context, since time.Time) (int, error)
	InsertVerdict(ctx context.Context, v *database.SentimentVerdict) error
	LatestVerdict(ctx context.Context) (*database.SentimentVerdict, error)
	GetSystemState(ctx context.Context) (*database.SystemState, error)
	UpdateSystemState(ctx context.Context, patch database.SystemStatePatch) error
}

// MarketData is the quotes provider surface
type MarketData interface {
	LatestQuotes(ctx context.Context, symbols []string) (map[string]quotes.Quote, error)
	HistoricalQuotes(ctx context.Context, symbol string, from, to time.Time, interval string) ([]quotes.HistoricalPoint, error)
	HistoricalGlobalMetrics(ctx context.Context, from, to time.Time, interval string) ([]quotes.GlobalHistoricalPoint, error)
	GlobalMetrics(ctx context.Context) (*quotes.GlobalMetrics, error)
}

// ChartRenderer renders a snapshot series into the chart set
type ChartRenderer interface {
	RenderAll(ctx context.Context, snapshots []database.MarketSnapshot) (*charts.ChartSet, error)
}

// Analyzer is the multimodal AI surface
type Analyzer interface {
	AnalyzeWithImages(ctx context.Context, prompt string, images [][]byte, model string) (string, error)
	Model() string
}

// Engine is the macro sentiment engine
type Engine struct {
	cfg      config.SentimentConfig
	store    Store
	market   MarketData
	renderer ChartRenderer
	analyzer Analyzer
	cache    *database.StatusCache
	bus      *events.Bus
	debounce *scheduler.Debouncer
	log      zerolog.Logger

	// analyzeMu enforces single-flight analysis
	analyzeMu sync.Mutex

	now func() time.Time
}

// NewEngine wires the sentiment engine
func NewEngine(cfg config.SentimentConfig, store Store, market MarketData,
	renderer ChartRenderer, analyzer Analyzer, cache *database.StatusCache,
	bus *events.Bus, logger zerolog.Logger) *Engine {

	window := cfg.DebounceWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		market:   market,
		renderer: renderer,
		analyzer: analyzer,
		cache:    cache,
		bus:      bus,
		debounce: scheduler.NewDebouncer(window),
		log:      logger.With().Str("component", "sentiment").Logger(),
		now:      time.Now,
	}
}

// TradePermission returns the current trade permission gate. The
// second return reports whether a verdict exists at all; callers
// treat a missing verdict as permissive with a warning of their own.
func (e *Engine) TradePermission(ctx context.Context) (database.TradePermission, bool) {
	if cached, err := e.cache.GetLatestVerdict(ctx); err == nil && cached != nil {
		return cached.TradePermission, true
	}
	v, err := e.store.LatestVerdict(ctx)
	if err != nil {
		return "", false
	}
	return v.TradePermission, true
}

// Status assembles the engine status for the API
type Status struct {
	State          *database.SystemState      `json:"state"`
	LatestVerdict  *database.SentimentVerdict `json:"latest_verdict,omitempty"`
	LatestSnapshot *database.MarketSnapshot   `json:"latest_snapshot,omitempty"`
	Snapshots24h   int                        `json:"snapshots_24h"`
}

// GetStatus returns the system state plus latest verdict and snapshot
func (e *Engine) GetStatus(ctx context.Context) (*Status, error) {
	state, err := e.store.GetSystemState(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{State: state}

	if cached, err := e.cache.GetLatestVerdict(ctx); err == nil && cached != nil {
		status.LatestVerdict = cached
	} else if v, err := e.store.LatestVerdict(ctx); err == nil {
		status.LatestVerdict = v
	}

	if cached, err := e.cache.GetLatestSnapshot(ctx); err == nil && cached != nil {
		status.LatestSnapshot = cached
	} else if s, err := e.store.LatestSnapshot(ctx); err == nil {
		status.LatestSnapshot = s
	}

	if n, err := e.store.CountSnapshots(ctx, e.now().UTC().Add(-24*time.Hour)); err == nil {
		status.Snapshots24h = n
	}

	return status, nil
}

// transitionStatus moves the state machine and publishes the change.
// HALTED is sticky; only an operator restart leaves it.
func (e *Engine) transitionStatus(ctx context.Context, state *database.SystemState, to database.SystemStatus) {
	if state.SystemStatus == to || state.SystemStatus == database.SystemStatusHalted {
		return
	}
	from := state.SystemStatus
	patch := database.SystemStatePatch{SystemStatus: &to}
	if err := e.store.UpdateSystemState(ctx, patch); err != nil {
		e.log.Error().Err(err).Msg("failed to persist status transition")
		return
	}
	state.SystemStatus = to
	e.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("system status changed")
	e.bus.PublishSystemStatus(string(from), string(to))
}
