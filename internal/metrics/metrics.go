package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"trading-analytics/internal/events"
)

// Registry holds all Prometheus metrics for the analytics backend
type Registry struct {
	ScansTotal        prometheus.Counter
	ScanFailuresTotal prometheus.Counter
	AnalysesTotal     *prometheus.CounterVec
	FillsSyncedTotal  *prometheus.CounterVec
	TradesCreated     prometheus.Counter
	TradesClosed      *prometheus.CounterVec
	SystemStatus      *prometheus.GaugeVec
	SnapshotCount     prometheus.Gauge
}

// NewRegistry creates and registers the metric set
func NewRegistry() *Registry {
	r := &Registry{
		ScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_scans_total",
				Help: "Total number of sentiment scans executed",
			},
		),
		ScanFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_scan_failures_total",
				Help: "Total number of failed sentiment scans",
			},
		),
		AnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_analyses_total",
				Help: "Total number of AI analyses by kind",
			},
			[]string{"kind"},
		),
		FillsSyncedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_fills_synced_total",
				Help: "Total number of fills inserted by account type",
			},
			[]string{"account_type"},
		),
		TradesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_trades_created_total",
				Help: "Total number of trades created",
			},
		),
		TradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_trades_closed_total",
				Help: "Total number of trades closed by reason",
			},
			[]string{"reason"},
		),
		SystemStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "analytics_system_status",
				Help: "Current system status (1 = active state)",
			},
			[]string{"status"},
		),
		SnapshotCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "analytics_snapshot_count",
				Help: "Number of market snapshots retained",
			},
		),
	}

	prometheus.MustRegister(
		r.ScansTotal,
		r.ScanFailuresTotal,
		r.AnalysesTotal,
		r.FillsSyncedTotal,
		r.TradesCreated,
		r.TradesClosed,
		r.SystemStatus,
		r.SnapshotCount,
	)

	return r
}

// WireEvents subscribes the registry to bus events so engines do not
// need a direct metrics dependency.
func (r *Registry) WireEvents(bus *events.Bus) {
	bus.Subscribe(events.EventScanCompleted, func(events.Event) {
		r.ScansTotal.Inc()
	})
	bus.Subscribe(events.EventScanFailed, func(events.Event) {
		r.ScansTotal.Inc()
		r.ScanFailuresTotal.Inc()
	})
	bus.Subscribe(events.EventTradeCreated, func(events.Event) {
		r.TradesCreated.Inc()
	})
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		reason, _ := e.Data["reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		r.TradesClosed.WithLabelValues(reason).Inc()
	})
	bus.Subscribe(events.EventFillsSynced, func(e events.Event) {
		accountType, _ := e.Data["account_type"].(string)
		if accountType == "" {
			accountType = "unknown"
		}
		inserted, _ := e.Data["inserted"].(int)
		r.FillsSyncedTotal.WithLabelValues(accountType).Add(float64(inserted))
	})
	bus.Subscribe(events.EventSystemStatus, func(e events.Event) {
		if from, ok := e.Data["from"].(string); ok && from != "" {
			r.SystemStatus.WithLabelValues(from).Set(0)
		}
		if to, ok := e.Data["to"].(string); ok && to != "" {
			r.SystemStatus.WithLabelValues(to).Set(1)
		}
	})
}
