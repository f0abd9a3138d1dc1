package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeCreated   EventType = "TRADE_CREATED"
	EventTradeTriggered EventType = "TRADE_TRIGGERED"
	EventTradeClosed    EventType = "TRADE_CLOSED"
	EventTradeModified  EventType = "TRADE_MODIFIED"
	EventScanCompleted  EventType = "SCAN_COMPLETED"
	EventScanFailed     EventType = "SCAN_FAILED"
	EventVerdictUpdated EventType = "VERDICT_UPDATED"
	EventFillsSynced    EventType = "FILLS_SYNCED"
	EventSystemStatus   EventType = "SYSTEM_STATUS"
	EventError          EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishTradeCreated publishes a trade created event
func (b *Bus) PublishTradeCreated(ticker, timeframe, action string, entryPrice float64) {
	b.Publish(Event{
		Type: EventTradeCreated,
		Data: map[string]interface{}{
			"ticker":      ticker,
			"timeframe":   timeframe,
			"action":      action,
			"entry_price": entryPrice,
		},
	})
}

// PublishTradeTriggered publishes a trigger-hit event
func (b *Bus) PublishTradeTriggered(ticker, timeframe string, triggerPrice float64) {
	b.Publish(Event{
		Type: EventTradeTriggered,
		Data: map[string]interface{}{
			"ticker":        ticker,
			"timeframe":     timeframe,
			"trigger_price": triggerPrice,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (b *Bus) PublishTradeClosed(ticker, timeframe, reason string, closePrice, realizedPnL float64) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"ticker":       ticker,
			"timeframe":    timeframe,
			"reason":       reason,
			"close_price":  closePrice,
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishScanCompleted publishes a scan completed event
func (b *Bus) PublishScanCompleted(scanID string, analyzed bool) {
	b.Publish(Event{
		Type: EventScanCompleted,
		Data: map[string]interface{}{
			"scan_id":  scanID,
			"analyzed": analyzed,
		},
	})
}

// PublishScanFailed publishes a scan failed event
func (b *Bus) PublishScanFailed(scanID string, err error) {
	data := map[string]interface{}{"scan_id": scanID}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventScanFailed,
		Data: data,
	})
}

// PublishVerdictUpdated publishes a new sentiment verdict
func (b *Bus) PublishVerdictUpdated(regime, permission string, confidence float64) {
	b.Publish(Event{
		Type: EventVerdictUpdated,
		Data: map[string]interface{}{
			"market_regime":    regime,
			"trade_permission": permission,
			"confidence":       confidence,
		},
	})
}

// PublishFillsSynced publishes a fill-sync batch event
func (b *Bus) PublishFillsSynced(accountType, wallet string, inserted int) {
	b.Publish(Event{
		Type: EventFillsSynced,
		Data: map[string]interface{}{
			"account_type": accountType,
			"wallet":       wallet,
			"inserted":     inserted,
		},
	})
}

// PublishSystemStatus publishes a system status transition
func (b *Bus) PublishSystemStatus(from, to string) {
	b.Publish(Event{
		Type: EventSystemStatus,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
