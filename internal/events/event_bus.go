// Package events provides a high-throughput event bus wiring tick ingest,
// signal generation, command delivery and risk alerts across the bridge's
// components without direct dependencies between them.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// EventType defines the category of event.
type EventType string

const (
	EventTypeTick       EventType = "tick"
	EventTypeBar        EventType = "bar"
	EventTypeSignal     EventType = "signal"
	EventTypeCommand    EventType = "command"
	EventTypeTradeSync  EventType = "trade_sync"
	EventTypeRiskAlert  EventType = "risk_alert"
	EventTypeConnection EventType = "connection"
)

// Event is the base interface for all bus events.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// TickEvent fires on every ingested tick, driving signal evaluation and
// trailing-stop monitors for the ticking symbol.
type TickEvent struct {
	BaseEvent
	AccountID string          `json:"accountId"`
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
}

// BarEvent fires when a new OHLC bar closes for a symbol/timeframe.
type BarEvent struct {
	BaseEvent
	Symbol    string          `json:"symbol"`
	Timeframe types.Timeframe `json:"timeframe"`
	Close     decimal.Decimal `json:"close"`
}

// SignalEvent fires when the signal engine creates or replaces an active signal.
type SignalEvent struct {
	BaseEvent
	AccountID  string            `json:"accountId"`
	Symbol     string            `json:"symbol"`
	Timeframe  types.Timeframe   `json:"timeframe"`
	SignalType types.SignalType  `json:"signalType"`
	Confidence decimal.Decimal   `json:"confidence"`
}

// CommandEvent fires when a command is enqueued, sent, or resolved for an
// account's EA connection.
type CommandEvent struct {
	BaseEvent
	AccountID string             `json:"accountId"`
	CommandID string             `json:"commandId"`
	Type      types.CommandType  `json:"commandType"`
	Status    types.CommandStatus `json:"status"`
}

// TradeSyncEvent fires when reconciliation observes a trade change.
type TradeSyncEvent struct {
	BaseEvent
	AccountID string      `json:"accountId"`
	TradeID   string      `json:"tradeId"`
	EventType string      `json:"eventType"` // opened, closed, sl_moved, tp_moved
}

// RiskAlertEvent fires on circuit breaker trips, drawdown breaches, cooldowns.
type RiskAlertEvent struct {
	BaseEvent
	AccountID string               `json:"accountId"`
	AlertType string               `json:"alertType"`
	Impact    types.DecisionImpact `json:"impact"`
	Message   string               `json:"message"`
}

// ConnectionEvent fires on EA connection state transitions.
type ConnectionEvent struct {
	BaseEvent
	AccountID string                 `json:"accountId"`
	State     types.ConnectionState  `json:"state"`
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a handler.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription dispatch behavior.
type SubscriptionOptions struct {
	Filter EventFilter
	Async  bool
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats summarizes bus throughput and health.
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures the worker pool backing the bus.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig returns sensible defaults for this bridge's volume.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 16,
		BufferSize: 100000,
	}
}

// EventBus routes published events to type-specific and wildcard subscribers
// via a bounded worker pool, so a slow handler never blocks the publisher.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies []int64
	latencyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus builds and starts an EventBus's worker pool.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100000
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, config.BufferSize),
		workerCount: config.NumWorkers,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("events"),
		latencies:   make([]int64, 0, 10000),
	}

	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Info("event bus started", zap.Int("workers", eb.workerCount), zap.Int("buffer_size", config.BufferSize))
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.dispatch(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) dispatch(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.deliver(sub, event)
	}
	for _, sub := range allSubs {
		eb.deliver(sub, event)
	}
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) deliver(sub *Subscription, event Event) {
	if !sub.active.Load() {
		return
	}
	if sub.Options.Filter != nil && !sub.Options.Filter(event) {
		return
	}
	if sub.Options.Async {
		go eb.executeHandler(sub, event)
	} else {
		eb.executeHandler(sub, event)
	}
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()
	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 10000 {
		eb.latencies = eb.latencies[5000:]
	}
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(subscriptionCounter.Add(1))
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler invoked for every published event — used
// by the opsws hub to fan everything out to connected dashboards.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription; it is not removed from the slice
// to keep Subscribe/Unsubscribe lock-cheap, but inactive subscriptions are
// skipped on every dispatch.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish enqueues an event for async dispatch. If the buffer is full the
// event is dropped and counted rather than blocking the publisher.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("event_type", string(event.GetType())))
	}
}

// PublishSync dispatches an event to subscribers synchronously.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.dispatch(event)
}

// Stats returns current throughput and health counters.
func (eb *EventBus) Stats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		P99Latency:        eb.P99Latency(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

// P99Latency computes the 99th percentile dispatch latency over the last
// 10,000 samples.
func (eb *EventBus) P99Latency() time.Duration {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return time.Duration(sorted[idx])
}

// Stop shuts the bus down, waiting up to 5s for in-flight handlers to drain.
func (eb *EventBus) Stop() {
	eb.logger.Info("event bus stopping")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped", zap.Int64("events_processed", eb.eventsProcessed.Load()))
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus stop timed out")
	}
}

var eventCounter atomic.Int64

func generateEventID() string {
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(eventCounter.Add(1))
}

// NewTickEvent builds a TickEvent.
func NewTickEvent(accountID, symbol string, bid, ask decimal.Decimal) *TickEvent {
	return &TickEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeTick, Timestamp: time.Now()},
		AccountID: accountID, Symbol: symbol, Bid: bid, Ask: ask,
	}
}

// NewSignalEvent builds a SignalEvent.
func NewSignalEvent(accountID, symbol string, tf types.Timeframe, signalType types.SignalType, confidence decimal.Decimal) *SignalEvent {
	return &SignalEvent{
		BaseEvent:  BaseEvent{ID: generateEventID(), Type: EventTypeSignal, Timestamp: time.Now()},
		AccountID:  accountID, Symbol: symbol, Timeframe: tf, SignalType: signalType, Confidence: confidence,
	}
}

// NewCommandEvent builds a CommandEvent.
func NewCommandEvent(accountID, commandID string, cmdType types.CommandType, status types.CommandStatus) *CommandEvent {
	return &CommandEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeCommand, Timestamp: time.Now()},
		AccountID: accountID, CommandID: commandID, Type: cmdType, Status: status,
	}
}

// NewRiskAlertEvent builds a RiskAlertEvent.
func NewRiskAlertEvent(accountID, alertType string, impact types.DecisionImpact, message string) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeRiskAlert, Timestamp: time.Now()},
		AccountID: accountID, AlertType: alertType, Impact: impact, Message: message,
	}
}

// NewConnectionEvent builds a ConnectionEvent.
func NewConnectionEvent(accountID string, state types.ConnectionState) *ConnectionEvent {
	return &ConnectionEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeConnection, Timestamp: time.Now()},
		AccountID: accountID, State: state,
	}
}
