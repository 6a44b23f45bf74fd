// Package types provides shared domain type definitions for the EA bridge.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionState tracks the lifecycle of an EA's connection to the bridge.
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionFailed       ConnectionState = "failed"
)

// SignalType is the direction of a generated trading signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// SignalStatus tracks a signal's lifecycle in the store.
type SignalStatus string

const (
	SignalStatusActive    SignalStatus = "active"
	SignalStatusExpired   SignalStatus = "expired"
	SignalStatusConsumed  SignalStatus = "consumed"
	SignalStatusSuperseded SignalStatus = "superseded"
)

// CommandType enumerates the instructions the server can queue for an EA.
type CommandType string

const (
	CommandOpenTrade      CommandType = "OPEN_TRADE"
	CommandModifyTrade    CommandType = "MODIFY_TRADE"
	CommandCloseTrade     CommandType = "CLOSE_TRADE"
	CommandCloseAll       CommandType = "CLOSE_ALL"
	CommandHistoricalData CommandType = "REQUEST_HISTORICAL_DATA"
	CommandAccountInfo    CommandType = "GET_ACCOUNT_INFO"
	CommandPing           CommandType = "PING"
)

// Command priority levels, consumed by internal/commctl's CommandQueue heap
// ordering (higher value drains first).
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityHigh     = 10
	PriorityCritical = 99
)

// CommandStatus tracks a queued command's lifecycle.
type CommandStatus string

const (
	CommandPending   CommandStatus = "PENDING"
	CommandExecuting CommandStatus = "EXECUTING"
	CommandCompleted CommandStatus = "COMPLETED"
	CommandFailed    CommandStatus = "FAILED"
	CommandExpired   CommandStatus = "EXPIRED"
)

// TradeStatus tracks an open/closed trade mirrored from the EA.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// TradeSource records how a trade came to exist.
type TradeSource string

const (
	TradeSourceAutoTrade TradeSource = "auto_trade"
	TradeSourceManual    TradeSource = "manual"
	TradeSourceCommand   TradeSource = "command"
)

// CloseReason enumerates why a trade was closed.
type CloseReason string

const (
	CloseReasonSL               CloseReason = "SL"
	CloseReasonTP               CloseReason = "TP"
	CloseReasonTrailing         CloseReason = "TRAILING_STOP"
	CloseReasonManual           CloseReason = "MANUAL"
	CloseReasonEmergency        CloseReason = "EMERGENCY_CLOSE"
	CloseReasonTimeout          CloseReason = "TIMEOUT"
	CloseReasonStrategyInvalid  CloseReason = "STRATEGY_INVALIDATED"
	CloseReasonReconciliation   CloseReason = "SYNC_RECONCILIATION"
)

// DecisionImpact grades the severity of an AIDecision audit row.
type DecisionImpact string

const (
	ImpactLow      DecisionImpact = "LOW"
	ImpactMedium   DecisionImpact = "MEDIUM"
	ImpactHigh     DecisionImpact = "HIGH"
	ImpactCritical DecisionImpact = "CRITICAL"
)

// Timeframe is the full chart-timeframe set the signal engine evaluates.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
	TimeframeW1  Timeframe = "W1"
	TimeframeMN1 Timeframe = "MN1"
)

// AssetClass buckets a symbol for TP/SL multiplier and risk purposes.
type AssetClass string

const (
	AssetForexMajor  AssetClass = "FOREX_MAJOR"
	AssetForexMinor  AssetClass = "FOREX_MINOR"
	AssetForexExotic AssetClass = "FOREX_EXOTIC"
	AssetCrypto      AssetClass = "CRYPTO"
	AssetMetals      AssetClass = "METALS"
	AssetIndices     AssetClass = "INDICES"
	AssetCommodities AssetClass = "COMMODITIES"
	AssetStocks      AssetClass = "STOCKS"
)

// Account is a single MT5 trading account bridged to this server.
type Account struct {
	ID                  string          `json:"id" db:"id"`
	Login               string          `json:"login" db:"login"`
	Broker              string          `json:"broker" db:"broker"`
	Currency            string          `json:"currency" db:"currency"`
	Balance             decimal.Decimal `json:"balance" db:"balance"`
	Equity              decimal.Decimal `json:"equity" db:"equity"`
	Margin              decimal.Decimal `json:"margin" db:"margin"`
	FreeMargin          decimal.Decimal `json:"freeMargin" db:"free_margin"`
	InitialBalance      decimal.Decimal `json:"initialBalance" db:"initial_balance"`
	ProfitToday         decimal.Decimal `json:"profitToday" db:"profit_today"`
	AutoTradeEnabled    bool            `json:"autoTradeEnabled" db:"auto_trade_enabled"`
	CircuitBreakerTripped bool          `json:"circuitBreakerTripped" db:"circuit_breaker_tripped"`
	FailedCommandCount  int             `json:"failedCommandCount" db:"failed_command_count"`
	SLCooldownUntil     *time.Time      `json:"slCooldownUntil,omitempty" db:"sl_cooldown_until"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time       `json:"updatedAt" db:"updated_at"`
}

// Connection is the in-memory-only liveness record for an account's EA link.
type Connection struct {
	AccountID     string          `json:"accountId"`
	State         ConnectionState `json:"state"`
	HealthScore   int             `json:"healthScore"`
	LastSeen      time.Time       `json:"lastSeen"`
	LastError     string          `json:"lastError,omitempty"`
	ConnectedSince time.Time      `json:"connectedSince"`
}

// Tick is a single price update ingested from an EA.
type Tick struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"accountId" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Bid       decimal.Decimal `json:"bid" db:"bid"`
	Ask       decimal.Decimal `json:"ask" db:"ask"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// OHLCBar is a single historical or streaming candlestick.
type OHLCBar struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timeframe Timeframe       `json:"timeframe" db:"timeframe"`
	OpenTime  time.Time       `json:"openTime" db:"open_time"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
}

// Signal is the output of the signal engine for one (account, symbol, timeframe).
type Signal struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"accountId" db:"account_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Timeframe  Timeframe       `json:"timeframe" db:"timeframe"`
	Type       SignalType      `json:"type" db:"signal_type"`
	Confidence decimal.Decimal `json:"confidence" db:"confidence"`
	EntryPrice decimal.Decimal `json:"entryPrice" db:"entry_price"`
	StopLoss   decimal.Decimal `json:"stopLoss" db:"stop_loss"`
	TakeProfit decimal.Decimal `json:"takeProfit" db:"take_profit"`
	Reasoning  string          `json:"reasoning" db:"reasoning"`
	Status     SignalStatus    `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time       `json:"updatedAt" db:"updated_at"`
	ExpiresAt  time.Time       `json:"expiresAt" db:"expires_at"`
}

// Command is a single instruction queued for delivery to an EA.
type Command struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"accountId" db:"account_id"`
	Type         CommandType     `json:"type" db:"command_type"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Volume       decimal.Decimal `json:"volume,omitempty" db:"volume"`
	Price        decimal.Decimal `json:"price,omitempty" db:"price"`
	StopLoss     decimal.Decimal `json:"stopLoss,omitempty" db:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"takeProfit,omitempty" db:"take_profit"`
	TicketID     string          `json:"ticketId,omitempty" db:"ticket_id"`
	Reason       string          `json:"reason,omitempty" db:"reason"`
	LinkedSignalID string        `json:"linkedSignalId,omitempty" db:"linked_signal_id"`
	Priority     int             `json:"priority" db:"priority"`
	Status       CommandStatus   `json:"status" db:"status"`
	RetryCount   int             `json:"retryCount" db:"retry_count"`
	MaxRetries   int             `json:"maxRetries" db:"max_retries"`
	TimeoutSeconds int           `json:"timeoutSeconds" db:"timeout_seconds"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	SentAt       *time.Time      `json:"sentAt,omitempty" db:"sent_at"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// Trade mirrors a live or historical MT5 position for this account.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"accountId" db:"account_id"`
	TicketID     string          `json:"ticketId" db:"ticket_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Side         SignalType      `json:"side" db:"side"`
	Volume       decimal.Decimal `json:"volume" db:"volume"`
	OpenPrice    decimal.Decimal `json:"openPrice" db:"open_price"`
	ClosePrice   decimal.Decimal `json:"closePrice,omitempty" db:"close_price"`
	StopLoss     decimal.Decimal `json:"stopLoss" db:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"takeProfit" db:"take_profit"`
	InitialStopLoss decimal.Decimal `json:"initialStopLoss" db:"initial_stop_loss"`
	InitialTakeProfit decimal.Decimal `json:"initialTakeProfit" db:"initial_take_profit"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	Status       TradeStatus     `json:"status" db:"status"`
	Source       TradeSource     `json:"source" db:"source"`
	EntryReason  string          `json:"entryReason" db:"entry_reason"`
	CloseReason  CloseReason     `json:"closeReason,omitempty" db:"close_reason"`
	TrailingStage int            `json:"trailingStage" db:"trailing_stage"`
	TPExtensions int             `json:"tpExtensions" db:"tp_extensions"`
	LinkedCommandID string       `json:"linkedCommandId,omitempty" db:"linked_command_id"`
	OpenedAt     time.Time       `json:"openedAt" db:"opened_at"`
	ClosedAt     *time.Time      `json:"closedAt,omitempty" db:"closed_at"`
}

// TradeHistoryEvent is an append-only audit record of a change to a trade.
// Source names the component that made the change (trailing_stop_manager,
// dynamic_tp, reconciliation, ea); price/spread capture market conditions at
// the moment of the change.
type TradeHistoryEvent struct {
	ID             string          `json:"id" db:"id"`
	TradeID        string          `json:"tradeId" db:"trade_id"`
	EventType      string          `json:"eventType" db:"event_type"`
	OldValue       decimal.Decimal `json:"oldValue,omitempty" db:"old_value"`
	NewValue       decimal.Decimal `json:"newValue,omitempty" db:"new_value"`
	Detail         string          `json:"detail,omitempty" db:"detail"`
	Source         string          `json:"source,omitempty" db:"source"`
	PriceAtChange  decimal.Decimal `json:"priceAtChange,omitempty" db:"price_at_change"`
	SpreadAtChange decimal.Decimal `json:"spreadAtChange,omitempty" db:"spread_at_change"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// BrokerSymbol holds broker-reported contract specs for a symbol.
type BrokerSymbol struct {
	AccountID   string          `json:"accountId" db:"account_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	AssetClass  AssetClass      `json:"assetClass" db:"asset_class"`
	Digits      int             `json:"digits" db:"digits"`
	PipSize     decimal.Decimal `json:"pipSize" db:"pip_size"`
	StopsLevel  decimal.Decimal `json:"stopsLevel" db:"stops_level"`
	VolumeMin   decimal.Decimal `json:"volumeMin" db:"volume_min"`
	VolumeMax   decimal.Decimal `json:"volumeMax" db:"volume_max"`
	VolumeStep  decimal.Decimal `json:"volumeStep" db:"volume_step"`
	ContractSize decimal.Decimal `json:"contractSize" db:"contract_size"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// SymbolOverride holds per-symbol TP/SL/confidence overrides (e.g. XAUUSD).
type SymbolOverride struct {
	Symbol                string          `json:"symbol" db:"symbol"`
	TPMultiplierOverride  decimal.Decimal `json:"tpMultiplierOverride,omitempty" db:"tp_mult_override"`
	SLMultiplierOverride  decimal.Decimal `json:"slMultiplierOverride,omitempty" db:"sl_mult_override"`
	MinConfidenceOverride decimal.Decimal `json:"minConfidenceOverride,omitempty" db:"min_confidence_override"`
	TrailingAggressive    bool            `json:"trailingAggressive" db:"trailing_aggressive"`
}

// GlobalSettings is the mutable, DB-backed, live-reloadable trading config.
type GlobalSettings struct {
	ID                     int             `json:"id" db:"id"`
	AutoTradeEnabled       bool            `json:"autoTradeEnabled" db:"auto_trade_enabled"`
	MinConfidencePct       decimal.Decimal `json:"minConfidencePct" db:"min_confidence_pct"`
	RiskPerTradePct        decimal.Decimal `json:"riskPerTradePct" db:"risk_per_trade_pct"`
	MaxOpenTradesPerAccount int            `json:"maxOpenTradesPerAccount" db:"max_open_trades_per_account"`
	MaxDailyLossPct        decimal.Decimal `json:"maxDailyLossPct" db:"max_daily_loss_pct"`
	MaxTotalDrawdownPct    decimal.Decimal `json:"maxTotalDrawdownPct" db:"max_total_drawdown_pct"`
	TradeTimeoutHours      decimal.Decimal `json:"tradeTimeoutHours" db:"trade_timeout_hours"`
	TradeTimeoutAction     string          `json:"tradeTimeoutAction" db:"trade_timeout_action"`
	SLCooldownHitsThreshold int            `json:"slCooldownHitsThreshold" db:"sl_cooldown_hits_threshold"`
	SLCooldownWindowHours  decimal.Decimal `json:"slCooldownWindowHours" db:"sl_cooldown_window_hours"`
	SLCooldownPauseMinutes int             `json:"slCooldownPauseMinutes" db:"sl_cooldown_pause_minutes"`
	DynamicTPEnabled       bool            `json:"dynamicTpEnabled" db:"dynamic_tp_enabled"`
	UpdatedAt              time.Time       `json:"updatedAt" db:"updated_at"`
}

// DefaultGlobalSettings returns the seed row written on first boot.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		ID:                      1,
		AutoTradeEnabled:        false,
		MinConfidencePct:        decimal.NewFromInt(65),
		RiskPerTradePct:         decimal.NewFromFloat(1.0),
		MaxOpenTradesPerAccount: 5,
		MaxDailyLossPct:         decimal.NewFromFloat(5.0),
		MaxTotalDrawdownPct:     decimal.NewFromFloat(15.0),
		TradeTimeoutHours:       decimal.NewFromInt(48),
		TradeTimeoutAction:      "alert",
		SLCooldownHitsThreshold: 2,
		SLCooldownWindowHours:   decimal.NewFromInt(4),
		SLCooldownPauseMinutes:  60,
		DynamicTPEnabled:        true,
	}
}

// AIDecision is the per-event audit trail of every gating/protective
// decision. Details carries optional structured context as JSON;
// ActionRequired flags rows an operator must act on (circuit-breaker
// trips need a manual reset).
type AIDecision struct {
	ID             string         `json:"id" db:"id"`
	AccountID      string         `json:"accountId" db:"account_id"`
	Symbol         string         `json:"symbol,omitempty" db:"symbol"`
	SignalID       string         `json:"signalId,omitempty" db:"signal_id"`
	DecisionType   string         `json:"decisionType" db:"decision_type"`
	Approved       bool           `json:"approved" db:"approved"`
	Impact         DecisionImpact `json:"impact" db:"impact"`
	Outcome        string         `json:"outcome" db:"outcome"`
	Reasoning      string         `json:"reasoning" db:"reasoning"`
	Details        string         `json:"details,omitempty" db:"details"`
	ActionRequired bool           `json:"actionRequired" db:"action_required"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
}

// SymbolPerformanceTracking rolls up win/loss stats per (account, symbol).
type SymbolPerformanceTracking struct {
	AccountID    string          `json:"accountId" db:"account_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	TotalTrades  int             `json:"totalTrades" db:"total_trades"`
	Wins         int             `json:"wins" db:"wins"`
	Losses       int             `json:"losses" db:"losses"`
	TotalPnL     decimal.Decimal `json:"totalPnl" db:"total_pnl"`
	LastTradeAt  *time.Time      `json:"lastTradeAt,omitempty" db:"last_trade_at"`
}

// NewsEvent is a currency-impacting calendar event consumed from an external feed.
type NewsEvent struct {
	ID        string    `json:"id" db:"id"`
	Currency  string    `json:"currency" db:"currency"`
	Title     string    `json:"title" db:"title"`
	Impact    string    `json:"impact" db:"impact"`
	EventTime time.Time `json:"eventTime" db:"event_time"`
}
