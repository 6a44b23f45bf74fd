package positionmgr

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ea/bridge/pkg/types"
)

// Monitor composes a Trailer and an Extender into one tick handler,
// satisfying internal/workers' PositionTickHandler so
// PositionMonitorScheduler only has one hook to drive per tick instead of
// threading both through separately. The trailing check always runs;
// dynamic TP extension runs only while the global dynamic_tp_enabled
// setting is on, so that setting can disable it without touching
// trailing.
type Monitor struct {
	trailer  *Trailer
	extender *Extender
	settings DynamicTPSettingsSource
	logger   *zap.Logger
}

// DynamicTPSettingsSource reports whether TP extension is currently enabled,
// backed by internal/store's SettingsStore.
type DynamicTPSettingsSource interface {
	Get() types.GlobalSettings
}

// NewMonitor builds a Monitor.
func NewMonitor(trailer *Trailer, extender *Extender, settings DynamicTPSettingsSource, logger *zap.Logger) *Monitor {
	return &Monitor{trailer: trailer, extender: extender, settings: settings, logger: logger.Named("positionmgr.monitor")}
}

// OnTick runs the trailing-stop check, then the TP-extension check when
// dynamic_tp_enabled is set. A failure in one check is logged and does not
// block the other.
func (m *Monitor) OnTick(trade *types.Trade, price, spread decimal.Decimal) error {
	if err := m.trailer.OnTick(trade, price, spread); err != nil {
		m.logger.Warn("trailing stop check failed", zap.String("ticket_id", trade.TicketID), zap.Error(err))
	}

	if m.settings.Get().DynamicTPEnabled {
		if err := m.extender.OnTick(trade, price); err != nil {
			m.logger.Warn("tp extension check failed", zap.String("ticket_id", trade.TicketID), zap.Error(err))
		}
	}
	return nil
}
