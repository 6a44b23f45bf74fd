package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionWorker periodically prunes ticks and AI decisions past their
// configured retention windows, keeping the database bounded under the
// bridge's high-volume tick ingest path.
type RetentionWorker struct {
	ticks     *TickStore
	decisions *AIDecisionStore
	logger    *zap.Logger

	tickRetention     time.Duration
	decisionRetention time.Duration
	interval          time.Duration
}

// NewRetentionWorker builds a RetentionWorker.
func NewRetentionWorker(ticks *TickStore, decisions *AIDecisionStore, tickRetention, decisionRetention time.Duration, logger *zap.Logger) *RetentionWorker {
	return &RetentionWorker{
		ticks:             ticks,
		decisions:         decisions,
		logger:            logger.Named("retention"),
		tickRetention:     tickRetention,
		decisionRetention: decisionRetention,
		interval:          1 * time.Hour,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (w *RetentionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker stopping")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *RetentionWorker) sweep() {
	now := time.Now().UTC()

	if n, err := w.ticks.DeleteOlderThan(now.Add(-w.tickRetention)); err != nil {
		w.logger.Warn("tick retention sweep failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("pruned expired ticks", zap.Int64("count", n))
	}

	if n, err := w.decisions.DeleteOlderThan(now.Add(-w.decisionRetention)); err != nil {
		w.logger.Warn("decision retention sweep failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("pruned expired AI decisions", zap.Int64("count", n))
	}
}
