package httpapi

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-ea/bridge/internal/apperr"
	"github.com/atlas-ea/bridge/internal/metrics"
	"github.com/atlas-ea/bridge/pkg/types"
	"github.com/atlas-ea/bridge/pkg/utils"
)

type tickPayload struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp int64           `json:"timestamp"` // unix seconds; 0 means "now"
}

type ticksBatchRequest struct {
	AccountID string        `json:"account_id"`
	Ticks     []tickPayload `json:"ticks"`
}

func (s *Server) handleTicksBatch(w http.ResponseWriter, r *http.Request) {
	var req ticksBatchRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AccountID == "" {
		s.writeError(w, apperr.New(apperr.Validation, "account_id is required"))
		return
	}

	accepted := 0
	for _, p := range req.Ticks {
		if p.Symbol == "" || p.Bid.IsZero() {
			continue
		}
		ts := time.Now().UTC()
		if p.Timestamp > 0 {
			ts = time.Unix(p.Timestamp, 0).UTC()
		}
		tick := types.Tick{
			ID:        utils.GenerateTickID(),
			AccountID: req.AccountID,
			Symbol:    p.Symbol,
			Bid:       p.Bid,
			Ask:       p.Ask,
			Timestamp: ts,
		}
		s.deps.Ticks.Ingest(tick)
		s.deps.Market.OnTick(req.AccountID, tick)
		metrics.RecordTick(req.AccountID, p.Symbol)
		accepted++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "accepted": accepted})
}

type ohlcCoverageRequest struct {
	Symbol       string          `json:"symbol"`
	Timeframe    types.Timeframe `json:"timeframe"`
	RequiredBars int             `json:"required_bars"`
}

func (s *Server) handleOHLCCoverage(w http.ResponseWriter, r *http.Request) {
	var req ohlcCoverageRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Symbol == "" {
		s.writeError(w, apperr.New(apperr.Validation, "symbol is required"))
		return
	}

	cov, err := s.deps.Market.Coverage(req.Symbol, req.Timeframe, req.RequiredBars)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.Validation, "coverage check failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"coverage_percent": cov.CoveragePercent,
		"needs_update":     cov.NeedsUpdate,
		"missing_bars":     cov.MissingBars,
	})
}

type ohlcBarPayload struct {
	Symbol    string          `json:"symbol"`
	Timeframe types.Timeframe `json:"timeframe"`
	OpenTime  int64           `json:"open_time"` // unix seconds
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

type ohlcHistoricalRequest struct {
	Bars []ohlcBarPayload `json:"bars"`
}

func (s *Server) handleOHLCHistorical(w http.ResponseWriter, r *http.Request) {
	var req ohlcHistoricalRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	bars := make([]types.OHLCBar, 0, len(req.Bars))
	for _, p := range req.Bars {
		if p.Symbol == "" || p.Timeframe == "" || p.OpenTime <= 0 {
			continue
		}
		bars = append(bars, types.OHLCBar{
			Symbol:    p.Symbol,
			Timeframe: p.Timeframe,
			OpenTime:  time.Unix(p.OpenTime, 0).UTC(),
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}
	if err := s.deps.Market.IngestHistorical(bars); err != nil {
		s.writeError(w, apperr.Wrap(apperr.Transient, "storing historical bars", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stored": len(bars)})
}
