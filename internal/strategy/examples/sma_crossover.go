// Package examples ships worked strategy implementations against the
// strategy.Strategy interface. SMACrossover wraps github.com/markcheno/go-talib
// the way trader/pkg/formulas/ema.go does: talib first, falling back to a
// plain mean once the lookback window is too short for talib to answer.
package examples

import (
	"fmt"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/broker"
	"github.com/aristath/backtest/internal/portfolio"
	"github.com/aristath/backtest/internal/strategy"
	"github.com/aristath/backtest/pkg/formulas"
	talib "github.com/markcheno/go-talib"
)

// SMACrossover targets a long position of TargetUnits in Asset whenever
// its fast SMA crosses above its slow SMA, and flattens it on a
// cross-under. Signals are evaluated on_close, orders are Lazy so they
// fill at the next step's open, matching a strategy that decides after
// the day's close but cannot trade until the market reopens.
type SMACrossover struct {
	StrategyID string
	AssetID    string
	ExchangeID string
	Fast       int
	Slow       int
	TargetUnits float64

	long bool
}

// NewSMACrossover returns an SMACrossover ready for registration.
func NewSMACrossover(id, assetID, exchangeID string, fast, slow int, targetUnits float64) *SMACrossover {
	return &SMACrossover{StrategyID: id, AssetID: assetID, ExchangeID: exchangeID, Fast: fast, Slow: slow, TargetUnits: targetUnits}
}

// ID implements strategy.Strategy.
func (s *SMACrossover) ID() string { return s.StrategyID }

// Build implements strategy.Strategy. No one-time setup is needed.
func (s *SMACrossover) Build(ctx strategy.Context) error { return nil }

// OnOpen implements strategy.Strategy. This strategy only decides at the
// close.
func (s *SMACrossover) OnOpen(ctx strategy.Context) error { return nil }

// OnClose implements strategy.Strategy: computes both SMAs from the
// asset's close column and flips the target position on a crossover.
func (s *SMACrossover) OnClose(ctx strategy.Context) error {
	ex, ok := ctx.Exchanges[s.ExchangeID]
	if !ok {
		return fmt.Errorf("backtest: sma_crossover: unknown exchange %q", s.ExchangeID)
	}
	if !ex.IsActive(s.AssetID) {
		return nil
	}
	a, err := ex.GetAsset(s.AssetID)
	if err != nil {
		return err
	}
	if a.CurrentIndex()+1 < s.Slow {
		return nil
	}

	closes, err := a.GetColumn(asset.Close, s.Slow)
	if err != nil {
		return nil
	}
	fastVal := sma(closes[len(closes)-s.Fast:], s.Fast)
	slowVal := sma(closes, s.Slow)

	wantLong := fastVal > slowVal
	if wantLong == s.long {
		return nil
	}
	s.long = wantLong

	target := 0.0
	if wantLong {
		target = s.TargetUnits
	}
	return ctx.Portfolio.OrderTargetSize(s.AssetID, target, s.StrategyID, 0, portfolio.TargetUnits, broker.Lazy, -1)
}

// sma returns the simple moving average of the trailing length entries
// of closes, via go-talib, falling back to formulas.Mean if talib
// returns no usable value (e.g. the window is degenerate).
func sma(closes []float64, length int) float64 {
	if len(closes) < length {
		return formulas.Mean(closes)
	}
	out := talib.Sma(closes, length)
	if len(out) == 0 {
		return formulas.Mean(closes)
	}
	last := out[len(out)-1]
	if last != last { // NaN
		return formulas.Mean(closes)
	}
	return last
}
