package asset

import (
	"fmt"

	"github.com/aristath/backtest/internal/bterr"
)

// VolatilityTracer maintains a rolling population variance of simple
// returns over a fixed window, per spec.md §4.1/§4.6. It is an O(1) ring
// buffer: no library in the pack offers a streaming/incremental variance
// primitive (gonum/stat is batch-only), so the running sum/sum-of-squares
// are tracked by hand — see DESIGN.md.
type VolatilityTracer struct {
	column string
	window int

	ring  []float64
	head  int
	count int
	sum   float64
	sumSq float64
}

// NewVolatilityTracer returns a tracer reading returns from column with a
// rolling window of the given size.
func NewVolatilityTracer(column string, window int) *VolatilityTracer {
	return &VolatilityTracer{
		column: column,
		window: window,
		ring:   make([]float64, window),
	}
}

// OnStep pushes a new return once the asset has crossed its warmup
// boundary and a previous row exists to compute a return against.
func (t *VolatilityTracer) OnStep(a *Asset) {
	if a.current < a.warmup || a.current < 1 {
		return
	}
	prev, err := a.getAbsolute(t.column, a.current-1)
	if err != nil {
		return
	}
	cur, err := a.getAbsolute(t.column, a.current)
	if err != nil || prev == 0 {
		return
	}
	r := cur/prev - 1
	t.push(r)
}

func (t *VolatilityTracer) push(r float64) {
	if t.count == t.window {
		old := t.ring[t.head]
		t.sum -= old
		t.sumSq -= old * old
	} else {
		t.count++
	}
	t.ring[t.head] = r
	t.sum += r
	t.sumSq += r * r
	t.head = (t.head + 1) % t.window
}

// Value returns the population variance of returns over the window, or
// ErrNotReady until window valid returns have been observed.
func (t *VolatilityTracer) Value() (float64, error) {
	if t.count < t.window {
		return 0, fmt.Errorf("%w: volatility tracer has %d/%d returns", bterr.ErrNotReady, t.count, t.window)
	}
	n := float64(t.window)
	mean := t.sum / n
	return t.sumSq/n - mean*mean, nil
}

// Reset clears all accumulated state.
func (t *VolatilityTracer) Reset() {
	t.ring = make([]float64, t.window)
	t.head, t.count = 0, 0
	t.sum, t.sumSq = 0, 0
}

// BetaTracer maintains rolling covariance of an asset's returns against an
// exchange's index-asset returns, divided by the index's own variance
// (spec.md §4.6). The index asset is bound once the host exchange knows
// it (see exchange.Exchange.SetIndexAsset); querying before Bind or before
// the window fills returns ErrNotReady.
type BetaTracer struct {
	column      string
	indexColumn string
	window      int
	index       *Asset

	ringX, ringY             []float64
	head, count              int
	sumX, sumY, sumXY, sumYY float64
}

// NewBetaTracer returns a tracer reading the asset's own column and an
// index asset's column, over a rolling window.
func NewBetaTracer(column, indexColumn string, window int) *BetaTracer {
	return &BetaTracer{
		column:      column,
		indexColumn: indexColumn,
		window:      window,
		ringX:       make([]float64, window),
		ringY:       make([]float64, window),
	}
}

// Bind attaches the exchange's index asset. Must be called before this
// tracer can produce a value.
func (t *BetaTracer) Bind(index *Asset) { t.index = index }

// OnStep pushes a new (asset-return, index-return) pair once both legs
// have a previous row to compute a return against.
func (t *BetaTracer) OnStep(a *Asset) {
	if t.index == nil || a.current < a.warmup || a.current < 1 {
		return
	}
	idx := t.index.current
	if idx < 1 {
		return
	}
	prevX, err := a.getAbsolute(t.column, a.current-1)
	if err != nil {
		return
	}
	curX, err := a.getAbsolute(t.column, a.current)
	if err != nil || prevX == 0 {
		return
	}
	prevY, err := t.index.getAbsolute(t.indexColumn, idx-1)
	if err != nil {
		return
	}
	curY, err := t.index.getAbsolute(t.indexColumn, idx)
	if err != nil || prevY == 0 {
		return
	}
	t.push(curX/prevX-1, curY/prevY-1)
}

func (t *BetaTracer) push(rx, ry float64) {
	if t.count == t.window {
		oldX, oldY := t.ringX[t.head], t.ringY[t.head]
		t.sumX -= oldX
		t.sumY -= oldY
		t.sumXY -= oldX * oldY
		t.sumYY -= oldY * oldY
	} else {
		t.count++
	}
	t.ringX[t.head] = rx
	t.ringY[t.head] = ry
	t.sumX += rx
	t.sumY += ry
	t.sumXY += rx * ry
	t.sumYY += ry * ry
	t.head = (t.head + 1) % t.window
}

// Value returns cov(asset, index) / var(index) over the window.
func (t *BetaTracer) Value() (float64, error) {
	if t.count < t.window {
		return 0, fmt.Errorf("%w: beta tracer has %d/%d returns", bterr.ErrNotReady, t.count, t.window)
	}
	n := float64(t.window)
	meanX, meanY := t.sumX/n, t.sumY/n
	cov := t.sumXY/n - meanX*meanY
	varY := t.sumYY/n - meanY*meanY
	if varY == 0 {
		return 0, fmt.Errorf("%w: index variance is zero", bterr.ErrNotReady)
	}
	return cov / varY, nil
}

// Reset clears all accumulated state but keeps the bound index.
func (t *BetaTracer) Reset() {
	t.ringX = make([]float64, t.window)
	t.ringY = make([]float64, t.window)
	t.head, t.count = 0, 0
	t.sumX, t.sumY, t.sumXY, t.sumYY = 0, 0, 0, 0
}
