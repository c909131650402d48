// Package asset implements the columnar time-series panel described in
// spec.md §3/§4.1: an ordered sequence of epoch-nanosecond timestamps, a
// dense row-major numeric matrix, and the cursor ("current_index") that
// the exchange advances one row at a time as simulated time passes.
package asset

import (
	"fmt"

	"github.com/aristath/backtest/internal/bterr"
	"github.com/rs/zerolog"
)

// Well-known column names. Frame loaders are free to supply any columns;
// brokers and tracers read these by convention.
const (
	Open  = "OPEN"
	Close = "CLOSE"
)

// Tracer observes an Asset's cursor advancing one row at a time and
// maintains incrementally-updated state (§4.6). Hosts own their tracers;
// a tracer never outlives the Asset it is attached to.
type Tracer interface {
	OnStep(a *Asset)
	Reset()
}

// Asset is a single instrument's price/feature panel, immutable in shape
// after Load. Only the cursor and attached tracers mutate during
// simulation.
type Asset struct {
	id         string
	columns    map[string]int
	columnSeq  []string
	data       [][]float64
	timestamps []int64
	warmup     int
	current    int // -1 before the first tick
	tracers    []Tracer
	log        zerolog.Logger
}

// New creates an empty asset identified by id. warmup rows are visible
// (tracers may observe them) but never trigger strategy callbacks.
func New(id string, warmup int, log zerolog.Logger) *Asset {
	return &Asset{
		id:      id,
		warmup:  warmup,
		current: -1,
		log:     log.With().Str("asset", id).Logger(),
	}
}

// ID returns the asset's identifier.
func (a *Asset) ID() string { return a.id }

// Warmup returns the configured warmup row count.
func (a *Asset) Warmup() int { return a.warmup }

// LoadHeaders assigns column names to the matrix loaded by LoadData.
// Must be called before or together with LoadData.
func (a *Asset) LoadHeaders(names []string) {
	a.columnSeq = append([]string(nil), names...)
	a.columns = make(map[string]int, len(names))
	for i, n := range names {
		a.columns[n] = i
	}
}

// LoadData copies matrix and timestamps into the asset. Per the copy-not-
// mutate design note (spec.md §9), the caller's slices are never retained
// or reordered in place.
//
// If isSorted is false, timestamps are validated to be strictly
// increasing; the matrix is never reordered — an unsorted input is a data
// error, not something this loader silently fixes.
func (a *Asset) LoadData(matrix [][]float64, timestamps []int64, isSorted bool) error {
	if len(matrix) != len(timestamps) {
		return fmt.Errorf("%w: asset %q has %d rows but %d timestamps", bterr.ErrShapeMismatch, a.id, len(matrix), len(timestamps))
	}
	if !isSorted {
		for i := 1; i < len(timestamps); i++ {
			if timestamps[i] <= timestamps[i-1] {
				return fmt.Errorf("%w: asset %q at row %d", bterr.ErrUnsortedTimestamps, a.id, i)
			}
		}
	}
	a.timestamps = append([]int64(nil), timestamps...)
	a.data = make([][]float64, len(matrix))
	for i, row := range matrix {
		if a.columns != nil && len(row) != len(a.columnSeq) {
			return fmt.Errorf("%w: asset %q row %d has %d columns, want %d", bterr.ErrShapeMismatch, a.id, i, len(row), len(a.columnSeq))
		}
		a.data[i] = append([]float64(nil), row...)
	}
	a.current = -1
	return nil
}

// Len returns the number of rows loaded.
func (a *Asset) Len() int { return len(a.timestamps) }

// CurrentIndex returns the cursor position (-1 before the first step).
func (a *Asset) CurrentIndex() int { return a.current }

// Timestamps returns the asset's own timestamp index (read-only view).
func (a *Asset) Timestamps() []int64 { return a.timestamps }

// TimestampAt returns the timestamp at an absolute row index.
func (a *Asset) TimestampAt(row int) (int64, error) {
	if row < 0 || row >= len(a.timestamps) {
		return 0, fmt.Errorf("%w: row %d", bterr.ErrOutOfRange, row)
	}
	return a.timestamps[row], nil
}

// CurrentTimestamp returns the timestamp of the current row.
func (a *Asset) CurrentTimestamp() (int64, error) {
	return a.TimestampAt(a.current)
}

// IsWarm reports whether the asset's cursor has advanced past warmup, i.e.
// strategy callbacks should fire for this row.
func (a *Asset) IsWarm() bool {
	return a.current >= a.warmup
}

// Get returns the value of column at currentIndex+relativeRow.
// relativeRow must be <= 0 (0 = current row, negative = strictly past
// rows); a positive relativeRow is rejected rather than silently
// reinterpreted, resolving spec.md §9 Open Question (b).
func (a *Asset) Get(column string, relativeRow int) (float64, error) {
	if relativeRow > 0 {
		return 0, fmt.Errorf("%w: relative row %d must be <= 0", bterr.ErrOutOfRange, relativeRow)
	}
	col, ok := a.columns[column]
	if !ok {
		return 0, fmt.Errorf("%w: column %q on asset %q", bterr.ErrUnknownColumn, column, a.id)
	}
	row := a.current + relativeRow
	if row < 0 || row >= len(a.data) {
		return 0, fmt.Errorf("%w: row %d on asset %q", bterr.ErrOutOfRange, row, a.id)
	}
	return a.data[row][col], nil
}

// getAbsolute reads a column at an absolute row, used by tracers that walk
// the asset's own history rather than the relative-row convention.
func (a *Asset) getAbsolute(column string, row int) (float64, error) {
	col, ok := a.columns[column]
	if !ok {
		return 0, fmt.Errorf("%w: column %q on asset %q", bterr.ErrUnknownColumn, column, a.id)
	}
	if row < 0 || row >= len(a.data) {
		return 0, fmt.Errorf("%w: row %d on asset %q", bterr.ErrOutOfRange, row, a.id)
	}
	return a.data[row][col], nil
}

// GetColumn returns the last n values of column ending at the current row,
// oldest first.
func (a *Asset) GetColumn(column string, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive", bterr.ErrOutOfRange)
	}
	col, ok := a.columns[column]
	if !ok {
		return nil, fmt.Errorf("%w: column %q on asset %q", bterr.ErrUnknownColumn, column, a.id)
	}
	if a.current-n+1 < 0 {
		return nil, fmt.Errorf("%w: only %d rows available for asset %q", bterr.ErrOutOfRange, a.current+1, a.id)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a.data[a.current-n+1+i][col]
	}
	return out, nil
}

// AttachTracer attaches a rolling feature tracer to this asset. Ownership
// is exclusive to the asset; the tracer is torn down with it.
func (a *Asset) AttachTracer(t Tracer) {
	a.tracers = append(a.tracers, t)
}

// Step advances the cursor by one row and notifies attached tracers.
// Callers (the owning Exchange) must only invoke Step when this asset is
// active at the new global tick.
func (a *Asset) Step() {
	a.current++
	for _, t := range a.tracers {
		t.OnStep(a)
	}
}

// Reset returns the cursor to its pre-build state and resets every
// attached tracer. Shape and loaded data are untouched.
func (a *Asset) Reset() {
	a.current = -1
	for _, t := range a.tracers {
		t.Reset()
	}
}
