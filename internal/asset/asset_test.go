package asset

import (
	"errors"
	"testing"

	"github.com/aristath/backtest/internal/bterr"
	"github.com/aristath/backtest/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAsset(t *testing.T, warmup int) *Asset {
	t.Helper()
	a := New("test1", warmup, zerolog.Nop())
	a.LoadHeaders([]string{Open, Close})
	rows := [][]float64{
		{100, 101},
		{101, 102},
		{102, 100},
		{100, 105},
	}
	ts := []int64{1, 2, 3, 4}
	require.NoError(t, a.LoadData(rows, ts, true))
	return a
}

func TestLoadData_RejectsUnsorted(t *testing.T) {
	a := New("bad", 0, zerolog.Nop())
	a.LoadHeaders([]string{Open})
	err := a.LoadData([][]float64{{1}, {2}}, []int64{5, 3}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrUnsortedTimestamps))
}

func TestLoadData_ShapeMismatch(t *testing.T) {
	a := New("bad", 0, zerolog.Nop())
	a.LoadHeaders([]string{Open})
	err := a.LoadData([][]float64{{1}}, []int64{1, 2}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrShapeMismatch))
}

func TestStepAndGet(t *testing.T) {
	a := newTestAsset(t, 0)
	_, err := a.Get(Close, 0)
	require.Error(t, err, "before first step, current index is -1 and out of range")

	a.Step()
	v, err := a.Get(Close, 0)
	require.NoError(t, err)
	assert.Equal(t, 101.0, v)

	a.Step()
	v, err = a.Get(Close, -1)
	require.NoError(t, err)
	assert.Equal(t, 101.0, v, "negative relative row looks back")

	_, err = a.Get(Close, 1)
	require.Error(t, err, "positive relative row is rejected")
	assert.True(t, errors.Is(err, bterr.ErrOutOfRange))

	_, err = a.Get("NOPE", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrUnknownColumn))
}

func TestGetColumn(t *testing.T) {
	a := newTestAsset(t, 0)
	a.Step()
	a.Step()
	a.Step()
	vals, err := a.GetColumn(Close, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 102, 100}, vals)

	_, err = a.GetColumn(Close, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrOutOfRange))
}

func TestIsWarm(t *testing.T) {
	a := newTestAsset(t, 2)
	a.Step() // index 0
	assert.False(t, a.IsWarm())
	a.Step() // index 1
	assert.False(t, a.IsWarm())
	a.Step() // index 2
	assert.True(t, a.IsWarm())
}

func TestReset(t *testing.T) {
	a := newTestAsset(t, 0)
	a.Step()
	a.Step()
	assert.Equal(t, 1, a.CurrentIndex())
	a.Reset()
	assert.Equal(t, -1, a.CurrentIndex())
}

func TestVolatilityTracer_NotReadyUntilWindowFull(t *testing.T) {
	a := newTestAsset(t, 0)
	tr := NewVolatilityTracer(Close, 3)
	a.AttachTracer(tr)

	a.Step() // index 0, no prior row: no return pushed
	_, err := tr.Value()
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrNotReady))

	a.Step() // index 1: 1 return
	a.Step() // index 2: 2 returns
	_, err = tr.Value()
	require.Error(t, err)

	a.Step() // index 3: 3 returns, window full
	v, err := tr.Value()
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
}

func TestVolatilityTracer_MatchesPopulationVariance(t *testing.T) {
	// closes: 100,101,102,100,105 -> 4 returns exactly fill window 4
	a := New("spy", 0, zerolog.Nop())
	a.LoadHeaders([]string{Close})
	closes := []float64{100, 101, 102, 100, 105}
	rows := make([][]float64, len(closes))
	ts := make([]int64, len(closes))
	for i, c := range closes {
		rows[i] = []float64{c}
		ts[i] = int64(i)
	}
	require.NoError(t, a.LoadData(rows, ts, true))

	tr := NewVolatilityTracer(Close, 4)
	a.AttachTracer(tr)
	for range closes {
		a.Step()
	}

	returns := formulas.CalculateReturns(closes)
	want := formulas.PopulationVariance(returns)

	got, err := tr.Value()
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func TestBetaTracer_RequiresBind(t *testing.T) {
	a := newTestAsset(t, 0)
	tr := NewBetaTracer(Close, Close, 2)
	a.AttachTracer(tr)
	a.Step()
	a.Step()
	a.Step()
	_, err := tr.Value()
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrNotReady))
}

func TestBetaTracer_PerfectCorrelationIsOne(t *testing.T) {
	idx := New("idx", 0, zerolog.Nop())
	idx.LoadHeaders([]string{Close})
	closes := []float64{100, 102, 101, 104, 103}
	rows := make([][]float64, len(closes))
	ts := make([]int64, len(closes))
	for i, c := range closes {
		rows[i] = []float64{c}
		ts[i] = int64(i)
	}
	require.NoError(t, idx.LoadData(rows, ts, true))

	a := New("same", 0, zerolog.Nop())
	a.LoadHeaders([]string{Close})
	require.NoError(t, a.LoadData(rows, ts, true))

	tr := NewBetaTracer(Close, Close, 4)
	tr.Bind(idx)
	a.AttachTracer(tr)

	for range closes {
		idx.Step()
		a.Step()
	}
	v, err := tr.Value()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestBetaTracer_MatchesFormulasCovarianceOverVariance(t *testing.T) {
	idxCloses := []float64{100, 102, 101, 104, 108}
	aCloses := []float64{50, 49, 51, 47, 44}

	idx := New("idx", 0, zerolog.Nop())
	idx.LoadHeaders([]string{Close})
	rows := make([][]float64, len(idxCloses))
	ts := make([]int64, len(idxCloses))
	for i, c := range idxCloses {
		rows[i] = []float64{c}
		ts[i] = int64(i)
	}
	require.NoError(t, idx.LoadData(rows, ts, true))

	a := New("test1", 0, zerolog.Nop())
	a.LoadHeaders([]string{Close})
	aRows := make([][]float64, len(aCloses))
	for i, c := range aCloses {
		aRows[i] = []float64{c}
	}
	require.NoError(t, a.LoadData(aRows, ts, true))

	tr := NewBetaTracer(Close, Close, 4)
	tr.Bind(idx)
	a.AttachTracer(tr)
	for range idxCloses {
		idx.Step()
		a.Step()
	}

	got, err := tr.Value()
	require.NoError(t, err)

	idxReturns := formulas.CalculateReturns(idxCloses)
	aReturns := formulas.CalculateReturns(aCloses)
	want := formulas.Covariance(aReturns, idxReturns) / formulas.Variance(idxReturns)
	// The tracer uses population moments (divide by n), formulas.Covariance/
	// Variance use the sample form (divide by n-1); both forms' n-1 factors
	// cancel in the ratio, so the two should agree.
	assert.InDelta(t, want, got, 1e-9)
}
