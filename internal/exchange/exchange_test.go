package exchange

import (
	"errors"
	"io"
	"testing"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/bterr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAsset(t *testing.T, id string, ts []int64, closes []float64) *asset.Asset {
	t.Helper()
	a := asset.New(id, 0, zerolog.Nop())
	a.LoadHeaders([]string{asset.Open, asset.Close})
	rows := make([][]float64, len(ts))
	for i, c := range closes {
		rows[i] = []float64{c, c}
	}
	require.NoError(t, a.LoadData(rows, ts, true))
	return a
}

func TestBuild_MergedIndexAndActiveSets(t *testing.T) {
	a1 := buildAsset(t, "test1", []int64{1, 2, 4}, []float64{10, 11, 12})
	a2 := buildAsset(t, "test2", []int64{2, 3, 4}, []float64{20, 21, 22})

	e := New("e1", zerolog.Nop())
	require.NoError(t, e.AddAsset(a1))
	require.NoError(t, e.AddAsset(a2))
	require.NoError(t, e.Build())

	assert.Equal(t, []int64{1, 2, 3, 4}, e.MergedIndex())

	require.NoError(t, e.Step())
	assert.ElementsMatch(t, []string{"test1"}, e.ActiveAssetIDs())
	assert.True(t, e.IsActive("test1"))
	assert.False(t, e.IsActive("test2"))

	require.NoError(t, e.Step())
	assert.ElementsMatch(t, []string{"test1", "test2"}, e.ActiveAssetIDs())

	require.NoError(t, e.Step())
	assert.ElementsMatch(t, []string{"test2"}, e.ActiveAssetIDs())

	require.NoError(t, e.Step())
	assert.ElementsMatch(t, []string{"test1", "test2"}, e.ActiveAssetIDs())

	err := e.Step()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGetExchangeFeature_NLargestTiebreak(t *testing.T) {
	a1 := buildAsset(t, "aaa", []int64{1}, []float64{5})
	a2 := buildAsset(t, "bbb", []int64{1}, []float64{5})
	a3 := buildAsset(t, "ccc", []int64{1}, []float64{7})

	e := New("e1", zerolog.Nop())
	require.NoError(t, e.AddAsset(a1))
	require.NoError(t, e.AddAsset(a2))
	require.NoError(t, e.AddAsset(a3))
	require.NoError(t, e.Build())
	require.NoError(t, e.Step())

	top, err := e.GetExchangeFeature(asset.Close, 0, QueryNLargest, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "ccc", top[0].AssetID)
	assert.Equal(t, "aaa", top[1].AssetID, "tie broken lexicographically")
}

func TestGetAssetFeature_UnknownAsset(t *testing.T) {
	e := New("e1", zerolog.Nop())
	require.NoError(t, e.Build())
	_, err := e.GetAssetFeature("nope", asset.Close, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bterr.ErrUnknownAsset))
}

func TestSetIndexAsset_BindsBeta(t *testing.T) {
	idx := buildAsset(t, "idx", []int64{1, 2, 3}, []float64{100, 101, 102})
	a1 := buildAsset(t, "test1", []int64{1, 2, 3}, []float64{10, 11, 12})

	e := New("e1", zerolog.Nop())
	require.NoError(t, e.AddAsset(idx))
	require.NoError(t, e.AddAsset(a1))

	tr := asset.NewBetaTracer(asset.Close, asset.Close, 2)
	require.NoError(t, e.AttachBetaTracer("test1", tr))
	require.NoError(t, e.SetIndexAsset("idx"))
	require.NoError(t, e.Build())

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Step())
	}
	v, err := tr.Value()
	require.NoError(t, err)
	// Two returns each: test1 (0.1, 1/11) against idx (0.01, 1/101), so
	// beta is the ratio of their differences, (1/110)/(1/10100) = 1010/11.
	assert.InDelta(t, 1010.0/11, v, 1e-9)
}

func TestReset(t *testing.T) {
	a1 := buildAsset(t, "test1", []int64{1, 2}, []float64{10, 11})
	e := New("e1", zerolog.Nop())
	require.NoError(t, e.AddAsset(a1))
	require.NoError(t, e.Build())
	require.NoError(t, e.Step())
	require.NoError(t, e.Step())
	assert.Equal(t, 1, e.CurrentIndex())

	e.Reset()
	assert.Equal(t, -1, e.CurrentIndex())
	a, _ := e.GetAsset("test1")
	assert.Equal(t, -1, a.CurrentIndex())
}
