package loader

import (
	"testing"

	"github.com/aristath/backtest/internal/asset"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAsset_CopiesInput(t *testing.T) {
	rows := [][]float64{{100, 101}, {102, 103}}
	ts := []int64{1, 2}
	f := Frame{AssetID: "test1", Columns: []string{asset.Open, asset.Close}, Timestamps: ts, Rows: rows}

	a, err := LoadAsset(f, 0, zerolog.Nop())
	require.NoError(t, err)

	rows[0][0] = 999
	ts[0] = 999

	a.Step()
	v, err := a.Get(asset.Open, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v, "mutating the caller's Frame after loading must not affect the asset")
}

func TestLoadAsset_PropagatesValidationError(t *testing.T) {
	f := Frame{AssetID: "bad", Columns: []string{asset.Open}, Timestamps: []int64{2, 1}, Rows: [][]float64{{1}, {2}}}
	_, err := LoadAsset(f, 0, zerolog.Nop())
	require.Error(t, err)
}

func TestLoadExchange_AddsEveryFrame(t *testing.T) {
	frames := []Frame{
		{AssetID: "a", Columns: []string{asset.Close}, Timestamps: []int64{1}, Rows: [][]float64{{10}}},
		{AssetID: "b", Columns: []string{asset.Close}, Timestamps: []int64{1}, Rows: [][]float64{{20}}},
	}
	ex, err := LoadExchange("ex1", frames, 0, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ex.Build())
	_, err = ex.GetAsset("a")
	require.NoError(t, err)
	_, err = ex.GetAsset("b")
	require.NoError(t, err)
}
