// Package loader converts externally sourced price data into the
// internal asset/exchange model, the way
// trader/internal/clients/yahoo/native_client.go converts a third-party
// client's response shape into the domain model: it never mutates the
// caller's data, only copies from it (spec.md §9 Design Notes).
package loader

import (
	"fmt"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/exchange"
	"github.com/rs/zerolog"
)

// Frame is a caller-owned columnar price series for a single asset:
// parallel Timestamps and Rows, with Rows[i] holding one value per
// Columns entry at Timestamps[i]. Timestamps must already be strictly
// increasing (spec.md §3); LoadAsset rejects them otherwise.
type Frame struct {
	AssetID    string
	Columns    []string
	Timestamps []int64
	Rows       [][]float64
}

// LoadAsset converts f into an asset.Asset, copying every slice so later
// mutation of the caller's Frame cannot affect the simulation.
func LoadAsset(f Frame, warmup int, log zerolog.Logger) (*asset.Asset, error) {
	a := asset.New(f.AssetID, warmup, log)
	a.LoadHeaders(append([]string(nil), f.Columns...))

	rows := make([][]float64, len(f.Rows))
	for i, r := range f.Rows {
		rows[i] = append([]float64(nil), r...)
	}
	ts := append([]int64(nil), f.Timestamps...)

	if err := a.LoadData(rows, ts, false); err != nil {
		return nil, fmt.Errorf("loader: asset %q: %w", f.AssetID, err)
	}
	return a, nil
}

// LoadExchange converts a batch of Frames into a single Exchange,
// failing on the first Frame that cannot be converted or added.
func LoadExchange(exchangeID string, frames []Frame, warmup int, log zerolog.Logger) (*exchange.Exchange, error) {
	ex := exchange.New(exchangeID, log)
	for _, f := range frames {
		a, err := LoadAsset(f, warmup, log)
		if err != nil {
			return nil, err
		}
		if err := ex.AddAsset(a); err != nil {
			return nil, fmt.Errorf("loader: exchange %q: %w", exchangeID, err)
		}
	}
	return ex, nil
}
