// Package exchange groups one or more assets under a trading venue and
// maintains the merged datetime index described in spec.md §3/§4.2: the
// sorted union of every member asset's own timestamps, plus the
// active-asset subset precomputed for each tick.
package exchange

import (
	"fmt"
	"io"
	"sort"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/bterr"
	"github.com/rs/zerolog"
)

// QueryType selects how GetExchangeFeature reduces the active set.
type QueryType int

const (
	QueryAll QueryType = iota
	QueryNLargest
	QueryNSmallest
)

// AssetValue pairs an asset id with an observed feature value.
type AssetValue struct {
	AssetID string
	Value   float64
}

// Exchange owns a set of assets and the merged index over their
// timestamps. Exclusively owned by a kernel.Hydra; holds exclusive
// ownership of its Assets.
type Exchange struct {
	id     string
	assets map[string]*asset.Asset

	assetIDs    []string // sorted, fixed after Build
	mergedIndex []int64
	activeSets  [][]string
	activeMap   map[string]bool
	current     int // -1 before first tick

	indexAssetID string
	indexAsset   *asset.Asset
	pendingBeta  []*asset.BetaTracer

	built bool
	log   zerolog.Logger
}

// New creates an empty exchange identified by id.
func New(id string, log zerolog.Logger) *Exchange {
	return &Exchange{
		id:      id,
		assets:  make(map[string]*asset.Asset),
		current: -1,
		log:     log.With().Str("exchange", id).Logger(),
	}
}

// ID returns the exchange's identifier.
func (e *Exchange) ID() string { return e.id }

// AddAsset registers an asset with this exchange. Must be called before
// Build.
func (e *Exchange) AddAsset(a *asset.Asset) error {
	if e.built {
		return bterr.ErrAlreadyBuilt
	}
	if _, exists := e.assets[a.ID()]; exists {
		return fmt.Errorf("%w: asset %q on exchange %q", bterr.ErrDuplicateID, a.ID(), e.id)
	}
	e.assets[a.ID()] = a
	return nil
}

// GetAsset resolves an asset by id.
func (e *Exchange) GetAsset(id string) (*asset.Asset, error) {
	a, ok := e.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q on exchange %q", bterr.ErrUnknownAsset, id, e.id)
	}
	return a, nil
}

// SetIndexAsset designates the member asset used as the market reference
// for BETA tracers, and binds any tracer already registered via
// AttachBetaTracer.
func (e *Exchange) SetIndexAsset(id string) error {
	a, err := e.GetAsset(id)
	if err != nil {
		return err
	}
	e.indexAssetID = id
	e.indexAsset = a
	for _, t := range e.pendingBeta {
		t.Bind(a)
	}
	e.pendingBeta = nil
	return nil
}

// AttachBetaTracer attaches a BETA tracer to the named asset, binding it
// to the exchange's index asset immediately if already known, or queuing
// the bind for when SetIndexAsset is called.
func (e *Exchange) AttachBetaTracer(assetID string, t *asset.BetaTracer) error {
	a, err := e.GetAsset(assetID)
	if err != nil {
		return err
	}
	a.AttachTracer(t)
	if e.indexAsset != nil {
		t.Bind(e.indexAsset)
	} else {
		e.pendingBeta = append(e.pendingBeta, t)
	}
	return nil
}

// Build computes the sorted union of every member asset's timestamps and
// precomputes, for each merged tick, the active-asset subset.
func (e *Exchange) Build() error {
	if e.built {
		return bterr.ErrAlreadyBuilt
	}
	ids := make([]string, 0, len(e.assets))
	for id := range e.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	e.assetIDs = ids

	seen := make(map[int64]struct{})
	for _, id := range ids {
		for _, ts := range e.assets[id].Timestamps() {
			seen[ts] = struct{}{}
		}
	}
	merged := make([]int64, 0, len(seen))
	for ts := range seen {
		merged = append(merged, ts)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	e.mergedIndex = merged

	ptrs := make(map[string]int, len(ids))
	e.activeSets = make([][]string, len(merged))
	for i, ts := range merged {
		var active []string
		for _, id := range ids {
			a := e.assets[id]
			p := ptrs[id]
			if p < a.Len() && a.Timestamps()[p] == ts {
				active = append(active, id)
				ptrs[id] = p + 1
			}
		}
		e.activeSets[i] = active
	}
	e.current = -1
	e.built = true
	return nil
}

// MergedIndex returns the exchange's merged datetime index.
func (e *Exchange) MergedIndex() []int64 { return e.mergedIndex }

// CurrentIndex returns the exchange's cursor into its merged index.
func (e *Exchange) CurrentIndex() int { return e.current }

// CurrentTimestamp returns the timestamp of the current tick.
func (e *Exchange) CurrentTimestamp() (int64, error) {
	if e.current < 0 || e.current >= len(e.mergedIndex) {
		return 0, bterr.ErrOutOfRange
	}
	return e.mergedIndex[e.current], nil
}

// Step advances the exchange's cursor by one tick, stepping every asset
// active at the new tick and rebuilding the active-set lookup. Returns
// io.EOF once the merged index is exhausted.
func (e *Exchange) Step() error {
	if !e.built {
		return bterr.ErrNotBuilt
	}
	next := e.current + 1
	if next >= len(e.mergedIndex) {
		return io.EOF
	}
	e.current = next
	active := e.activeSets[e.current]
	e.activeMap = make(map[string]bool, len(active))
	for _, id := range active {
		e.assets[id].Step()
		e.activeMap[id] = true
	}
	return nil
}

// ActiveAssetIDs returns the asset ids active at the current tick.
func (e *Exchange) ActiveAssetIDs() []string {
	return append([]string(nil), e.activeSets[e.current]...)
}

// IsActive reports whether assetID has a row at the current tick.
func (e *Exchange) IsActive(assetID string) bool {
	return e.activeMap[assetID]
}

// Reset returns the exchange's cursor and every member asset to the
// post-build initial state.
func (e *Exchange) Reset() {
	e.current = -1
	e.activeMap = nil
	for _, id := range e.assetIDs {
		e.assets[id].Reset()
	}
}

// GetAssetFeature is a point lookup on a single asset's column.
func (e *Exchange) GetAssetFeature(assetID, column string, relativeRow int) (float64, error) {
	a, err := e.GetAsset(assetID)
	if err != nil {
		return 0, err
	}
	return a.Get(column, relativeRow)
}

// GetExchangeFeature performs a cross-sectional query over the active
// set. ALL returns every active asset's value; NLARGEST/NSMALLEST return
// the top/bottom n, tie-broken by ascending asset_id.
func (e *Exchange) GetExchangeFeature(column string, relativeRow int, q QueryType, n int) ([]AssetValue, error) {
	active := e.activeSets[e.current]
	out := make([]AssetValue, 0, len(active))
	for _, id := range active {
		v, err := e.assets[id].Get(column, relativeRow)
		if err != nil {
			return nil, err
		}
		out = append(out, AssetValue{AssetID: id, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })

	switch q {
	case QueryAll:
		return out, nil
	case QueryNLargest:
		sorted := append([]AssetValue(nil), out...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Value != sorted[j].Value {
				return sorted[i].Value > sorted[j].Value
			}
			return sorted[i].AssetID < sorted[j].AssetID
		})
		if n > len(sorted) {
			n = len(sorted)
		}
		return sorted[:n], nil
	case QueryNSmallest:
		sorted := append([]AssetValue(nil), out...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Value != sorted[j].Value {
				return sorted[i].Value < sorted[j].Value
			}
			return sorted[i].AssetID < sorted[j].AssetID
		})
		if n > len(sorted) {
			n = len(sorted)
		}
		return sorted[:n], nil
	default:
		return nil, fmt.Errorf("backtest: unknown query type %d", q)
	}
}
