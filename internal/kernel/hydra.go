// Package kernel implements Hydra, the simulation loop described in
// spec.md §5: a global clock merged across every registered exchange,
// stepped forward in two phases (open, close) per tick, dispatching
// strategy callbacks and flushing broker matches at the right points.
// The name and lifecycle (Build/Run/Reset) are grounded on
// original_source Hal.py/test_hal.py.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aristath/backtest/internal/broker"
	"github.com/aristath/backtest/internal/bterr"
	"github.com/aristath/backtest/internal/exchange"
	"github.com/aristath/backtest/internal/portfolio"
	"github.com/aristath/backtest/internal/strategy"
	"github.com/rs/zerolog"
)

// Hydra owns every exchange, broker, and portfolio in a single backtest
// run, and drives them forward in lockstep against a merged global
// clock.
type Hydra struct {
	exchanges   map[string]*exchange.Exchange
	exchangeIDs []string
	brokers     map[string]*broker.Broker

	market *portfolio.Market
	master *portfolio.Portfolio

	registry       *strategy.Registry
	stratPortfolio map[string]*portfolio.Portfolio

	globalIndex []int64
	current     int
	built       bool

	debugInvariants bool

	log zerolog.Logger
}

// New returns an empty Hydra.
func New(log zerolog.Logger) *Hydra {
	return &Hydra{
		exchanges:      make(map[string]*exchange.Exchange),
		brokers:        make(map[string]*broker.Broker),
		market:         portfolio.NewMarket(),
		registry:       strategy.NewRegistry(),
		stratPortfolio: make(map[string]*portfolio.Portfolio),
		current:        -1,
		log:            log.With().Str("component", "hydra").Logger(),
	}
}

// Market returns the routing/pricing surface shared by every portfolio
// node in this run. A master (and any children) must be constructed
// with this Market.
func (h *Hydra) Market() *portfolio.Market { return h.market }

// Master returns the root portfolio, once set.
func (h *Hydra) Master() *portfolio.Portfolio { return h.master }

// SetDebugInvariants enables a CheckInvariants pass after every
// evaluation point. Intended for tests; expensive on large trees.
func (h *Hydra) SetDebugInvariants(enabled bool) { h.debugInvariants = enabled }

// AddExchange registers an unbuilt exchange. Must be called before
// Build.
func (h *Hydra) AddExchange(ex *exchange.Exchange) error {
	if h.built {
		return bterr.ErrAlreadyBuilt
	}
	if _, exists := h.exchanges[ex.ID()]; exists {
		return fmt.Errorf("%w: exchange %q", bterr.ErrDuplicateID, ex.ID())
	}
	h.exchanges[ex.ID()] = ex
	h.market.RegisterExchange(ex)
	return nil
}

// AddBroker registers a broker. Must be called before Build.
func (h *Hydra) AddBroker(b *broker.Broker) error {
	if h.built {
		return bterr.ErrAlreadyBuilt
	}
	if _, exists := h.brokers[b.ID()]; exists {
		return fmt.Errorf("%w: broker %q", bterr.ErrDuplicateID, b.ID())
	}
	h.brokers[b.ID()] = b
	h.market.RegisterBroker(b)
	return nil
}

// RegisterAsset binds an asset id to the exchange and broker that own
// it, so order routing and price lookups can resolve it.
func (h *Hydra) RegisterAsset(assetID, exchangeID, brokerID string) error {
	return h.market.RegisterAsset(assetID, exchangeID, brokerID)
}

// SetMaster installs the root portfolio for this run. p must have been
// constructed with this Hydra's Market.
func (h *Hydra) SetMaster(p *portfolio.Portfolio) error {
	if h.built {
		return bterr.ErrAlreadyBuilt
	}
	h.master = p
	return nil
}

// RegisterStrategy adds s to the run, bound to portfolio p for order
// placement. Rejected once Build has been called
// (SPEC_FULL.md §13(a)).
func (h *Hydra) RegisterStrategy(s strategy.Strategy, p *portfolio.Portfolio) error {
	if p == nil {
		return fmt.Errorf("%w: strategy %q has no portfolio", bterr.ErrInvalidStrategy, s.ID())
	}
	if err := h.registry.Register(s); err != nil {
		return err
	}
	h.stratPortfolio[s.ID()] = p
	return nil
}

func (h *Hydra) contextFor(s strategy.Strategy) strategy.Context {
	return strategy.Context{
		Portfolio: h.stratPortfolio[s.ID()],
		Exchanges: h.exchanges,
		Step:      h.current,
	}
}

func (h *Hydra) sortedBrokerIDs() []string {
	ids := make([]string, 0, len(h.brokers))
	for id := range h.brokers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// allActiveAssetsWarm reports whether every asset currently active on
// every registered exchange has advanced past its warmup row count.
// Strategy callbacks are withheld for the step while any active asset
// is still warming up (spec.md §3/GLOSSARY "Warmup"); tracers keep
// observing warmup rows regardless, since asset.Step is unconditional.
func (h *Hydra) allActiveAssetsWarm() bool {
	for _, id := range h.exchangeIDs {
		ex := h.exchanges[id]
		if ex.CurrentIndex() < 0 {
			continue // not ticked yet: no active assets
		}
		for _, assetID := range ex.ActiveAssetIDs() {
			a, err := ex.GetAsset(assetID)
			if err != nil {
				continue
			}
			if !a.IsWarm() {
				return false
			}
		}
	}
	return true
}

// Build finalizes every exchange, computes the merged global clock,
// wires every broker to every exchange, freezes the strategy registry,
// and runs each strategy's one-time Build hook.
func (h *Hydra) Build() error {
	if h.built {
		return bterr.ErrAlreadyBuilt
	}
	if h.master == nil {
		return fmt.Errorf("%w: hydra has no master portfolio", bterr.ErrUnknownPortfolio)
	}

	ids := make([]string, 0, len(h.exchanges))
	for id := range h.exchanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := h.exchanges[id].Build(); err != nil {
			return fmt.Errorf("exchange %q: %w", id, err)
		}
	}
	h.exchangeIDs = ids

	for _, bid := range h.sortedBrokerIDs() {
		for _, id := range ids {
			h.brokers[bid].RegisterExchange(h.exchanges[id])
		}
	}

	seen := make(map[int64]struct{})
	for _, id := range ids {
		for _, ts := range h.exchanges[id].MergedIndex() {
			seen[ts] = struct{}{}
		}
	}
	merged := make([]int64, 0, len(seen))
	for ts := range seen {
		merged = append(merged, ts)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	h.globalIndex = merged

	h.registry.Freeze()
	if err := h.registry.Build(h.contextFor); err != nil {
		return err
	}

	h.built = true
	h.current = -1
	return nil
}

// CurrentTimestamp returns the timestamp of the current global tick.
func (h *Hydra) CurrentTimestamp() (int64, error) {
	if h.current < 0 || h.current >= len(h.globalIndex) {
		return 0, bterr.ErrOutOfRange
	}
	return h.globalIndex[h.current], nil
}

// Step advances the global clock by one tick and runs the full
// open/close matching-and-evaluation cycle of spec.md §5. Returns io.EOF
// once the merged global clock is exhausted.
func (h *Hydra) Step() error {
	if !h.built {
		return bterr.ErrNotBuilt
	}
	next := h.current + 1
	if next >= len(h.globalIndex) {
		return io.EOF
	}
	h.current = next
	ts := h.globalIndex[h.current]
	h.market.SetStep(h.current)

	for _, id := range h.exchangeIDs {
		ex := h.exchanges[id]
		mi := ex.MergedIndex()
		ci := ex.CurrentIndex()
		if ci+1 < len(mi) && mi[ci+1] == ts {
			if err := ex.Step(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
		}
	}

	warm := h.allActiveAssetsWarm()

	h.market.SetPhase(broker.PhaseOpen)
	for _, id := range h.sortedBrokerIDs() {
		h.brokers[id].FlushOpen()
	}
	if warm {
		if err := h.registry.DispatchOpen(h.contextFor); err != nil {
			return err
		}
	}
	h.master.Evaluate(ts)
	if h.debugInvariants {
		if err := portfolio.CheckInvariants(h.master); err != nil {
			return err
		}
	}

	h.market.SetPhase(broker.PhaseClose)
	if warm {
		if err := h.registry.DispatchClose(h.contextFor); err != nil {
			return err
		}
	}
	h.master.Evaluate(ts)
	if h.debugInvariants {
		if err := portfolio.CheckInvariants(h.master); err != nil {
			return err
		}
	}

	for _, id := range h.sortedBrokerIDs() {
		h.brokers[id].ExpirySweep(h.current)
	}
	return nil
}

// Run steps until the global clock is exhausted.
func (h *Hydra) Run() error {
	for {
		if err := h.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// RunSteps steps at most n times, stopping early if the clock is
// exhausted first.
func (h *Hydra) RunSteps(n int) error {
	for i := 0; i < n; i++ {
		if err := h.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

// GotoDatetime replays steps, in order, up to (not including) the first
// step whose timestamp is at or after t, per SPEC_FULL.md §12. Timestamps
// are interpreted as Unix nanoseconds, matching the representation
// produced by internal/loader.
func (h *Hydra) GotoDatetime(t time.Time) error {
	target := t.UnixNano()
	for {
		next := h.current + 1
		if next >= len(h.globalIndex) {
			return nil
		}
		if h.globalIndex[next] >= target {
			return nil
		}
		if err := h.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// RunTo replays steps, in order, up to and including the last step
// whose timestamp does not exceed t: the run(to) operation, see
// DESIGN.md Open Question decision (d). Unlike GotoDatetime, a step timestamped exactly t is
// processed: RunTo stops only before the first step whose timestamp is
// strictly greater than t.
func (h *Hydra) RunTo(t time.Time) error {
	target := t.UnixNano()
	for {
		next := h.current + 1
		if next >= len(h.globalIndex) {
			return nil
		}
		if h.globalIndex[next] > target {
			return nil
		}
		if err := h.Step(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Reset returns every exchange and the portfolio tree to their
// post-Build initial state, without discarding strategy registration.
func (h *Hydra) Reset() {
	for _, id := range h.exchangeIDs {
		h.exchanges[id].Reset()
	}
	h.master.Reset()
	h.current = -1
}
