package portfolio

import (
	"fmt"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/broker"
	"github.com/aristath/backtest/internal/bterr"
	"github.com/aristath/backtest/internal/exchange"
)

type assetRoute struct {
	ExchangeID string
	BrokerID   string
}

// Market is the shared routing/pricing surface every Portfolio node
// holds a reference to. It decouples Portfolio from kernel.Hydra: the
// kernel owns and mutates a single Market as it advances the clock, and
// every portfolio in the tree reads through the same pointer, the way
// trader/internal/modules/portfolio/service.go depends on collaborators
// through narrow interfaces rather than the whole service graph.
type Market struct {
	exchanges map[string]*exchange.Exchange
	brokers   map[string]*broker.Broker
	routing   map[string]assetRoute
	phase     broker.Phase
	step      int
	nextOrder int64
}

// NewMarket returns an empty Market.
func NewMarket() *Market {
	return &Market{
		exchanges: make(map[string]*exchange.Exchange),
		brokers:   make(map[string]*broker.Broker),
		routing:   make(map[string]assetRoute),
	}
}

// RegisterExchange makes ex reachable for price lookups.
func (m *Market) RegisterExchange(ex *exchange.Exchange) { m.exchanges[ex.ID()] = ex }

// RegisterBroker makes b reachable for order submission.
func (m *Market) RegisterBroker(b *broker.Broker) { m.brokers[b.ID()] = b }

// RegisterAsset binds an asset id to the exchange and broker that own it.
func (m *Market) RegisterAsset(assetID, exchangeID, brokerID string) error {
	if _, ok := m.exchanges[exchangeID]; !ok {
		return fmt.Errorf("%w: exchange %q", bterr.ErrUnknownAsset, exchangeID)
	}
	if _, ok := m.brokers[brokerID]; !ok {
		return fmt.Errorf("%w: broker %q", bterr.ErrUnknownAsset, brokerID)
	}
	m.routing[assetID] = assetRoute{ExchangeID: exchangeID, BrokerID: brokerID}
	return nil
}

// SetPhase records which matching phase is currently active, controlling
// which price column CurrentPrice and new order submissions use.
func (m *Market) SetPhase(p broker.Phase) { m.phase = p }

// Phase returns the active matching phase.
func (m *Market) Phase() broker.Phase { return m.phase }

// SetStep records the kernel's current global tick index, stamped onto
// every order submitted from this point on so expiry sweeps can measure
// elapsed steps.
func (m *Market) SetStep(step int) { m.step = step }

// NextOrderID returns the id to assign the next order submitted through
// this market, shared across every broker registered to it.
func (m *Market) NextOrderID() int64 {
	m.nextOrder++
	return m.nextOrder
}

// CurrentPrice returns the phase-appropriate price for assetID.
func (m *Market) CurrentPrice(assetID string) (float64, error) {
	route, ok := m.routing[assetID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", bterr.ErrUnknownAsset, assetID)
	}
	ex, ok := m.exchanges[route.ExchangeID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", bterr.ErrUnknownAsset, route.ExchangeID)
	}
	column := asset.Open
	if m.phase == broker.PhaseClose {
		column = asset.Close
	}
	return ex.GetAssetFeature(assetID, column, 0)
}

// SubmitOrder routes o to the broker that owns its asset, stamping the
// exchange/broker ids the broker needs to resolve a price.
func (m *Market) SubmitOrder(o *broker.Order) error {
	route, ok := m.routing[o.AssetID]
	if !ok {
		return fmt.Errorf("%w: %q", bterr.ErrUnknownAsset, o.AssetID)
	}
	b, ok := m.brokers[route.BrokerID]
	if !ok {
		return fmt.Errorf("%w: %q", bterr.ErrUnknownAsset, route.BrokerID)
	}
	o.ExchangeID = route.ExchangeID
	o.BrokerID = route.BrokerID
	o.SubmittedStep = m.step
	b.Submit(o, m.phase)
	return nil
}
