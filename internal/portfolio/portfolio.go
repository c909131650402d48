package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/backtest/internal/broker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TargetType selects how OrderTargetSize interprets its target argument.
type TargetType int

const (
	TargetUnits TargetType = iota
	TargetDollars
	TargetPct
)

// Portfolio is one node of the hierarchical position/cash tree. Every
// fill applied to a leaf propagates upward through Parent so an
// ancestor's Cash/Positions are always the literal sum of its subtree
// (spec.md §3/§4.4), mirroring the PortfolioService/Position shape of
// trader/internal/modules/portfolio/models.go and service.go.
type Portfolio struct {
	id       string
	parent   *Portfolio
	children []*Portfolio

	cash        float64
	initialCash float64
	positions   map[string]*Position

	market      *Market
	valueTracer *ValueTracer
	eventTracer *EventTracer

	nextTradeID *int64

	log zerolog.Logger
}

// NewMaster creates the root of a portfolio tree.
func NewMaster(id string, cash float64, market *Market, log zerolog.Logger) *Portfolio {
	var counter int64
	return &Portfolio{
		id:          id,
		cash:        cash,
		initialCash: cash,
		positions:   make(map[string]*Position),
		market:      market,
		valueTracer: newValueTracer(),
		eventTracer: newEventTracer(),
		nextTradeID: &counter,
		log:         log.With().Str("portfolio", id).Logger(),
	}
}

// NewChild creates a child portfolio under p, sharing the market
// reference and the tree-wide trade id counter.
func (p *Portfolio) NewChild(id string, cash float64) *Portfolio {
	child := &Portfolio{
		id:          id,
		parent:      p,
		cash:        cash,
		initialCash: cash,
		positions:   make(map[string]*Position),
		market:      p.market,
		valueTracer: newValueTracer(),
		eventTracer: newEventTracer(),
		nextTradeID: p.nextTradeID,
		log:         p.log.With().Str("portfolio", id).Logger(),
	}
	p.children = append(p.children, child)
	return child
}

// ID returns the portfolio's identifier.
func (p *Portfolio) ID() string { return p.id }

// Parent returns the portfolio's parent, or nil for the master.
func (p *Portfolio) Parent() *Portfolio { return p.parent }

// Children returns the portfolio's direct children.
func (p *Portfolio) Children() []*Portfolio { return p.children }

// Cash returns the portfolio's current cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// GetPosition returns the position for assetID, if one is currently
// open. A closed position (net units zero) is removed from the map, so
// absence means flat, per spec.md §3.
func (p *Portfolio) GetPosition(assetID string) (*Position, bool) {
	pos, ok := p.positions[assetID]
	return pos, ok
}

// Positions returns every currently open position.
func (p *Portfolio) Positions() map[string]*Position { return p.positions }

// NLV returns net liquidation value: cash plus the mark-to-market value
// of every open position.
func (p *Portfolio) NLV() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// ValueHistory returns this node's VALUE tracer snapshots.
func (p *Portfolio) ValueHistory() []ValueSnapshot { return p.valueTracer.History() }

// Events returns this node's EVENT tracer log.
func (p *Portfolio) Events() []OrderEvent { return p.eventTracer.Events() }

func (p *Portfolio) nextTradeIDValue() int64 {
	*p.nextTradeID++
	return *p.nextTradeID
}

// ApplyFill implements broker.FillSink. It updates this node's position
// and cash, then propagates the same (units, price) fill up the tree so
// every ancestor's aggregate state stays exact, chaining ParentTradeID
// through each level per spec.md §3.
func (p *Portfolio) ApplyFill(assetID string, units, price float64, fillTime int64, strategyID string, orderID int64) int64 {
	tradeID := p.nextTradeIDValue()
	p.applyFillLocal(assetID, units, price, fillTime, strategyID, orderID, tradeID, 0)

	parentTradeID := tradeID
	for anc := p.parent; anc != nil; anc = anc.parent {
		ancTradeID := anc.nextTradeIDValue()
		anc.applyFillLocal(assetID, units, price, fillTime, strategyID, orderID, ancTradeID, parentTradeID)
		parentTradeID = ancTradeID
	}
	return tradeID
}

func (p *Portfolio) applyFillLocal(assetID string, units, price float64, fillTime int64, strategyID string, orderID, tradeID, parentTradeID int64) {
	pos, ok := p.positions[assetID]
	if !ok {
		pos = &Position{AssetID: assetID, LastPrice: price}
		p.positions[assetID] = pos
	}
	trade := Trade{
		TradeID:       tradeID,
		AssetID:       assetID,
		Units:         units,
		FillPrice:     price,
		FillTime:      fillTime,
		StrategyID:    strategyID,
		OrderID:       orderID,
		ParentTradeID: parentTradeID,
	}
	pos.ApplyFill(units, price, trade)
	pos.LastPrice = price
	p.cash -= units * price
	if pos.IsFlat() {
		delete(p.positions, assetID)
	}
}

// RecordOrderEvent implements broker.FillSink. It appends the event to
// this node's EVENT tracer and every ancestor's, so a rejection or
// cancellation is visible from wherever in the tree it is queried.
func (p *Portfolio) RecordOrderEvent(eventType broker.EventType, o broker.Order, reason broker.RejectReason, ts int64) {
	ev := OrderEvent{
		Type:       eventType,
		Timestamp:  ts,
		OrderID:    o.OrderID,
		AssetID:    o.AssetID,
		Units:      o.Units,
		StrategyID: o.StrategyID,
		Reason:     reason,
	}
	for n := p; n != nil; n = n.parent {
		n.eventTracer.append(ev)
	}
}

// Evaluate marks every open position to the current market price and
// takes a VALUE snapshot at ts, recursing into children.
func (p *Portfolio) Evaluate(ts int64) {
	for _, pos := range p.positions {
		if price, err := p.market.CurrentPrice(pos.AssetID); err == nil {
			pos.LastPrice = price
		}
	}
	p.valueTracer.snapshot(ts, p.NLV(), p.cash)
	for _, c := range p.children {
		c.Evaluate(ts)
	}
}

// PlaceMarketOrder submits a MARKET order for units of assetID,
// originating from this portfolio node.
func (p *Portfolio) PlaceMarketOrder(assetID string, units float64, strategyID string, execType broker.ExecType, limitSteps int) error {
	if units == 0 {
		return nil
	}
	o := &broker.Order{
		OrderID:       p.market.NextOrderID(),
		AssetID:       assetID,
		Units:         units,
		StrategyID:    strategyID,
		PortfolioID:   p.id,
		OrderType:     broker.Market,
		ExecutionType: execType,
		LimitSteps:    limitSteps,
		ClientRef:     uuid.NewString(),
		Origin:        p,
	}
	return p.market.SubmitOrder(o)
}

// OrderTargetSize submits whatever order is needed to bring this
// portfolio's holding of assetID to target, interpreted per targetType,
// skipping the order when |delta| / max(1, |desired|) is below epsilon
// (spec.md §4.5).
func (p *Portfolio) OrderTargetSize(assetID string, target float64, strategyID string, epsilon float64, targetType TargetType, execType broker.ExecType, limitSteps int) error {
	price, err := p.market.CurrentPrice(assetID)
	if err != nil {
		return err
	}

	var desired float64
	switch targetType {
	case TargetUnits:
		desired = target
	case TargetDollars:
		desired = target / price
	case TargetPct:
		desired = target * p.NLV() / price
	default:
		return fmt.Errorf("backtest: unknown target type %d", targetType)
	}

	current := 0.0
	if pos, ok := p.positions[assetID]; ok {
		current = pos.Units
	}
	delta := desired - current
	denom := math.Max(1, math.Abs(desired))
	if math.Abs(delta)/denom < epsilon {
		return nil
	}
	return p.PlaceMarketOrder(assetID, delta, strategyID, execType, limitSteps)
}

// OrderTargetAllocations submits the orders needed to bring every named
// asset to its target, plus an implicit zero target for any currently
// held asset absent from targets (closing it out), in deterministic
// asset-id lexicographic order (spec.md §4.5).
func (p *Portfolio) OrderTargetAllocations(targets map[string]float64, strategyID string, epsilon float64, targetType TargetType, execType broker.ExecType, limitSteps int) error {
	all := make(map[string]float64, len(targets))
	for k, v := range targets {
		all[k] = v
	}
	for assetID := range p.positions {
		if _, ok := all[assetID]; !ok {
			all[assetID] = 0
		}
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := p.OrderTargetSize(id, all[id], strategyID, epsilon, targetType, execType, limitSteps); err != nil {
			return err
		}
	}
	return nil
}

// ClosePosition submits whatever order flattens this portfolio's holding
// of assetID.
func (p *Portfolio) ClosePosition(assetID string, strategyID string, execType broker.ExecType, limitSteps int) error {
	return p.OrderTargetSize(assetID, 0, strategyID, 0, TargetUnits, execType, limitSteps)
}

// Reset returns the portfolio subtree to its post-construction state:
// initial cash, no positions, empty tracers. On the master it also
// restarts the tree-wide trade id counter and the shared Market's order
// id counter, phase and step, so a replay assigns the same ids.
func (p *Portfolio) Reset() {
	p.cash = p.initialCash
	p.positions = make(map[string]*Position)
	p.valueTracer.reset()
	p.eventTracer.reset()
	if p.parent == nil {
		*p.nextTradeID = 0
		p.market.nextOrder = 0
		p.market.phase = broker.PhaseNone
		p.market.step = 0
	}
	for _, c := range p.children {
		c.Reset()
	}
}
