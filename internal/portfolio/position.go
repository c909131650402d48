// Package portfolio implements the hierarchical position/cash tree
// described in spec.md §3/§4.4: every fill is applied at its originating
// node and propagated upward so that any ancestor's aggregate state is
// always the sum of its subtree, never a cache recomputed after the
// fact.
package portfolio

// Trade is an immutable record of a single fill applied to a Position.
// ParentTradeID links an ancestor's aggregate trade record back to the
// trade one level below it that caused it, per spec.md §3.
type Trade struct {
	TradeID       int64
	AssetID       string
	Units         float64
	FillPrice     float64
	FillTime      int64
	StrategyID    string
	OrderID       int64
	ParentTradeID int64
}

// Position is a single asset's holding within one portfolio node.
type Position struct {
	AssetID      string
	Units        float64
	AveragePrice float64
	LastPrice    float64
	RealizedPL   float64
	Trades       []Trade
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// ApplyFill folds a new (units, price) fill into the position using the
// open/add/reduce/flip rules of spec.md §4.4, appends the trade record,
// and returns the realized P/L produced by this fill (zero unless the
// fill closes or flips an existing position).
func (p *Position) ApplyFill(units, price float64, trade Trade) float64 {
	p.Trades = append(p.Trades, trade)

	if p.Units == 0 {
		p.Units = units
		p.AveragePrice = price
		return 0
	}

	if sign(p.Units) == sign(units) {
		newUnits := p.Units + units
		p.AveragePrice = (p.AveragePrice*p.Units + price*units) / newUnits
		p.Units = newUnits
		return 0
	}

	absIncoming := abs(units)
	absCurrent := abs(p.Units)
	side := sign(p.Units)

	if absIncoming <= absCurrent {
		closed := absIncoming
		realized := (price - p.AveragePrice) * closed * side
		p.Units += units
		p.RealizedPL += realized
		return realized
	}

	// Flip: incoming order fully closes the current side and opens the
	// remainder on the opposite side at the fill price.
	realized := (price - p.AveragePrice) * absCurrent * side
	p.RealizedPL += realized
	p.Units += units
	p.AveragePrice = price
	return realized
}

// IsFlat reports whether the position has zero net units.
func (p *Position) IsFlat() bool { return p.Units == 0 }

// UnrealizedPL returns mark-to-market P/L using LastPrice.
func (p *Position) UnrealizedPL() float64 {
	return (p.LastPrice - p.AveragePrice) * p.Units
}

// MarketValue returns the position's contribution to net liquidation
// value at LastPrice.
func (p *Position) MarketValue() float64 {
	return p.LastPrice * p.Units
}
