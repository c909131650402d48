package broker

import (
	"fmt"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/exchange"
	"github.com/rs/zerolog"
)

// Broker matches orders against one or more exchanges' current bars. It
// holds exclusive ownership of its pending-order queue but only a weak
// (non-owning) reference to the exchanges it routes to, mirroring the
// separation between trade execution and market data in
// trader/internal/modules/trading/service.go.
type Broker struct {
	id        string
	exchanges map[string]*exchange.Exchange

	lazyQueue []*Order
	nextID    int64

	log zerolog.Logger
}

// New creates an empty broker identified by id.
func New(id string, log zerolog.Logger) *Broker {
	return &Broker{
		id:        id,
		exchanges: make(map[string]*exchange.Exchange),
		log:       log.With().Str("broker", id).Logger(),
	}
}

// ID returns the broker's identifier.
func (b *Broker) ID() string { return b.id }

// RegisterExchange makes ex reachable for order matching by exchange id.
func (b *Broker) RegisterExchange(ex *exchange.Exchange) {
	b.exchanges[ex.ID()] = ex
}

// NextOrderID returns a fresh, monotonically increasing order id.
func (b *Broker) NextOrderID() int64 {
	b.nextID++
	return b.nextID
}

// Submit enqueues o for matching. An Eager order submitted during an
// active phase is matched synchronously; everything else (Lazy orders,
// or orders submitted outside a phase) waits for the next FlushOpen.
func (b *Broker) Submit(o *Order, phase Phase) {
	o.State = Pending
	o.RejectReason = RejectNone
	o.Origin.RecordOrderEvent(EventSubmitted, *o, RejectNone, b.currentTimestamp(o))

	if o.ExecutionType == Eager && phase != PhaseNone {
		b.attemptFill(o, phase)
		return
	}
	b.lazyQueue = append(b.lazyQueue, o)
}

// FlushOpen attempts to fill every queued order at the open-phase price.
// This is the only matching point a Lazy order is ever eligible for.
func (b *Broker) FlushOpen() {
	queue := b.lazyQueue
	b.lazyQueue = nil
	for _, o := range queue {
		if o.State != Pending {
			continue
		}
		b.attemptFill(o, PhaseOpen)
	}
}

// ExpirySweep cancels queued orders whose limit_steps deadline has
// elapsed as of currentStep.
func (b *Broker) ExpirySweep(currentStep int) {
	var kept []*Order
	for _, o := range b.lazyQueue {
		// LimitSteps == 0 expires on the very next sweep after
		// submission. spec.md §4.3 only defines expiry for
		// limit_steps > 0 (-1 = no expiry); 0 is unspecified input,
		// treated here as "expires immediately".
		if o.LimitSteps >= 0 && currentStep-o.SubmittedStep >= o.LimitSteps {
			o.State = Cancelled
			o.Origin.RecordOrderEvent(EventCancelled, *o, RejectNone, b.currentTimestamp(o))
			continue
		}
		kept = append(kept, o)
	}
	b.lazyQueue = kept
}

func (b *Broker) currentTimestamp(o *Order) int64 {
	ex, ok := b.exchanges[o.ExchangeID]
	if !ok {
		return 0
	}
	ts, err := ex.CurrentTimestamp()
	if err != nil {
		return 0
	}
	return ts
}

func (b *Broker) attemptFill(o *Order, phase Phase) {
	ex, ok := b.exchanges[o.ExchangeID]
	if !ok {
		b.reject(o, RejectInsufficientExch)
		return
	}
	a, err := ex.GetAsset(o.AssetID)
	if err != nil {
		b.reject(o, RejectUnknownAsset)
		return
	}
	if !ex.IsActive(o.AssetID) {
		b.reject(o, RejectAssetInactive)
		return
	}
	column := asset.Open
	if phase == PhaseClose {
		column = asset.Close
	}
	price, err := a.Get(column, 0)
	if err != nil {
		b.reject(o, RejectPriceUnavailable)
		return
	}
	ts, err := ex.CurrentTimestamp()
	if err != nil {
		b.reject(o, RejectPriceUnavailable)
		return
	}

	tradeID := o.Origin.ApplyFill(o.AssetID, o.Units, price, ts, o.StrategyID, o.OrderID)
	o.State = Filled
	o.FillTime = ts
	o.AveragePrice = price
	o.TradeID = tradeID
	o.Origin.RecordOrderEvent(EventFilled, *o, RejectNone, ts)
}

func (b *Broker) reject(o *Order, reason RejectReason) {
	o.State = Rejected
	o.RejectReason = reason
	o.Origin.RecordOrderEvent(EventRejected, *o, reason, b.currentTimestamp(o))
}

// String aids debugging/log output.
func (b *Broker) String() string {
	return fmt.Sprintf("broker(%s, pending=%d)", b.id, len(b.lazyQueue))
}
