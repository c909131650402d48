// Package broker implements order routing and matching against an
// exchange's current bar, per spec.md §3/§4.3. A Broker is stateless
// with respect to market data; it only owns the pending-order queue and
// a weak (non-owning) reference to the exchanges it may route to.
package broker

// OrderType enumerates supported order types. Only MARKET is implemented
// (spec.md §3).
type OrderType int

const (
	Market OrderType = iota
)

// ExecType controls when a submitted order is eligible to match.
type ExecType int

const (
	// Eager orders match immediately if submitted during an active
	// matching phase, otherwise at the next phase boundary.
	Eager ExecType = iota
	// Lazy orders always wait for the next open-phase sweep, even if
	// submitted during the current step's open phase.
	Lazy
)

// State is the observed lifecycle state of an Order.
type State int

const (
	Pending State = iota
	Filled
	Cancelled
	Rejected
)

// Phase identifies which sub-phase of the step a match is happening in,
// which in turn selects the fill-price column.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseOpen
	PhaseClose
)

// EventType enumerates order lifecycle transitions recorded on a
// portfolio's EVENT tracer.
type EventType string

const (
	EventSubmitted EventType = "SUBMITTED"
	EventFilled    EventType = "FILLED"
	EventCancelled EventType = "CANCELLED"
	EventRejected  EventType = "REJECTED"
)

// RejectReason explains why an order was rejected rather than filled.
// Runtime match failures are data events, never returned errors
// (spec.md §7).
type RejectReason string

const (
	RejectNone                RejectReason = ""
	RejectAssetInactive       RejectReason = "ASSET_INACTIVE"
	RejectUnknownAsset        RejectReason = "UNKNOWN_ASSET"
	RejectInsufficientExch    RejectReason = "INSUFFICIENT_EXCHANGE"
	RejectPriceUnavailable    RejectReason = "PRICE_UNAVAILABLE"
)

// FillSink is implemented by the originating portfolio. A Broker holds no
// reference to the portfolio package; it only depends on this interface,
// keeping the dependency one-directional (portfolio imports broker, not
// the reverse).
type FillSink interface {
	// ApplyFill delivers a fill to the portfolio that originated the
	// order and propagates it up the portfolio tree. Returns the
	// resulting trade id.
	ApplyFill(assetID string, units, price float64, fillTime int64, strategyID string, orderID int64) int64
	// RecordOrderEvent appends an order lifecycle event to the
	// originating portfolio's EVENT tracer (and its ancestors').
	RecordOrderEvent(eventType EventType, o Order, reason RejectReason, ts int64)
}

// Order is a single order's full lifecycle record (spec.md §3).
type Order struct {
	OrderID       int64
	AssetID       string
	Units         float64
	StrategyID    string
	PortfolioID   string
	ExchangeID    string
	BrokerID      string
	OrderType     OrderType
	ExecutionType ExecType
	LimitSteps    int // -1 = no expiry
	ClientRef     string

	State         State
	SubmittedStep int
	FillTime      int64
	AveragePrice  float64
	TradeID       int64
	RejectReason  RejectReason

	Origin FillSink
}
