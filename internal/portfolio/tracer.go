package portfolio

import "github.com/aristath/backtest/internal/broker"

// ValueSnapshot is one entry of a portfolio's VALUE tracer: net
// liquidation value and cash at a point in time, per spec.md §4.7. Every
// step contributes exactly two snapshots (open-phase and close-phase
// evaluation), per SPEC_FULL.md §13(c).
type ValueSnapshot struct {
	Timestamp int64
	NLV       float64
	Cash      float64
}

// ValueTracer is an append-only history of ValueSnapshots.
type ValueTracer struct {
	history []ValueSnapshot
}

func newValueTracer() *ValueTracer { return &ValueTracer{} }

func (t *ValueTracer) snapshot(ts int64, nlv, cash float64) {
	t.history = append(t.history, ValueSnapshot{Timestamp: ts, NLV: nlv, Cash: cash})
}

// History returns the full snapshot sequence.
func (t *ValueTracer) History() []ValueSnapshot { return t.history }

func (t *ValueTracer) reset() { t.history = nil }

// OrderEvent is one entry of a portfolio's EVENT tracer: a single order
// lifecycle transition, modeled on the {Type, Timestamp, Data} shape of
// internal/events/types.go, narrowed to order events (spec.md §3).
type OrderEvent struct {
	Type       broker.EventType
	Timestamp  int64
	OrderID    int64
	AssetID    string
	Units      float64
	StrategyID string
	Reason     broker.RejectReason
}

// EventTracer is an append-only log of OrderEvents, populated both by
// orders originated at this node and by propagation from descendants.
type EventTracer struct {
	events []OrderEvent
}

func newEventTracer() *EventTracer { return &EventTracer{} }

func (t *EventTracer) append(ev OrderEvent) { t.events = append(t.events, ev) }

// Events returns the full event log.
func (t *EventTracer) Events() []OrderEvent { return t.events }

func (t *EventTracer) reset() { t.events = nil }
