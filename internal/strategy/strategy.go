// Package strategy defines the capability-set interface user strategies
// implement and a registry that dispatches kernel callbacks to them,
// modeled on the calculator-registry pattern in
// trader/internal/modules/opportunities/calculators/registry.go.
package strategy

import (
	"fmt"

	"github.com/aristath/backtest/internal/bterr"
	"github.com/aristath/backtest/internal/exchange"
	"github.com/aristath/backtest/internal/portfolio"
)

// Context is the read/write surface a strategy's callbacks receive each
// step: its own portfolio (for order placement) and every exchange of
// the run, keyed by id (for feature queries), per spec.md §5.
type Context struct {
	Portfolio *portfolio.Portfolio
	Exchanges map[string]*exchange.Exchange
	Step      int
}

// Strategy is the capability set a backtest registers against the
// kernel. Build is called once, after every exchange/portfolio/broker is
// wired but before the first step; OnOpen/OnClose are called once per
// step, in registration order, during the corresponding phase.
type Strategy interface {
	ID() string
	Build(ctx Context) error
	OnOpen(ctx Context) error
	OnClose(ctx Context) error
}

// Registry holds the strategies registered against a kernel run.
// Registration is rejected after Freeze is called, per
// SPEC_FULL.md §13(a): a strategy roster is fixed once the kernel has
// been built.
type Registry struct {
	byID   map[string]Strategy
	order  []Strategy
	frozen bool
}

// NewRegistry returns an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Strategy)}
}

// Register adds s to the registry. Returns ErrInvalidStrategy if s has an
// empty id, ErrDuplicateID if the id is already registered, and a wrapped
// ErrAlreadyBuilt if the registry has been frozen.
func (r *Registry) Register(s Strategy) error {
	if r.frozen {
		return fmt.Errorf("%w: cannot register strategy %q after build", bterr.ErrAlreadyBuilt, idOf(s))
	}
	id := idOf(s)
	if id == "" {
		return fmt.Errorf("%w: empty strategy id", bterr.ErrInvalidStrategy)
	}
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: strategy %q", bterr.ErrDuplicateID, id)
	}
	r.byID[id] = s
	r.order = append(r.order, s)
	return nil
}

func idOf(s Strategy) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

// Freeze closes the registry to further registration.
func (r *Registry) Freeze() { r.frozen = true }

// Strategies returns every registered strategy in registration order.
func (r *Registry) Strategies() []Strategy { return r.order }

// Build calls Build on every registered strategy, in registration order,
// stopping at the first error.
func (r *Registry) Build(ctxFor func(Strategy) Context) error {
	for _, s := range r.order {
		if err := s.Build(ctxFor(s)); err != nil {
			return fmt.Errorf("strategy %q: build: %w", s.ID(), err)
		}
	}
	return nil
}

// DispatchOpen calls OnOpen on every registered strategy, in registration
// order, stopping at the first error.
func (r *Registry) DispatchOpen(ctxFor func(Strategy) Context) error {
	for _, s := range r.order {
		if err := s.OnOpen(ctxFor(s)); err != nil {
			return fmt.Errorf("strategy %q: on_open: %w", s.ID(), err)
		}
	}
	return nil
}

// DispatchClose calls OnClose on every registered strategy, in
// registration order, stopping at the first error.
func (r *Registry) DispatchClose(ctxFor func(Strategy) Context) error {
	for _, s := range r.order {
		if err := s.OnClose(ctxFor(s)); err != nil {
			return fmt.Errorf("strategy %q: on_close: %w", s.ID(), err)
		}
	}
	return nil
}
