// Package bterr collects the sentinel error values shared across the
// simulation kernel, grouped by the severity taxonomy the backtest engine
// uses to decide whether a failure aborts an operation, rejects an order,
// or is local to a single query.
package bterr

import "errors"

// Configuration errors surface to the caller; the simulation does not start.
var (
	ErrUnknownAsset     = errors.New("backtest: unknown asset")
	ErrUnknownExchange  = errors.New("backtest: unknown exchange")
	ErrUnknownBroker    = errors.New("backtest: unknown broker")
	ErrUnknownPortfolio = errors.New("backtest: unknown portfolio")
	ErrInvalidStrategy  = errors.New("backtest: invalid strategy")
	ErrDuplicateID      = errors.New("backtest: duplicate id")
	ErrNotBuilt         = errors.New("backtest: kernel not built")
	ErrAlreadyBuilt     = errors.New("backtest: kernel already built")
)

// Data errors are raised at load/build time and are fatal for that asset.
var (
	ErrUnsortedTimestamps = errors.New("backtest: timestamps not strictly increasing")
	ErrShapeMismatch      = errors.New("backtest: matrix shape mismatch")
	ErrUnknownColumn      = errors.New("backtest: unknown column")
	ErrOutOfRange         = errors.New("backtest: row out of range")
)

// Runtime match failures reject an order; the simulation continues.
var (
	ErrAssetInactive        = errors.New("backtest: asset inactive at current tick")
	ErrPriceUnavailable     = errors.New("backtest: price unavailable")
	ErrInsufficientExchange = errors.New("backtest: exchange cannot route order")
)

// ErrNotReady is returned by a tracer queried before its warmup/window is
// satisfied. It is never fatal.
var ErrNotReady = errors.New("backtest: tracer not ready")
