package kernel

import (
	"fmt"

	"github.com/aristath/backtest/internal/portfolio"
)

// CompareRuns runs h to completion, resets it, runs it again, and
// returns an error describing the first point of divergence between the
// two runs' VALUE history, EVENT log, and final positions. A nil result
// is the determinism guarantee of spec.md §8: reset()/run() must be
// byte-identical to the original run.
func CompareRuns(h *Hydra) error {
	if err := h.Run(); err != nil {
		return fmt.Errorf("first run: %w", err)
	}
	hist1 := append([]portfolio.ValueSnapshot(nil), h.master.ValueHistory()...)
	events1 := append([]portfolio.OrderEvent(nil), h.master.Events()...)
	pos1 := snapshotPositions(h)

	h.Reset()
	if err := h.Run(); err != nil {
		return fmt.Errorf("second run: %w", err)
	}
	hist2 := h.master.ValueHistory()
	events2 := h.master.Events()
	pos2 := snapshotPositions(h)

	if len(hist1) != len(hist2) {
		return fmt.Errorf("backtest: replay value history length mismatch: %d vs %d", len(hist1), len(hist2))
	}
	for i := range hist1 {
		if hist1[i] != hist2[i] {
			return fmt.Errorf("backtest: replay value history diverged at snapshot %d", i)
		}
	}
	if len(events1) != len(events2) {
		return fmt.Errorf("backtest: replay event log length mismatch: %d vs %d", len(events1), len(events2))
	}
	for i := range events1 {
		if events1[i] != events2[i] {
			return fmt.Errorf("backtest: replay event log diverged at event %d", i)
		}
	}
	if len(pos1) != len(pos2) {
		return fmt.Errorf("backtest: replay final position count mismatch: %d vs %d", len(pos1), len(pos2))
	}
	for id, u := range pos1 {
		if pos2[id] != u {
			return fmt.Errorf("backtest: replay final position %q diverged: %.6f vs %.6f", id, u, pos2[id])
		}
	}
	return nil
}

func snapshotPositions(h *Hydra) map[string]float64 {
	out := make(map[string]float64)
	for id, pos := range h.master.Positions() {
		out[id] = pos.Units
	}
	return out
}
