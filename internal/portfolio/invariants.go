package portfolio

import "fmt"

// CheckInvariants walks the subtree rooted at root and verifies that
// every node's cash and per-asset position units equal the sum of its
// children's, per spec.md §4.4/§8. Aggregate state is never cached
// separately from its subtree, so any drift here indicates a propagation
// bug rather than a stale read.
func CheckInvariants(root *Portfolio) error {
	_, _, err := checkNode(root)
	return err
}

func checkNode(p *Portfolio) (float64, map[string]float64, error) {
	wantCash := p.cash
	wantUnits := make(map[string]float64, len(p.positions))
	for id, pos := range p.positions {
		wantUnits[id] = pos.Units
	}

	if len(p.children) == 0 {
		return wantCash, wantUnits, nil
	}

	var sumCash float64
	sumUnits := make(map[string]float64)
	for _, c := range p.children {
		cCash, cUnits, err := checkNode(c)
		if err != nil {
			return 0, nil, err
		}
		sumCash += cCash
		for id, u := range cUnits {
			sumUnits[id] += u
		}
	}

	const eps = 1e-6
	if absFloat(sumCash-wantCash) > eps {
		return 0, nil, fmt.Errorf("backtest: portfolio %q cash %.6f != sum of children %.6f", p.id, wantCash, sumCash)
	}
	for id, u := range sumUnits {
		if absFloat(u-wantUnits[id]) > eps {
			return 0, nil, fmt.Errorf("backtest: portfolio %q position %q units %.6f != sum of children %.6f", p.id, id, wantUnits[id], u)
		}
	}
	for id, u := range wantUnits {
		if _, ok := sumUnits[id]; !ok && absFloat(u) > eps {
			return 0, nil, fmt.Errorf("backtest: portfolio %q position %q units %.6f has no child contribution", p.id, id, u)
		}
	}
	return wantCash, wantUnits, nil
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
