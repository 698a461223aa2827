package builder

import (
	"sort"

	"github.com/rawblock/veilwallet/pkg/models"
)

// Strategy picks which UTXOs fund a spend.
type Strategy int

const (
	// MinimizeInputs spends the fewest outputs (largest first until funded).
	MinimizeInputs Strategy = iota
	// MinimizeChange picks the smallest single output that covers the
	// target, else accumulates outputs smallest first. It does not search
	// combinations, so the change is not always the least possible.
	MinimizeChange
	// Oldest spends the longest-confirmed outputs first.
	Oldest
	// LargestFirst sweeps every candidate largest-first with no early stop,
	// consolidating the wallet into a single change output.
	LargestFirst
)

// Selection is the outcome of a strategy run.
type Selection struct {
	Selected   []models.OwnedOutput
	Total      uint64
	Change     uint64
	Sufficient bool
}

// SelectOutputs runs a strategy over spendable candidates. The caller has
// already excluded frozen, spent and locked outputs and filtered by asset.
func SelectOutputs(candidates []models.OwnedOutput, target uint64, strategy Strategy) Selection {
	pool := append([]models.OwnedOutput{}, candidates...)

	switch strategy {
	case Oldest:
		sort.Slice(pool, func(i, j int) bool { return pool[i].BlockHeight < pool[j].BlockHeight })
	case MinimizeChange:
		return selectMinimizeChange(pool, target)
	case LargestFirst:
		// Sweep the whole pool largest-first: every candidate is spent, so
		// the wallet consolidates into one change output.
		sort.Slice(pool, func(i, j int) bool { return pool[i].Amount > pool[j].Amount })
		var sel Selection
		for _, o := range pool {
			sel.Selected = append(sel.Selected, o)
			sel.Total += o.Amount
		}
		if sel.Total >= target {
			sel.Sufficient = true
			sel.Change = sel.Total - target
		}
		return sel
	default: // MinimizeInputs
		sort.Slice(pool, func(i, j int) bool { return pool[i].Amount > pool[j].Amount })
	}

	var sel Selection
	for _, o := range pool {
		sel.Selected = append(sel.Selected, o)
		sel.Total += o.Amount
		if sel.Total >= target {
			sel.Sufficient = true
			sel.Change = sel.Total - target
			return sel
		}
	}
	return sel
}

// selectMinimizeChange first looks for the smallest single output that
// reaches the target, then falls back to accumulating outputs smallest
// first until the target is reached.
func selectMinimizeChange(pool []models.OwnedOutput, target uint64) Selection {
	// A single output ≥ target with the smallest excess beats any combo of
	// the same count.
	sort.Slice(pool, func(i, j int) bool { return pool[i].Amount < pool[j].Amount })
	for _, o := range pool {
		if o.Amount >= target {
			return Selection{
				Selected:   []models.OwnedOutput{o},
				Total:      o.Amount,
				Change:     o.Amount - target,
				Sufficient: true,
			}
		}
	}

	// Otherwise accumulate small-to-large; the tail contributes the least
	// overshoot.
	var sel Selection
	for _, o := range pool {
		sel.Selected = append(sel.Selected, o)
		sel.Total += o.Amount
		if sel.Total >= target {
			sel.Sufficient = true
			sel.Change = sel.Total - target
			return sel
		}
	}
	return sel
}
