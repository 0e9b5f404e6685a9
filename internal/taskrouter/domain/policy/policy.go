// Package policy implements the pure, side-effect-free pool-selection
// strategies: fifo, priority and min_cost.
// Select never mutates its arguments.
package policy

import (
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
)

// Strategy names a selectable policy.
type Strategy string

const (
	StrategyFIFO     Strategy = Strategy(model.AlgorithmFIFO)
	StrategyPriority Strategy = Strategy(model.AlgorithmPriority)
	StrategyMinCost  Strategy = Strategy(model.AlgorithmMinCost)
)

// Valid reports whether s names one of the three supported strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFIFO, StrategyPriority, StrategyMinCost:
		return true
	}
	return false
}

// Selector is the pure function signature every strategy implements.
// pools is a snapshot read from the store; implementations must not
// mutate task or pools.
type Selector func(task *model.Task, pools []*model.WorkerPool) (*model.WorkerPool, bool)

// Select dispatches to the selector named by strategy. An unknown
// strategy falls back to fifo.
func Select(strategy Strategy, task *model.Task, pools []*model.WorkerPool) (*model.WorkerPool, bool) {
	switch strategy {
	case StrategyPriority:
		return SelectPriority(task, pools)
	case StrategyMinCost:
		return SelectMinCost(task, pools)
	default:
		return SelectFIFO(task, pools)
	}
}

// SelectFIFO prefers the first free pool in the task's region, in
// iteration order, falling back to the first free pool in any region.
func SelectFIFO(task *model.Task, pools []*model.WorkerPool) (*model.WorkerPool, bool) {
	for _, p := range pools {
		if p.Region == task.Region() && p.HasFreeCapacity() {
			return p, true
		}
	}
	for _, p := range pools {
		if p.HasFreeCapacity() {
			return p, true
		}
	}
	return nil, false
}

// SelectPriority filters to free-capacity pools (preferring same-region,
// falling back to all regions), then chooses by the task's priority band.
func SelectPriority(task *model.Task, pools []*model.WorkerPool) (*model.WorkerPool, bool) {
	candidates := freeCapacityCandidates(task, pools)
	if len(candidates) == 0 {
		return nil, false
	}

	switch {
	case task.Priority() >= 7:
		best := candidates[0]
		for _, p := range candidates[1:] {
			if p.CostPerUnit < best.CostPerUnit {
				best = p
			}
		}
		return best, true
	case task.Priority() >= 4:
		best := candidates[0]
		for _, p := range candidates[1:] {
			if lessCostThenCapacity(p, best) {
				best = p
			}
		}
		return best, true
	default:
		best := candidates[0]
		for _, p := range candidates[1:] {
			if p.AvailableCapacity() > best.AvailableCapacity() {
				best = p
			}
		}
		return best, true
	}
}

// lessCostThenCapacity orders by (cost_per_unit asc, capacity desc) —
// cheapest first, ties broken toward larger total capacity.
func lessCostThenCapacity(a, b *model.WorkerPool) bool {
	if a.CostPerUnit != b.CostPerUnit {
		return a.CostPerUnit < b.CostPerUnit
	}
	return a.Capacity > b.Capacity
}

// SelectMinCost filters to free-capacity pools (preferring same-region,
// falling back to all regions), picking the minimal cost_per_unit. Ties
// are broken by iteration order (stable).
func SelectMinCost(task *model.Task, pools []*model.WorkerPool) (*model.WorkerPool, bool) {
	candidates := freeCapacityCandidates(task, pools)
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.CostPerUnit < best.CostPerUnit {
			best = p
		}
	}
	return best, true
}

// freeCapacityCandidates filters pools to those with free capacity,
// preferring the task's region when that subset is non-empty.
func freeCapacityCandidates(task *model.Task, pools []*model.WorkerPool) []*model.WorkerPool {
	var sameRegion, any []*model.WorkerPool
	for _, p := range pools {
		if !p.HasFreeCapacity() {
			continue
		}
		any = append(any, p)
		if p.Region == task.Region() {
			sameRegion = append(sameRegion, p)
		}
	}
	if len(sameRegion) > 0 {
		return sameRegion
	}
	return any
}
