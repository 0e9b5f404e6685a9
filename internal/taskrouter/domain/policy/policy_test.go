package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/policy"
)

func newTask(t *testing.T, priority int, region model.Region) *model.Task {
	t.Helper()
	task, err := model.NewTask(model.TaskTypeOrder, priority, 1.0, region, nil)
	require.NoError(t, err)
	return task
}

func newPool(t *testing.T, name string, region model.Region, cost float64, capacity, load int) *model.WorkerPool {
	t.Helper()
	pool, err := model.NewWorkerPool(name, region, model.ResourceCPU, cost, capacity)
	require.NoError(t, err)
	pool.CurrentLoad = load
	return pool
}

func TestSelectFIFO_PrefersSameRegion(t *testing.T) {
	task := newTask(t, 5, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "west", model.RegionUSWest, 1.0, 5, 0),
		newPool(t, "east", model.RegionUSEast, 1.0, 5, 0),
	}

	selected, ok := policy.SelectFIFO(task, pools)
	require.True(t, ok)
	assert.Equal(t, "east", selected.Name)
}

func TestSelectFIFO_FallsBackToAnyRegion(t *testing.T) {
	task := newTask(t, 5, model.RegionEUWest)
	pools := []*model.WorkerPool{
		newPool(t, "west", model.RegionUSWest, 1.0, 5, 0),
	}

	selected, ok := policy.SelectFIFO(task, pools)
	require.True(t, ok)
	assert.Equal(t, "west", selected.Name)
}

func TestSelectFIFO_NoFreeCapacity(t *testing.T) {
	task := newTask(t, 5, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "east", model.RegionUSEast, 1.0, 2, 2),
	}

	_, ok := policy.SelectFIFO(task, pools)
	assert.False(t, ok)
}

func TestSelectMinCost_PicksCheapestInRegion(t *testing.T) {
	task := newTask(t, 5, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "expensive", model.RegionUSEast, 2.0, 5, 0),
		newPool(t, "cheap", model.RegionUSEast, 0.5, 5, 0),
		newPool(t, "out-of-region-cheaper", model.RegionUSWest, 0.1, 5, 0),
	}

	selected, ok := policy.SelectMinCost(task, pools)
	require.True(t, ok)
	assert.Equal(t, "cheap", selected.Name)
}

func TestSelectPriority_HighPriorityPicksCheapestAmongCandidates(t *testing.T) {
	task := newTask(t, 9, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "a", model.RegionUSEast, 1.5, 5, 0),
		newPool(t, "b", model.RegionUSEast, 0.7, 5, 0),
	}

	selected, ok := policy.SelectPriority(task, pools)
	require.True(t, ok)
	assert.Equal(t, "b", selected.Name)
}

func TestSelectPriority_LowPriorityPicksMostAvailableCapacity(t *testing.T) {
	task := newTask(t, 2, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "tight", model.RegionUSEast, 1.0, 5, 4), // 1 free
		newPool(t, "loose", model.RegionUSEast, 1.0, 5, 0), // 5 free
	}

	selected, ok := policy.SelectPriority(task, pools)
	require.True(t, ok)
	assert.Equal(t, "loose", selected.Name)
}

func TestSelectPriority_MidBandUsesCostThenCapacity(t *testing.T) {
	task := newTask(t, 5, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "smaller", model.RegionUSEast, 0.5, 4, 0),
		newPool(t, "bigger", model.RegionUSEast, 0.5, 8, 0),
	}

	selected, ok := policy.SelectPriority(task, pools)
	require.True(t, ok)
	assert.Equal(t, "bigger", selected.Name)
}

func TestSelect_Dispatch(t *testing.T) {
	task := newTask(t, 5, model.RegionUSEast)
	pools := []*model.WorkerPool{
		newPool(t, "east", model.RegionUSEast, 1.0, 5, 0),
	}

	selected, ok := policy.Select(policy.StrategyFIFO, task, pools)
	require.True(t, ok)
	assert.Equal(t, "east", selected.Name)

	selected, ok = policy.Select(policy.Strategy("unknown"), task, pools)
	require.True(t, ok)
	assert.Equal(t, "east", selected.Name, "unknown strategy falls back to fifo")
}

func TestStrategy_Valid(t *testing.T) {
	assert.True(t, policy.StrategyFIFO.Valid())
	assert.True(t, policy.StrategyPriority.Valid())
	assert.True(t, policy.StrategyMinCost.Valid())
	assert.False(t, policy.Strategy("bogus").Valid())
}

func TestSelect_DoesNotMutateInputs(t *testing.T) {
	task := newTask(t, 5, model.RegionUSEast)
	pool := newPool(t, "east", model.RegionUSEast, 1.0, 5, 2)
	pools := []*model.WorkerPool{pool}

	_, ok := policy.Select(policy.StrategyMinCost, task, pools)
	require.True(t, ok)

	assert.Equal(t, 2, pool.CurrentLoad, "selection must not mutate pool state")
	assert.Equal(t, model.TaskStatusQueued, task.Status(), "selection must not mutate task state")
}
