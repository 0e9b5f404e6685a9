package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
)

func TestNewTask_Valid(t *testing.T) {
	task, err := model.NewTask(model.TaskTypeOrder, 5, 1.5, model.RegionUSEast, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, task.Status())
	assert.Equal(t, 5, task.Priority())
	assert.Equal(t, 1.5, task.Cost())
	assert.NotNil(t, task.Metadata())
	assert.False(t, task.EnqueuedAt().IsZero())
}

func TestNewTask_Validation(t *testing.T) {
	cases := []struct {
		name     string
		taskType model.TaskType
		priority int
		cost     float64
		region   model.Region
	}{
		{"invalid type", model.TaskType("bogus"), 5, 1.0, model.RegionUSEast},
		{"priority too low", model.TaskTypeOrder, 0, 1.0, model.RegionUSEast},
		{"priority too high", model.TaskTypeOrder, 11, 1.0, model.RegionUSEast},
		{"non-positive cost", model.TaskTypeOrder, 5, 0, model.RegionUSEast},
		{"invalid region", model.TaskTypeOrder, 5, 1.0, model.Region("mars")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.NewTask(tc.taskType, tc.priority, tc.cost, tc.region, nil)
			assert.Error(t, err)
		})
	}
}

func TestTask_DispatchCompleteLifecycle(t *testing.T) {
	task, err := model.NewTask(model.TaskTypeQuery, 3, 2.0, model.RegionEUWest, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, task.Dispatch("pool-a", now))
	assert.Equal(t, model.TaskStatusProcessing, task.Status())
	assert.Equal(t, "pool-a", task.WorkerID())
	require.NotNil(t, task.StartedAt())

	completedAt := now.Add(500 * time.Millisecond)
	require.NoError(t, task.Complete(completedAt))
	assert.Equal(t, model.TaskStatusCompleted, task.Status())
	require.NotNil(t, task.CompletedAt())
	assert.True(t, task.IsTerminal())
}

func TestTask_FailLifecycle(t *testing.T) {
	task, err := model.NewTask(model.TaskTypeOrder, 3, 2.0, model.RegionAPEast, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, task.Dispatch("pool-a", now))
	require.NoError(t, task.Fail(now.Add(time.Second)))
	assert.Equal(t, model.TaskStatusFailed, task.Status())
	assert.True(t, task.IsTerminal())
}

func TestTask_CancelOnlyFromQueued(t *testing.T) {
	task, err := model.NewTask(model.TaskTypeOrder, 3, 2.0, model.RegionUSWest, nil)
	require.NoError(t, err)

	require.NoError(t, task.Cancel(time.Now().UTC()))
	assert.Equal(t, model.TaskStatusCancelled, task.Status())

	task2, err := model.NewTask(model.TaskTypeOrder, 3, 2.0, model.RegionUSWest, nil)
	require.NoError(t, err)
	require.NoError(t, task2.Dispatch("pool-a", time.Now().UTC()))

	err = task2.Cancel(time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
}

func TestTask_IllegalTransitions(t *testing.T) {
	task, err := model.NewTask(model.TaskTypeOrder, 3, 2.0, model.RegionUSWest, nil)
	require.NoError(t, err)

	// Complete before Dispatch.
	err = task.Complete(time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	// Fail before Dispatch.
	err = task.Fail(time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	// Dispatch twice.
	require.NoError(t, task.Dispatch("pool-a", time.Now().UTC()))
	err = task.Dispatch("pool-b", time.Now().UTC())
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
}

func TestTask_SetAlgorithmUsed(t *testing.T) {
	task, err := model.NewTask(model.TaskTypeOrder, 3, 2.0, model.RegionUSWest, nil)
	require.NoError(t, err)

	require.NoError(t, task.SetAlgorithmUsed(model.AlgorithmPriority))
	assert.Equal(t, model.AlgorithmPriority, task.AlgorithmUsed())

	require.NoError(t, task.Dispatch("pool-a", time.Now().UTC()))
	err = task.SetAlgorithmUsed(model.AlgorithmFIFO)
	assert.Error(t, err)
}

func TestReconstructTask(t *testing.T) {
	now := time.Now().UTC()
	task := model.ReconstructTask(
		model.TaskID("fixed-id"),
		model.TaskTypeSimulation,
		7,
		3.3,
		model.RegionUSEast,
		model.TaskStatusProcessing,
		now,
		&now, nil,
		"pool-z",
		model.AlgorithmMinCost,
		map[string]interface{}{"k": "v"},
	)
	assert.Equal(t, model.TaskID("fixed-id"), task.ID())
	assert.Equal(t, model.TaskStatusProcessing, task.Status())
	assert.Equal(t, "pool-z", task.WorkerID())
	assert.Equal(t, model.AlgorithmMinCost, task.AlgorithmUsed())
}

func TestReconstructTask_NilMetadata(t *testing.T) {
	task := model.ReconstructTask(
		model.NewTaskID(), model.TaskTypeOrder, 1, 1.0, model.RegionUSEast,
		model.TaskStatusQueued, time.Now().UTC(), nil, nil, "", model.Algorithm(""), nil,
	)
	assert.NotNil(t, task.Metadata())
}
