package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
)

func TestNewScheduleLog(t *testing.T) {
	taskID := model.NewTaskID()
	log := model.NewScheduleLog(taskID, model.EventScheduled, map[string]interface{}{"pool": "a"})

	assert.Equal(t, taskID, log.TaskID)
	assert.Equal(t, model.EventScheduled, log.EventType)
	assert.Equal(t, "a", log.Details["pool"])
	assert.False(t, log.Timestamp.IsZero())
	assert.NotEmpty(t, log.ID.String())
}

func TestNewScheduleLog_NilDetails(t *testing.T) {
	log := model.NewScheduleLog(model.NewTaskID(), model.EventCreated, nil)
	assert.NotNil(t, log.Details)
	assert.Empty(t, log.Details)
}
