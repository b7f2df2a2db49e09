package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("REMIND", "room-1")
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.NotEmpty(t, task.ID)

	task.Start()
	assert.Equal(t, TaskStatusRunning, task.Status)
	assert.False(t, task.StartedAt.IsZero())

	task.Complete()
	assert.Equal(t, TaskStatusCompleted, task.Status)

	task.Fail(errors.New("worker crashed"))
	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.Equal(t, "worker crashed", task.Error)
}
