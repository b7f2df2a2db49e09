package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is a unit of deferred work executed by the TaskWorker registered under Name.
type Task struct {
	ID          string
	Name        string
	Description string
	RoomID      string
	Tags        []string
	Status      TaskStatus
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Metadata    map[string]any
}

// NewTask creates a pending task for the worker named name.
func NewTask(name, roomID string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		RoomID:    roomID,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// Start marks the task as running.
func (t *Task) Start() {
	t.Status = TaskStatusRunning
	t.StartedAt = time.Now().UTC()
}

// Complete marks the task as completed.
func (t *Task) Complete() {
	t.Status = TaskStatusCompleted
	t.FinishedAt = time.Now().UTC()
}

// Fail marks the task as failed with err.
func (t *Task) Fail(err error) {
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
	t.FinishedAt = time.Now().UTC()
}
