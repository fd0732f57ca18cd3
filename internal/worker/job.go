package worker

import (
	"context"
	"errors"
	"time"
)

type JobType int

const (
	Run JobType = iota
	Stop
)

var (
	// ErrDispatcherBusy is returned when a job cannot be queued.
	ErrDispatcherBusy = errors.New("dispatcher busy, try again later")
	// ErrJobCanceled is returned to callers whose queued job was dropped.
	ErrJobCanceled = errors.New("job canceled")
	ErrClosed      = errors.New("worker manager closed")
)

// Task is one unit of session work. It runs with no other task of the same session.
type Task func(ctx context.Context) error

// Job carries a task to a worker.
type Job struct {
	Type      JobType
	SessionID string
	Ctx       context.Context
	Task      Task
	Enqueued  time.Time
	result    chan error
}

func (j Job) finish(err error) {
	if j.result != nil {
		j.result <- err
	}
}
