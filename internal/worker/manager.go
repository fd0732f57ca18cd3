package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config sizes the worker pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Manager runs session tasks on the dispatcher and waits for their results.
type Manager struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker")
	return &Manager{
		dispatcher: NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.IdleTimeout, logger),
		logger:     logger,
	}
}

// Do runs task for sessionID after every earlier task of that session finished.
// It returns the task's error, ErrDispatcherBusy when the queue is full, or
// ctx.Err() when ctx ends first. A task that already started always runs to completion;
// callers that must not abandon a task pass a context without cancellation.
func (m *Manager) Do(ctx context.Context, sessionID string, task Task) error {
	if task == nil {
		return errors.New("task required")
	}
	result := make(chan error, 1)
	job := Job{
		Type:      Run,
		SessionID: sessionID,
		Ctx:       ctx,
		Task:      task,
		Enqueued:  time.Now(),
		result:    result,
	}
	if err := m.dispatcher.Submit(job); err != nil {
		if errors.Is(err, ErrDispatcherBusy) {
			m.logger.Warn("job rejected", zap.String("session", sessionID), zap.Error(err))
		}
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelSession drops the queued jobs of a session.
func (m *Manager) CancelSession(sessionID string) {
	if n := m.dispatcher.CancelSession(sessionID); n > 0 {
		m.logger.Info("dropped queued jobs", zap.String("session", sessionID), zap.Int("count", n))
	}
}

// Stats reports the pool size and the number of jobs waiting for a worker.
type Stats struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Pending int `json:"pending"`
}

func (m *Manager) Stats() Stats {
	running, idle := m.dispatcher.pool.size()
	return Stats{Workers: running, Idle: idle, Pending: m.dispatcher.Pending()}
}

func (m *Manager) Close() {
	m.dispatcher.Close()
}
