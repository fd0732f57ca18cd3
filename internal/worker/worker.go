package worker

import "fmt"

type Worker struct {
	id         int
	pool       *jobChannelPool
	dispatcher *Dispatcher
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool, d *Dispatcher) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		dispatcher: d,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		if !w.pool.Release(w.jobChannel) {
			return
		}
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			err := w.execute(job)
			w.dispatcher.done(job.SessionID)
			job.finish(err)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}

func (w *Worker) execute(job Job) (err error) {
	if job.Ctx != nil {
		if ctxErr := job.Ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker-%d: job panicked: %v", w.id, r)
		}
	}()
	return job.Task(job.Ctx)
}
