package worker

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

const perSessionQueueLen = 16

type sessionQueue struct {
	jobs     []Job
	enqueued bool // present in the ready list
	running  bool // a job of this session is on a worker
}

// Dispatcher hands jobs to pooled workers. Sessions take turns in LRU order and
// a session never has more than one job running.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	ready     *list.List // session ids with queued jobs
	positions map[string]*list.Element

	wake chan struct{}
	stop chan struct{}
	once sync.Once
	log  *zap.Logger
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		JobQueue:  make(chan Job, queueSize),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		log:       debugLogger(logger),
	}
	d.pool = newJobChannelPool(minWorkers, maxWorkers, idleTimeout, d)

	// warm up the minimum number of workers
	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.stop:
		return ErrClosed
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		if d.dispatchOne() {
			// pick up new work without blocking
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.stop:
			return
		}
	}
}

// CancelSession drops the queued jobs of a session. A running job is left to finish.
func (d *Dispatcher) CancelSession(sessionID string) int {
	d.mu.Lock()
	q := d.queues[sessionID]
	if q == nil {
		d.mu.Unlock()
		return 0
	}
	dropped := q.jobs
	q.jobs = nil
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	q.enqueued = false
	if !q.running {
		delete(d.queues, sessionID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.finish(ErrJobCanceled)
	}
	return len(dropped)
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	if len(q.jobs) >= perSessionQueueLen {
		d.mu.Unlock()
		job.finish(ErrDispatcherBusy)
		return
	}
	q.jobs = append(q.jobs, job)
	if !q.enqueued {
		q.enqueued = true
		d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
	}
	d.mu.Unlock()
}

// dispatchOne hands the next job of the least recently served idle session to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	var (
		job   Job
		found bool
	)
	for elem := d.ready.Front(); elem != nil; elem = elem.Next() {
		sessionID := elem.Value.(string)
		q := d.queues[sessionID]
		if q.running {
			continue
		}
		job = q.jobs[0]
		q.jobs = q.jobs[1:]
		q.running = true
		if len(q.jobs) == 0 {
			q.enqueued = false
			d.ready.Remove(elem)
			delete(d.positions, sessionID)
		} else {
			d.ready.MoveToBack(elem)
		}
		found = true
		break
	}
	d.mu.Unlock()
	if !found {
		return false
	}

	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.done(job.SessionID)
		job.finish(ErrClosed)
		return false
	}
	d.log.Debug("assign job",
		zap.String("session", job.SessionID),
		zap.Int("worker", d.pool.workerID(workerChan)),
		zap.Duration("waited", time.Since(job.Enqueued)))
	workerChan <- job
	return true
}

// done marks the session idle again so its next job can be dispatched.
func (d *Dispatcher) done(sessionID string) {
	d.mu.Lock()
	if q := d.queues[sessionID]; q != nil {
		q.running = false
		if len(q.jobs) == 0 && !q.enqueued {
			delete(d.queues, sessionID)
		}
	}
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending counts queued jobs that have not reached a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.JobQueue)
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n
}

func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		d.pool.close()
	})
}
