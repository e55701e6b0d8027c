package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolNotStarted = errors.New("worker pool not started")
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrQueueFull      = errors.New("worker pool queue is full")
	ErrNilHandler     = errors.New("worker pool handler cannot be nil")
)

// Handler processes one job. Returned errors are reported, never retried here.
type Handler[T any] func(ctx context.Context, job T) error

type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

type Pool[T any] struct {
	name        string
	handler     Handler[T]
	on_error    func(job T, err error)
	jobs        chan T
	quit        chan struct{}
	workers     []*worker[T]
	worker_size int
	started     bool
	closed      bool
	stop_once   sync.Once
	wg          sync.WaitGroup
	mu          sync.RWMutex

	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool of worker_size workers sharing one queue
func NewPool[T any](name string, worker_size int, handler Handler[T]) (*Pool[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if worker_size <= 0 {
		worker_size = 1
	}

	return &Pool[T]{
		name:        name,
		handler:     handler,
		jobs:        make(chan T, worker_size*16),
		quit:        make(chan struct{}),
		workers:     make([]*worker[T], worker_size),
		worker_size: worker_size,
	}, nil
}

// OnError registers a callback for jobs whose handler failed
func (p *Pool[T]) OnError(fn func(job T, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on_error = fn
}

// Submit enqueues a job without blocking
func (p *Pool[T]) Submit(job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues a job, waiting for room until ctx is done or the pool stops
func (p *Pool[T]) SubmitWait(ctx context.Context, job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) accepting() error {
	if p.closed {
		return ErrPoolClosed
	}
	if !p.started {
		return ErrPoolNotStarted
	}
	return nil
}

// Start launches the workers. They run until Stop has drained the queue.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}

	slog.Debug("Workers : starting pool", "pool", p.name, "worker_size", p.worker_size)
	for i := 0; i < p.worker_size; i++ {
		w := &worker[T]{id: i, pool: p}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(ctx)
	}

	p.started = true
}

// Stop closes the queue and waits for the workers to drain it
func (p *Pool[T]) Stop() {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return
	}

	p.stop_once.Do(func() {
		// release blocked SubmitWait callers before taking the write lock
		close(p.quit)

		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()

		slog.Debug("Workers : stopping pool", "pool", p.name)
	})
	p.wg.Wait()
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Queued:    len(p.jobs),
	}
}

func (p *Pool[T]) report(job T, err error) {
	p.mu.RLock()
	on_error := p.on_error
	p.mu.RUnlock()

	slog.Error("Workers : job failed", "pool", p.name, "error", err)
	if on_error != nil {
		on_error(job, err)
	}
}
