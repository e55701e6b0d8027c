package workers

import (
	"context"
	"fmt"
	"log/slog"
)

type worker[T any] struct {
	id   int
	pool *Pool[T]
}

// run drains the queue until Stop closes it. Jobs keep the start context's
// values but not its cancellation, so queued work survives a signal.
func (w *worker[T]) run(ctx context.Context) {
	defer w.pool.wg.Done()
	ctx = context.WithoutCancel(ctx)
	for job := range w.pool.jobs {
		w.process(ctx, job)
	}
}

// process runs the handler, turning a panic into a failed job
func (w *worker[T]) process(ctx context.Context, job T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Workers : handler panicked", "pool", w.pool.name, "worker", w.id, "panic", r)
			w.pool.failed.Add(1)
			w.pool.report(job, fmt.Errorf("handler panicked: %v", r))
		}
	}()

	if err := w.pool.handler(ctx, job); err != nil {
		w.pool.failed.Add(1)
		w.pool.report(job, err)
		return
	}
	w.pool.processed.Add(1)
}
