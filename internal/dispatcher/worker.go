package dispatcher

import (
	"context"
	"sync"
	"time"
)

// Worker owns at most one running poll loop for a Dispatcher.
type Worker struct {
	d *Dispatcher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(d *Dispatcher) *Worker {
	return &Worker{d: d}
}

// Start launches the worker pool polling at interval. It returns false and
// does nothing if the worker is already running.
func (w *Worker) Start(interval time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		_ = w.d.run(ctx, interval)
	}()
	return true
}

// Stop halts polling and waits for in-flight jobs to finish. Stopping a
// worker that is not running is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}
