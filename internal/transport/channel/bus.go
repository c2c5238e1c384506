// Package channel carries job-ready signals from producers to dispatcher
// workers inside one process.
//
// A signal only wakes a worker; the worker then claims from the store, which
// stays the source of truth for ordering and eligibility. Dropping a signal
// when the buffer is full is therefore safe: the safety-net poll picks the
// job up.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/easy-remind/internal/domain"
)

var ErrBufferFull = errors.New("wake bus buffer full")

const DefaultEmitTimeout = 100 * time.Millisecond

// MetricsSink receives buffer metrics. Methods must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*Bus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

type Bus struct {
	ch          chan domain.JobReady
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewBus(buffer int, opts ...Option) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	b := &Bus{
		ch:          make(chan domain.JobReady, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit waits up to the emit timeout for buffer space.
func (b *Bus) Emit(ctx context.Context, ev domain.JobReady) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- ev:
		b.recordSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// TryEmit never blocks. It reports whether the signal was buffered.
func (b *Bus) TryEmit(ev domain.JobReady) bool {
	select {
	case b.ch <- ev:
		b.recordSize()
		return true
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return false
	}
}

func (b *Bus) Channel() <-chan domain.JobReady {
	return b.ch
}

func (b *Bus) recordSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}
