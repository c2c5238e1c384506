// Package processor maps job-type tags to executable handlers.
//
// Handlers report their outcome as a value rather than by panicking, so the
// dispatcher's retry-or-fail branch is driven by data.
package processor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// Outcome is the result of running one job.
type Outcome struct {
	Result map[string]any
	Err    error

	// Permanent marks a failure that must not be retried.
	Permanent bool
}

func Success(result map[string]any) Outcome {
	return Outcome{Result: result}
}

func Failure(err error) Outcome {
	return Outcome{Err: err}
}

func PermanentFailure(err error) Outcome {
	return Outcome{Err: err, Permanent: true}
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

type Processor interface {
	Process(ctx context.Context, job domain.Job) Outcome
}

// Func adapts a plain function to Processor.
type Func func(ctx context.Context, job domain.Job) Outcome

func (f Func) Process(ctx context.Context, job domain.Job) Outcome {
	return f(ctx, job)
}

var (
	ErrEmptyType    = errors.New("processor: job type is required")
	ErrNilProcessor = errors.New("processor: handler is nil")
)

// Registry is safe for concurrent use. Registering an existing type replaces
// its handler.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

func (r *Registry) Register(jobType string, p Processor) error {
	if jobType == "" {
		return ErrEmptyType
	}
	if p == nil {
		return ErrNilProcessor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[jobType] = p
	return nil
}

func (r *Registry) RegisterFunc(jobType string, fn func(ctx context.Context, job domain.Job) Outcome) error {
	if fn == nil {
		return ErrNilProcessor
	}
	return r.Register(jobType, Func(fn))
}

func (r *Registry) Lookup(jobType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[jobType]
	return p, ok
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
