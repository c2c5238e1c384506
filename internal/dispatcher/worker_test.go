package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-remind/internal/domain"
	"github.com/djlord-it/easy-remind/internal/processor"
	"github.com/djlord-it/easy-remind/internal/store/memory"
	"github.com/djlord-it/easy-remind/internal/testutil"
	"github.com/djlord-it/easy-remind/internal/transport/channel"
)

func TestWorker_StartIsIdempotent(t *testing.T) {
	d := New(memory.New(), processor.NewRegistry(), nil, Config{})
	w := NewWorker(d)

	assert.False(t, w.Running())
	assert.True(t, w.Start(10*time.Millisecond))
	assert.False(t, w.Start(10*time.Millisecond), "second start is a no-op")
	assert.True(t, w.Running())

	w.Stop()
	assert.False(t, w.Running())
	w.Stop()

	assert.True(t, w.Start(10*time.Millisecond), "a stopped worker can start again")
	w.Stop()
}

func TestWorker_ProcessesEnqueuedJobs(t *testing.T) {
	store := memory.New()
	reg := processor.NewRegistry()
	bus := channel.NewBus(10)

	var processed atomic.Int64
	reg.RegisterFunc(domain.JobTypeNotificationSend, func(context.Context, domain.Job) processor.Outcome {
		processed.Add(1)
		return processor.Success(nil)
	})

	d := New(store, reg, bus, Config{Workers: 2})
	w := NewWorker(d)
	require.True(t, w.Start(time.Hour))
	defer w.Stop()

	ctx := testutil.TestContext(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		res, err := d.Enqueue(ctx, domain.JobTypeNotificationSend, nil, EnqueueOptions{})
		require.NoError(t, err)
		ids = append(ids, *res.JobID)
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return processed.Load() == 5 }, "all jobs processed")
	for _, id := range ids {
		testutil.Eventually(t, time.Second, func() bool {
			st, err := d.GetJobStatus(ctx, id)
			return err == nil && st != nil && st.Status == domain.JobStatusCompleted
		}, "job completed")
	}
}

func TestWorker_PollClaimsJobsInsertedWithoutWake(t *testing.T) {
	store := memory.New()
	reg := processor.NewRegistry()

	done := make(chan struct{})
	reg.RegisterFunc(domain.JobTypeEmailSend, func(context.Context, domain.Job) processor.Outcome {
		close(done)
		return processor.Success(nil)
	})

	// No bus: only the poll can find a job inserted behind the dispatcher's back.
	d := New(store, reg, nil, Config{})
	w := NewWorker(d)
	w.Start(20 * time.Millisecond)
	defer w.Stop()

	_, err := store.InsertJob(context.Background(), domain.Job{
		Type:          domain.JobTypeEmailSend,
		Status:        domain.JobStatusQueued,
		Priority:      domain.PriorityNormal,
		MaxAttempts:   3,
		CorrelationID: "poll",
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not claimed by the poll")
	}
}
