package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/flowcore/engine/core"
)

// TestScheduler_FiresPeriodically covers P4: a scheduled job fires
// repeatedly at its interval until unscheduled.
func TestScheduler_FiresPeriodically(t *testing.T) {
	var runs int32
	s := New(func(ctx context.Context, connectionID core.ID, syncName string) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	defer s.Destroy()

	s.ScheduleJob(core.ID("conn-1"), "contacts", 15*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)

	s.UnscheduleJob(core.ID("conn-1"), "contacts")
	observed := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, observed, atomic.LoadInt32(&runs))
}

func TestScheduler_UnscheduleConnectionJobs(t *testing.T) {
	s := New(func(ctx context.Context, connectionID core.ID, syncName string) error { return nil })
	defer s.Destroy()

	s.ScheduleJob(core.ID("conn-1"), "a", time.Hour)
	s.ScheduleJob(core.ID("conn-1"), "b", time.Hour)
	s.ScheduleJob(core.ID("conn-2"), "a", time.Hour)

	s.UnscheduleConnectionJobs(core.ID("conn-1"))
	assert.Len(t, s.Jobs(), 1)
	assert.Len(t, s.JobsForConnection(core.ID("conn-2")), 1)
}

func TestScheduler_ExecuteNow(t *testing.T) {
	var runs int32
	s := New(func(ctx context.Context, connectionID core.ID, syncName string) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	defer s.Destroy()

	s.ScheduleJob(core.ID("conn-1"), "a", time.Hour)
	require.NoError(t, s.ExecuteNow(context.Background(), core.ID("conn-1"), "a"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	// ExecuteNow does not disturb the existing timer's own schedule.
	assert.Len(t, s.Jobs(), 1)
}

// TestScheduler_DestroyIsIdempotent covers P9's scheduler-side half: destroy
// can be called more than once safely and stops all future firings.
func TestScheduler_DestroyIsIdempotent(t *testing.T) {
	var runs int32
	s := New(func(ctx context.Context, connectionID core.ID, syncName string) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	s.ScheduleJob(core.ID("conn-1"), "a", 10*time.Millisecond)
	s.Destroy()
	s.Destroy()
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, s.Jobs())
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}
