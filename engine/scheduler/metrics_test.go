package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/nexusflow/flowcore/engine/core"
)

func TestNewMetrics(t *testing.T) {
	t.Run("Should create metrics with a valid meter", func(t *testing.T) {
		meter := noop.NewMeterProvider().Meter("test")
		m := NewMetrics(context.Background(), meter)
		assert.NotNil(t, m)
		assert.Equal(t, meter, m.meter)
	})

	t.Run("Should handle a nil meter gracefully", func(t *testing.T) {
		m := NewMetrics(context.Background(), nil)
		assert.NotNil(t, m)
		assert.Nil(t, m.meter)
	})
}

func TestMetrics_RecordJobRun(t *testing.T) {
	t.Run("Should record a run with a valid meter", func(_ *testing.T) {
		meter := noop.NewMeterProvider().Meter("test")
		m := NewMetrics(context.Background(), meter)
		m.RecordJobRun(context.Background(), "contacts", "success", 120*time.Millisecond)
	})

	t.Run("Should handle nil instruments gracefully", func(_ *testing.T) {
		m := NewMetrics(context.Background(), nil)
		m.RecordJobRun(context.Background(), "contacts", "error", time.Second)
	})

	t.Run("Should handle a nil receiver gracefully", func(_ *testing.T) {
		var m *Metrics
		m.RecordJobRun(context.Background(), "contacts", "success", time.Second)
		m.UpdateActiveJobs(context.Background(), 1)
	})
}

func TestMetrics_UpdateActiveJobs(t *testing.T) {
	t.Run("Should move the gauge up and down", func(_ *testing.T) {
		meter := noop.NewMeterProvider().Meter("test")
		m := NewMetrics(context.Background(), meter)
		m.UpdateActiveJobs(context.Background(), 1)
		m.UpdateActiveJobs(context.Background(), -1)
	})
}

// TestScheduler_WithMetrics proves an instrumented scheduler schedules,
// fires, and unschedules the same as a bare one.
func TestScheduler_WithMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	var runs int32
	s := New(func(ctx context.Context, connectionID core.ID, syncName string) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, WithMetrics(NewMetrics(context.Background(), meter)))
	defer s.Destroy()

	s.ScheduleJob(core.ID("conn-1"), "contacts", 15*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, time.Second, 5*time.Millisecond)
	s.UnscheduleJob(core.ID("conn-1"), "contacts")
	assert.Empty(t, s.JobsForConnection(core.ID("conn-1")))
}
