package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nexusflow/flowcore/pkg/logger"
)

// Metrics holds the scheduler's OpenTelemetry instruments: job fire counts,
// run latency, and the number of currently scheduled jobs. A nil meter
// leaves every instrument nil; the recording methods stay safe to call so
// a scheduler built without monitoring pays nothing.
type Metrics struct {
	meter       metric.Meter
	log         logger.Logger
	jobRuns     metric.Int64Counter
	runDuration metric.Float64Histogram
	activeJobs  metric.Int64UpDownCounter
}

// NewMetrics creates the scheduler's instruments against meter. Instrument
// creation failures are logged and leave that instrument nil rather than
// failing scheduler construction.
func NewMetrics(ctx context.Context, meter metric.Meter) *Metrics {
	m := &Metrics{meter: meter, log: logger.FromContext(ctx)}
	if meter == nil {
		return m
	}
	var err error
	m.jobRuns, err = meter.Int64Counter(
		"flowcore_scheduler_job_runs_total",
		metric.WithDescription("Completed scheduled sync job runs"),
	)
	if err != nil {
		m.log.Error("failed to create job runs counter", "error", err)
	}
	m.runDuration, err = meter.Float64Histogram(
		"flowcore_scheduler_job_run_duration_seconds",
		metric.WithDescription("Scheduled sync job run latency"),
		metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		m.log.Error("failed to create job run duration histogram", "error", err)
	}
	m.activeJobs, err = meter.Int64UpDownCounter(
		"flowcore_scheduler_active_jobs",
		metric.WithDescription("Currently scheduled sync jobs"),
	)
	if err != nil {
		m.log.Error("failed to create active jobs counter", "error", err)
	}
	return m
}

// RecordJobRun records one completed firing of a scheduled job.
func (m *Metrics) RecordJobRun(ctx context.Context, syncName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("sync", syncName),
		attribute.String("status", status),
	)
	if m.jobRuns != nil {
		m.jobRuns.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// UpdateActiveJobs moves the scheduled-job gauge by delta (positive on
// schedule, negative on unschedule).
func (m *Metrics) UpdateActiveJobs(ctx context.Context, delta int64) {
	if m == nil || m.activeJobs == nil {
		return
	}
	m.activeJobs.Add(ctx, delta)
}
