// Package scheduler implements the in-process periodic job engine that owns
// a per-job timer for every active sync. Ownership of timers lives entirely
// within a single process: this is deliberately not built on a distributed
// workflow engine, matching the runtime's single-node ownership model.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/pkg/logger"
)

// RunFunc executes one sync job invocation. The scheduler does not care what
// it does; it only cares about firing it on schedule and logging failures.
type RunFunc func(ctx context.Context, connectionID core.ID, syncName string) error

// job is the scheduler's private bookkeeping for one scheduled sync.
type job struct {
	connectionID core.ID
	syncName     string
	interval     time.Duration
	timer        *time.Timer
	nextRun      time.Time
	lastRun      time.Time
	lastResult   string
}

func (j *job) key() string { return j.connectionID.String() + ":" + j.syncName }

// Scheduler owns one timer per scheduled (connectionID, syncName) pair and
// fires RunFunc on each job's interval until unscheduled or destroyed.
//
// Concurrency follows the same single mutex guarding a map idiom as the
// rate limiter: every job mutation (schedule, unschedule, timer firing)
// takes the same lock, so there is never a race between "unschedule" and an
// in-flight timer callback deciding whether to reschedule itself.
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*job
	run       RunFunc
	metrics   *Metrics
	destroyed bool
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithMetrics instruments the scheduler with the given Metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler that invokes run for every fired job.
func New(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{jobs: make(map[string]*job), run: run}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleJob creates or replaces the timer for (connectionID, syncName)
// with the given interval. Scheduling a job that is already scheduled
// replaces its timer and resets lastRun to zero; the spec leaves whether a
// reschedule should inherit lastRun unresolved, and this scheduler's
// documented choice is to not inherit it.
func (s *Scheduler) ScheduleJob(connectionID core.ID, syncName string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	j := &job{connectionID: connectionID, syncName: syncName, interval: interval, nextRun: time.Now().Add(interval)}
	existing, replaced := s.jobs[j.key()]
	if replaced {
		existing.timer.Stop()
	}
	j.timer = time.AfterFunc(interval, func() { s.fire(j.key()) })
	s.jobs[j.key()] = j
	if !replaced {
		s.metrics.UpdateActiveJobs(context.Background(), 1)
	}
}

// UnscheduleJob stops and removes the timer for (connectionID, syncName).
// Unscheduling a job that does not exist is a no-op.
func (s *Scheduler) UnscheduleJob(connectionID core.ID, syncName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connectionID.String() + ":" + syncName
	if j, ok := s.jobs[key]; ok {
		j.timer.Stop()
		delete(s.jobs, key)
		s.metrics.UpdateActiveJobs(context.Background(), -1)
	}
}

// UnscheduleConnectionJobs stops every job scheduled for connectionID, used
// when a connection is deleted.
func (s *Scheduler) UnscheduleConnectionJobs(connectionID core.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := connectionID.String() + ":"
	for key, j := range s.jobs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			j.timer.Stop()
			delete(s.jobs, key)
			s.metrics.UpdateActiveJobs(context.Background(), -1)
		}
	}
}

// JobInfo is a read-only snapshot of a scheduled job, matching the spec's
// Scheduled Job data model: id = connectionId + ":" + syncName, an active
// job's nextRun, and the optional lastRun/lastResult of its most recent
// firing (zero/empty until it has fired at least once).
type JobInfo struct {
	ID           string        `json:"id"`
	ConnectionID core.ID       `json:"connectionId"`
	SyncName     string        `json:"syncName"`
	Interval     time.Duration `json:"syncIntervalNs"`
	NextRun      time.Time     `json:"nextRun"`
	IsActive     bool          `json:"isActive"`
	LastRun      time.Time     `json:"lastRun,omitempty"`
	LastResult   string        `json:"lastResult,omitempty"`
}

func infoFor(j *job) JobInfo {
	return JobInfo{
		ID:           j.key(),
		ConnectionID: j.connectionID,
		SyncName:     j.syncName,
		Interval:     j.interval,
		NextRun:      j.nextRun,
		IsActive:     true,
		LastRun:      j.lastRun,
		LastResult:   j.lastResult,
	}
}

// Jobs returns a snapshot of every scheduled job.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, infoFor(j))
	}
	return out
}

// JobsForConnection returns a snapshot of every job scheduled for
// connectionID.
func (s *Scheduler) JobsForConnection(connectionID core.ID) []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := connectionID.String() + ":"
	out := make([]JobInfo, 0)
	for key, j := range s.jobs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, infoFor(j))
		}
	}
	return out
}

// ExecuteNow runs a scheduled job's sync immediately, out of band from its
// timer, without resetting or disturbing the timer's own schedule.
func (s *Scheduler) ExecuteNow(ctx context.Context, connectionID core.ID, syncName string) error {
	return s.run(ctx, connectionID, syncName)
}

// fire is the timer callback: it runs the job, records lastRun, logs any
// failure, and reschedules the next tick at the same interval.
func (s *Scheduler) fire(key string) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx := context.Background()
	result, status := "success", "success"
	runStart := time.Now()
	if err := s.run(ctx, j.connectionID, j.syncName); err != nil {
		logger.FromContext(ctx).Error("scheduler: sync job failed", "connection", j.connectionID, "sync", j.syncName, "error", err)
		result, status = err.Error(), "error"
	}
	s.metrics.RecordJobRun(ctx, j.syncName, status, time.Since(runStart))

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[key]
	if !ok || s.destroyed || current != j {
		return
	}
	current.lastRun = time.Now()
	current.lastResult = result
	current.nextRun = current.lastRun.Add(current.interval)
	current.timer = time.AfterFunc(current.interval, func() { s.fire(key) })
}

// Destroy stops every scheduled timer. Idempotent: calling Destroy twice is
// safe and the second call is a no-op.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	for key, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, key)
		s.metrics.UpdateActiveJobs(context.Background(), -1)
	}
}
