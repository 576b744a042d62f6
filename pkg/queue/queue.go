package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobActive is returned when cancelling a job that a worker already holds.
	ErrJobActive    = errors.New("job is active")
	ErrJobFinished  = errors.New("job already finished")
	ErrNoProcessor  = errors.New("no processor registered")
	ErrUnknownQueue = errors.New("unknown queue")
	ErrStopped      = errors.New("queue manager stopped")
)

// Broker stores jobs and hands them to workers with at-least-once semantics.
type Broker interface {
	// Enqueue stores job. A job whose ID already exists is left untouched and
	// the stored copy is returned.
	Enqueue(ctx context.Context, job *Job) (*Job, error)

	// LeaseNext promotes due delayed jobs and leases the highest priority
	// waiting job until now+lease. It returns nil when nothing is runnable.
	LeaseNext(ctx context.Context, queue string, lease time.Duration) (*Job, error)

	// Ack marks job completed and trims completed history to keep entries.
	Ack(ctx context.Context, job *Job, keep int) error

	// Fail records cause, schedules a retry with backoff while attempts remain,
	// otherwise marks the job failed and trims failed history to keep entries.
	Fail(ctx context.Context, job *Job, cause error, keep int) (State, error)

	// Remove cancels a job that is still waiting or delayed.
	Remove(ctx context.Context, queue, id string) error

	Get(ctx context.Context, queue, id string) (*Job, error)

	// RegisterRecurring stores a schedule keyed by its ID. Registering the same
	// ID again replaces the definition but keeps the pending run time.
	RegisterRecurring(ctx context.Context, r Recurring) error

	// ClaimDueRecurring returns schedules due at now and advances them.
	// Each due run is handed to exactly one caller.
	ClaimDueRecurring(ctx context.Context, now time.Time) ([]Recurring, error)

	ListRecurring(ctx context.Context) ([]Recurring, error)

	// RequeueStalled moves active jobs whose lease expired back to waiting.
	RequeueStalled(ctx context.Context, queue string, now time.Time) (int, error)

	Stats(ctx context.Context, queue string) (Stats, error)

	Close() error
}

// Stats counts jobs per state for one queue.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Recurring is a fixed-interval schedule that enqueues one job per run.
type Recurring struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Name    string          `json:"name"`
	Every   time.Duration   `json:"every"`
	Payload json.RawMessage `json:"payload"`
	NextRun time.Time       `json:"nextRun"`
}

// RecurringID is the fixed identifier of the schedule for {queue, name}.
func RecurringID(queue, name string) string {
	return fmt.Sprintf("repeat:%s:%s", queue, name)
}

// InstanceID identifies the job a schedule enqueues for the run at runAt.
func (r Recurring) InstanceID() string {
	return fmt.Sprintf("%s:%d", r.ID, r.NextRun.UnixMilli())
}

// QueueConfig carries the per-queue worker and retry settings.
type QueueConfig struct {
	Concurrency   int
	MaxAttempts   int
	Backoff       Backoff
	KeepCompleted int
	KeepFailed    int
	Lease         time.Duration
	PollInterval  time.Duration
}

func (c QueueConfig) normalize() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = 100
	}
	if c.KeepFailed <= 0 {
		c.KeepFailed = 500
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*Job)

// WithDelay postpones the first run.
func WithDelay(d time.Duration) EnqueueOption {
	return func(j *Job) { j.RunAt = j.RunAt.Add(d) }
}

// WithPriority sets the job priority. Lower values run first.
func WithPriority(p int) EnqueueOption {
	return func(j *Job) { j.Priority = p }
}

// WithJobID gives the job a caller-chosen ID, making the enqueue idempotent.
func WithJobID(id string) EnqueueOption {
	return func(j *Job) { j.ID = id }
}

// WithMaxAttempts overrides the queue's attempt limit.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) { j.MaxAttempts = n }
}

// retryOrFail applies the backoff policy after a failed attempt.
func retryOrFail(job *Job, cause error, now time.Time) State {
	job.AttemptsMade++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.AttemptsMade < job.MaxAttempts {
		job.State = StateDelayed
		job.RunAt = now.Add(job.Backoff.Next(job.AttemptsMade))
		return StateDelayed
	}
	job.State = StateFailed
	job.FinishedAt = now
	return StateFailed
}

// maxPriority bounds priorities so Redis waiting scores stay exact.
const maxPriority = 100

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > maxPriority {
		return maxPriority
	}
	return p
}
