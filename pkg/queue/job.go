package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// BackoffType selects how the retry delay grows.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is a per-queue retry delay policy.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before retry number attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attempt <= 1 {
		return b.Delay
	}
	exp := math.Min(float64(attempt-1), 20)
	return time.Duration(float64(b.Delay) * math.Pow(2, exp))
}

// Job is a unit of work held by a Broker.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	RunAt        time.Time       `json:"runAt"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      Backoff         `json:"backoff"`
	State        State           `json:"state"`
	LastError    string          `json:"lastError,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  time.Time       `json:"processedAt,omitempty"`
	FinishedAt   time.Time       `json:"finishedAt,omitempty"`
}

// Processor handles every job with a given name on one queue.
type Processor interface {
	// Name returns the job name the processor accepts.
	Name() string

	// Process runs the job. A returned error triggers the retry policy.
	Process(ctx context.Context, job *Job) error
}

// ProcessorFunc adapts a function into a Processor.
type ProcessorFunc struct {
	JobName string
	Fn      func(ctx context.Context, job *Job) error
}

func (p ProcessorFunc) Name() string { return p.JobName }

func (p ProcessorFunc) Process(ctx context.Context, job *Job) error { return p.Fn(ctx, job) }

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](job *Job) (*T, error) {
	var result T
	if job == nil || len(job.Payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(job.Payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload for %s: %w", job.Name, err)
	}
	return &result, nil
}
