package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memJob struct {
	job   Job
	seq   uint64
	lease time.Time
}

type memQueue struct {
	jobs      map[string]*memJob
	completed []string
	failed    []string
}

// MemoryBroker is a single-process Broker. It is used in tests and when no
// Redis is configured.
type MemoryBroker struct {
	mu        sync.Mutex
	queues    map[string]*memQueue
	recurring map[string]Recurring
	seq       uint64
	now       func() time.Time
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:    make(map[string]*memQueue),
		recurring: make(map[string]Recurring),
		now:       time.Now,
	}
}

// SetClock overrides the clock.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

func (b *MemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{jobs: make(map[string]*memJob)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Enqueue(_ context.Context, job *Job) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(job.Queue)
	if existing, ok := q.jobs[job.ID]; ok {
		cp := existing.job
		return &cp, nil
	}
	b.seq++
	stored := *job
	stored.Priority = clampPriority(stored.Priority)
	stored.State = StateWaiting
	if stored.RunAt.After(b.now()) {
		stored.State = StateDelayed
	}
	q.jobs[job.ID] = &memJob{job: stored, seq: b.seq}
	cp := stored
	return &cp, nil
}

func (b *MemoryBroker) LeaseNext(_ context.Context, queue string, lease time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	q := b.queue(queue)

	var next *memJob
	for _, mj := range q.jobs {
		if mj.job.State == StateDelayed && !mj.job.RunAt.After(now) {
			mj.job.State = StateWaiting
		}
		if mj.job.State != StateWaiting {
			continue
		}
		if next == nil || before(mj, next) {
			next = mj
		}
	}
	if next == nil {
		return nil, nil
	}
	next.job.State = StateActive
	next.job.ProcessedAt = now
	next.lease = now.Add(lease)
	cp := next.job
	return &cp, nil
}

func before(a, b *memJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	if !a.job.RunAt.Equal(b.job.RunAt) {
		return a.job.RunAt.Before(b.job.RunAt)
	}
	return a.seq < b.seq
}

func (b *MemoryBroker) Ack(_ context.Context, job *Job, keep int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(job.Queue)
	mj, ok := q.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	job.State = StateCompleted
	job.FinishedAt = b.now()
	mj.job = *job
	q.completed = trim(q, append(q.completed, job.ID), keep)
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, job *Job, cause error, keep int) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(job.Queue)
	mj, ok := q.jobs[job.ID]
	if !ok {
		return "", ErrJobNotFound
	}
	state := retryOrFail(job, cause, b.now())
	mj.job = *job
	if state == StateFailed {
		q.failed = trim(q, append(q.failed, job.ID), keep)
	}
	return state, nil
}

// trim drops the oldest ids beyond keep and forgets their jobs.
func trim(q *memQueue, ids []string, keep int) []string {
	if keep <= 0 || len(ids) <= keep {
		return ids
	}
	drop := len(ids) - keep
	for _, id := range ids[:drop] {
		delete(q.jobs, id)
	}
	return append([]string(nil), ids[drop:]...)
}

func (b *MemoryBroker) Remove(_ context.Context, queue, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	mj, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch mj.job.State {
	case StateWaiting, StateDelayed:
		delete(q.jobs, id)
		return nil
	case StateActive:
		return ErrJobActive
	default:
		return ErrJobFinished
	}
}

func (b *MemoryBroker) Get(_ context.Context, queue, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mj, ok := b.queue(queue).jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := mj.job
	return &cp, nil
}

func (b *MemoryBroker) RegisterRecurring(_ context.Context, r Recurring) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.recurring[r.ID]; ok {
		r.NextRun = existing.NextRun
	}
	b.recurring[r.ID] = r
	return nil
}

func (b *MemoryBroker) ClaimDueRecurring(_ context.Context, now time.Time) ([]Recurring, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var due []Recurring
	for id, r := range b.recurring {
		if r.NextRun.After(now) {
			continue
		}
		due = append(due, r)
		r.NextRun = advance(r.NextRun, r.Every, now)
		b.recurring[id] = r
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// advance moves a schedule past now, skipping runs missed while stopped.
func advance(next time.Time, every time.Duration, now time.Time) time.Time {
	if every <= 0 {
		return now.Add(time.Minute)
	}
	next = next.Add(every)
	if !next.After(now) {
		next = now.Add(every)
	}
	return next
}

func (b *MemoryBroker) ListRecurring(_ context.Context) ([]Recurring, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Recurring, 0, len(b.recurring))
	for _, r := range b.recurring {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBroker) RequeueStalled(_ context.Context, queue string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, mj := range b.queue(queue).jobs {
		if mj.job.State == StateActive && mj.lease.Before(now) {
			mj.job.State = StateWaiting
			n++
		}
	}
	return n, nil
}

func (b *MemoryBroker) Stats(_ context.Context, queue string) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	var s Stats
	for _, mj := range b.queue(queue).jobs {
		switch mj.job.State {
		case StateWaiting:
			s.Waiting++
		case StateDelayed:
			if mj.job.RunAt.After(now) {
				s.Delayed++
			} else {
				s.Waiting++
			}
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (b *MemoryBroker) Close() error { return nil }
