package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"LendPulse/pkg/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) states() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.State)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithSchedulerTick(20 * time.Millisecond)}, opts...)
	m := NewManager(logger.Nop(), NewMemoryBroker(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func TestManagerProcessesAndRetries(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(t, WithEventPublisher(pub))
	m.Configure("health-updates", QueueConfig{
		Concurrency:  2,
		MaxAttempts:  2,
		Backoff:      Backoff{Type: BackoffFixed, Delay: 10 * time.Millisecond},
		PollInterval: 5 * time.Millisecond,
	})
	var calls int32
	m.Register("health-updates", ProcessorFunc{JobName: "health-update", Fn: func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}})
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	job, err := m.Enqueue(context.Background(), "health-updates", "health-update", map[string]string{"userAddress": "0x1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "job completion", func() bool {
		s, _ := m.Stats(context.Background(), "health-updates")
		return s.Completed == 1
	})
	stored, err := m.Broker().Get(context.Background(), "health-updates", job.ID)
	if err != nil || stored.AttemptsMade != 1 {
		t.Fatalf("expected one failed attempt recorded, got %+v %v", stored, err)
	}
	got := pub.states()
	if len(got) != 2 || got[0] != StateDelayed || got[1] != StateCompleted {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestManagerFailsAfterMaxAttempts(t *testing.T) {
	m := newTestManager(t)
	m.Configure("market-data", QueueConfig{MaxAttempts: 1, PollInterval: 5 * time.Millisecond})
	m.Register("market-data", ProcessorFunc{JobName: "market-data", Fn: func(context.Context, *Job) error {
		panic("boom")
	}})
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Enqueue(context.Background(), "market-data", "market-data", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "job failure", func() bool {
		s, _ := m.Stats(context.Background(), "market-data")
		return s.Failed == 1
	})
}

func TestManagerRecurringRegisteredOnce(t *testing.T) {
	m := newTestManager(t)
	m.Configure("maintenance", QueueConfig{PollInterval: 5 * time.Millisecond})
	var runs int32
	m.Register("maintenance", ProcessorFunc{JobName: "cache-cleanup", Fn: func(context.Context, *Job) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := m.EnqueueRecurring(ctx, "maintenance", "cache-cleanup", time.Hour, nil); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	list, _ := m.Broker().ListRecurring(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one schedule, got %d", len(list))
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "first scheduled run", func() bool { return atomic.LoadInt32(&runs) == 1 })
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Fatalf("hourly schedule ran %d times", n)
	}
}

func TestManagerCancelWaiting(t *testing.T) {
	m := newTestManager(t)
	m.Configure("health-updates", QueueConfig{})
	ctx := context.Background()
	job, err := m.Enqueue(ctx, "health-updates", "health-update", nil, WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.Cancel(ctx, "health-updates", job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	s, _ := m.Stats(ctx, "health-updates")
	if s.Delayed != 0 || s.Waiting != 0 {
		t.Fatalf("unexpected stats after cancel %+v", s)
	}
}

func TestManagerRejectsUnknownQueue(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Enqueue(ctx, "nope", "x", nil); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue, got %v", err)
	}
	if err := m.EnqueueRecurring(ctx, "nope", "x", time.Minute, nil); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue from recurring, got %v", err)
	}
}

func TestManagerDefaultIDsUniqueUnderFixedClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, WithManagerClock(func() time.Time { return fixed }))
	m.Configure("health-updates", QueueConfig{})
	ctx := context.Background()

	a, err := m.Enqueue(ctx, "health-updates", "health-update", map[string]string{"userAddress": "0xa"})
	if err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	b, err := m.Enqueue(ctx, "health-updates", "health-update", map[string]string{"userAddress": "0xb"})
	if err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct job ids, both %s", a.ID)
	}
	if string(b.Payload) != `{"userAddress":"0xb"}` {
		t.Fatalf("second job carries wrong payload %s", b.Payload)
	}
	s, _ := m.Stats(ctx, "health-updates")
	if s.Waiting != 2 {
		t.Fatalf("expected 2 waiting jobs, got %+v", s)
	}
}

func TestManagerStopLetsRunningJobFinish(t *testing.T) {
	m := newTestManager(t)
	m.Configure("maintenance", QueueConfig{MaxAttempts: 1, PollInterval: 5 * time.Millisecond})
	started := make(chan struct{})
	m.Register("maintenance", ProcessorFunc{JobName: "cache-cleanup", Fn: func(ctx context.Context, _ *Job) error {
		close(started)
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Enqueue(context.Background(), "maintenance", "cache-cleanup", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	s, _ := m.Stats(context.Background(), "maintenance")
	if s.Completed != 1 || s.Failed != 0 {
		t.Fatalf("expected job to complete during shutdown, got %+v", s)
	}
}

func TestManagerStopDeadlineDoesNotConsumeAttempt(t *testing.T) {
	m := newTestManager(t)
	m.Configure("maintenance", QueueConfig{MaxAttempts: 1, PollInterval: 5 * time.Millisecond})
	started := make(chan struct{})
	returned := make(chan struct{})
	m.Register("maintenance", ProcessorFunc{JobName: "cache-cleanup", Fn: func(ctx context.Context, _ *Job) error {
		close(started)
		defer close(returned)
		<-ctx.Done()
		return ctx.Err()
	}})
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	job, err := m.Enqueue(context.Background(), "maintenance", "cache-cleanup", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Stop(ctx); err == nil {
		t.Fatalf("expected timeout error from stop")
	}
	<-returned
	time.Sleep(20 * time.Millisecond)

	stored, err := m.Broker().Get(context.Background(), "maintenance", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != StateActive || stored.AttemptsMade != 0 {
		t.Fatalf("expected job left leased without an attempt, got state=%s attempts=%d", stored.State, stored.AttemptsMade)
	}
}
