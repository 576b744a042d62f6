package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"LendPulse/pkg/logger"
)

// Observer receives job outcomes. The metrics recorder satisfies it.
type Observer interface {
	RecordJob(queue, job, outcome string, seconds float64)
}

// Event describes a job reaching a terminal or retry state.
type Event struct {
	Queue    string    `json:"queue"`
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	State    State     `json:"state"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"durationSeconds"`
	At       time.Time `json:"at"`
}

// EventPublisher forwards job events. Publish failures are logged only.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev Event) error
}

type nopObserver struct{}

func (nopObserver) RecordJob(string, string, string, float64) {}

// Manager runs per-queue worker pools on top of a Broker together with the
// recurring scheduler and the stalled-job sweeper.
type Manager struct {
	logger    *logger.Logger
	broker    Broker
	observer  Observer
	publisher EventPublisher

	mu         sync.RWMutex
	configs    map[string]QueueConfig
	processors map[string]map[string]Processor
	running    bool

	tick   time.Duration
	now    func() time.Time
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	// jobCtx outlives ctx so in-flight jobs can finish during Stop.
	jobCtx    context.Context
	jobCancel context.CancelFunc
}

// ManagerOption configures Manager.
type ManagerOption func(*Manager)

// WithObserver records job outcomes.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithEventPublisher forwards job events.
func WithEventPublisher(p EventPublisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithSchedulerTick sets how often schedules and stalled leases are checked.
func WithSchedulerTick(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.tick = d
		}
	}
}

// WithManagerClock overrides the clock.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a stopped manager.
func NewManager(lgr *logger.Logger, broker Broker, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:     lgr,
		broker:     broker,
		observer:   nopObserver{},
		configs:    make(map[string]QueueConfig),
		processors: make(map[string]map[string]Processor),
		tick:       time.Second,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		jobCtx:     jobCtx,
		jobCancel:  jobCancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Broker exposes the underlying broker.
func (m *Manager) Broker() Broker { return m.broker }

// Configure sets the worker and retry settings of a queue.
func (m *Manager) Configure(queue string, cfg QueueConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[queue] = cfg.normalize()
}

func (m *Manager) config(queue string) QueueConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[queue]; ok {
		return cfg
	}
	return QueueConfig{}.normalize()
}

// Register attaches processors to a queue.
func (m *Manager) Register(queue string, procs ...Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[queue]; !ok {
		m.configs[queue] = QueueConfig{}.normalize()
	}
	if m.processors[queue] == nil {
		m.processors[queue] = make(map[string]Processor)
	}
	for _, p := range procs {
		if _, exists := m.processors[queue][p.Name()]; exists {
			m.logger.Warn("processor already registered",
				logger.String("queue", queue), logger.String("job", p.Name()))
			continue
		}
		m.processors[queue][p.Name()] = p
		m.logger.Info("processor registered",
			logger.String("queue", queue), logger.String("job", p.Name()))
	}
}

// Queues lists configured queue names.
func (m *Manager) Queues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.configs))
	for q := range m.configs {
		out = append(out, q)
	}
	return out
}

// HasQueue reports whether queue is configured.
func (m *Manager) HasQueue(queue string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.configs[queue]
	return ok
}

// Enqueue adds a job to queue. Payload is JSON-encoded unless it already is.
func (m *Manager) Enqueue(ctx context.Context, queue, name string, payload interface{}, opts ...EnqueueOption) (*Job, error) {
	if !m.HasQueue(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	cfg := m.config(queue)
	now := m.now()
	job := &Job{
		Queue:       queue,
		Name:        name,
		Payload:     data,
		RunAt:       now,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		CreatedAt:   now,
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.ID == "" {
		job.ID = name + "-" + uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	return m.broker.Enqueue(ctx, job)
}

// EnqueueRecurring registers a fixed-interval schedule under the ID derived
// from {queue, name}. Repeated registration keeps a single schedule.
func (m *Manager) EnqueueRecurring(ctx context.Context, queue, name string, every time.Duration, payload interface{}) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	if !m.HasQueue(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	rec := Recurring{
		ID:      RecurringID(queue, name),
		Queue:   queue,
		Name:    name,
		Every:   every,
		Payload: data,
		NextRun: m.now(),
	}
	if err := m.broker.RegisterRecurring(ctx, rec); err != nil {
		return err
	}
	m.logger.Info("schedule registered",
		logger.String("id", rec.ID), logger.Duration("every", every))
	return nil
}

// Cancel removes a job that has not started yet.
func (m *Manager) Cancel(ctx context.Context, queue, id string) error {
	return m.broker.Remove(ctx, queue, id)
}

// Stats returns the job counts of queue.
func (m *Manager) Stats(ctx context.Context, queue string) (Stats, error) {
	return m.broker.Stats(ctx, queue)
}

// Start launches the worker pools and the scheduler.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("queue manager already running")
	}
	if m.ctx.Err() != nil {
		return ErrStopped
	}
	m.running = true

	for queue, cfg := range m.configs {
		if len(m.processors[queue]) == 0 {
			continue
		}
		for i := 0; i < cfg.Concurrency; i++ {
			m.wg.Add(1)
			go m.worker(queue, i)
		}
		m.logger.Info("queue workers started",
			logger.String("queue", queue), logger.Int("workers", cfg.Concurrency))
	}
	m.wg.Add(1)
	go m.scheduler()
	return nil
}

// Stop stops leasing new jobs and lets in-flight jobs finish until ctx
// expires. Jobs still running at the deadline are cancelled and left leased,
// so the stalled sweep requeues them without consuming an attempt.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.cancel()
		m.jobCancel()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("stopping queue manager...")
	m.cancel()
	defer m.jobCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		m.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		m.logger.Info("queue manager stopped gracefully")
		return nil
	}
}

func (m *Manager) worker(queue string, id int) {
	defer m.wg.Done()
	cfg := m.config(queue)
	for {
		if m.ctx.Err() != nil {
			return
		}
		job, err := m.broker.LeaseNext(m.ctx, queue, cfg.Lease)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("lease failed", logger.String("queue", queue), logger.Error(err))
		}
		if job == nil {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(cfg.PollInterval):
			}
			continue
		}
		m.run(queue, cfg, job, id)
	}
}

func (m *Manager) run(queue string, cfg QueueConfig, job *Job, worker int) {
	m.mu.RLock()
	proc := m.processors[queue][job.Name]
	m.mu.RUnlock()

	start := time.Now()
	var err error
	if proc == nil {
		err = fmt.Errorf("%w: %s/%s", ErrNoProcessor, queue, job.Name)
	} else {
		err = m.safeProcess(proc, job)
	}
	elapsed := time.Since(start).Seconds()

	if err != nil && m.jobCtx.Err() != nil && errors.Is(err, context.Canceled) {
		m.observer.RecordJob(queue, job.Name, "interrupted", elapsed)
		m.logger.Warn("job interrupted by shutdown, lease left to expire",
			logger.String("queue", queue), logger.String("job_id", job.ID))
		return
	}

	// Bookkeeping must survive shutdown so an in-flight job is not left active.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := Event{Queue: queue, Name: job.Name, ID: job.ID, Duration: elapsed}
	if err == nil {
		if ackErr := m.broker.Ack(ctx, job, cfg.KeepCompleted); ackErr != nil {
			m.logger.Error("ack failed", logger.String("job_id", job.ID), logger.Error(ackErr))
		}
		ev.State = StateCompleted
		m.observer.RecordJob(queue, job.Name, "completed", elapsed)
		m.logger.Debug("job completed",
			logger.String("queue", queue), logger.String("job", job.Name),
			logger.String("job_id", job.ID), logger.Int("worker_id", worker))
	} else {
		state, failErr := m.broker.Fail(ctx, job, err, cfg.KeepFailed)
		if failErr != nil {
			m.logger.Error("fail bookkeeping failed", logger.String("job_id", job.ID), logger.Error(failErr))
		}
		ev.State = state
		ev.Error = err.Error()
		outcome := "retried"
		if state == StateFailed {
			outcome = "failed"
		}
		m.observer.RecordJob(queue, job.Name, outcome, elapsed)
		m.logger.Warn("job attempt failed",
			logger.String("queue", queue), logger.String("job", job.Name),
			logger.String("job_id", job.ID), logger.Int("attempts", job.AttemptsMade),
			logger.String("state", string(state)), logger.Error(err))
	}
	ev.Attempts = job.AttemptsMade
	ev.At = m.now()
	if m.publisher != nil {
		if pubErr := m.publisher.PublishJobEvent(ctx, ev); pubErr != nil {
			m.logger.Warn("job event publish failed", logger.String("job_id", job.ID), logger.Error(pubErr))
		}
	}
}

func (m *Manager) safeProcess(proc Processor, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Process(m.jobCtx, job)
}

func (m *Manager) scheduler() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	m.sweep()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep fires due schedules and requeues expired leases once.
func (m *Manager) sweep() {
	now := m.now()
	due, err := m.broker.ClaimDueRecurring(m.ctx, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("claim schedules failed", logger.Error(err))
	}
	for _, rec := range due {
		_, err := m.Enqueue(m.ctx, rec.Queue, rec.Name, rec.Payload, WithJobID(rec.InstanceID()))
		if err != nil {
			m.logger.Error("scheduled enqueue failed",
				logger.String("schedule", rec.ID), logger.Error(err))
		}
	}
	for _, queue := range m.Queues() {
		n, err := m.broker.RequeueStalled(m.ctx, queue, now)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("requeue stalled failed", logger.String("queue", queue), logger.Error(err))
			continue
		}
		if n > 0 {
			m.logger.Warn("stalled jobs requeued", logger.String("queue", queue), logger.Int("count", n))
		}
	}
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return data, nil
	}
}
