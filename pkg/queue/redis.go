package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Waiting scores are priority*priorityWeight + runAtMs so ZRANGE 0 0 yields
// the highest priority job, oldest first.
const priorityWeight = 1e13

// enqueueScript: KEYS jobs, prio, delayed. ARGV id, json, priority, runAtMs.
var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return redis.call('HGET', KEYS[1], ARGV[1])
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return false
`)

// leaseScript: KEYS delayed, waiting, active, prio, jobs. ARGV nowMs, leaseMs, weight.
var leaseScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES')
for i = 1, #due, 2 do
  local id = due[i]
  local p = tonumber(redis.call('HGET', KEYS[4], id) or '0')
  redis.call('ZADD', KEYS[2], string.format('%.0f', p * tonumber(ARGV[3]) + tonumber(due[i + 1])), id)
  redis.call('ZREM', KEYS[1], id)
end
local head = redis.call('ZRANGE', KEYS[2], 0, 0)
if #head == 0 then
  return false
end
local id = head[1]
redis.call('ZREM', KEYS[2], id)
redis.call('ZADD', KEYS[3], string.format('%.0f', now + tonumber(ARGV[2])), id)
return {id, redis.call('HGET', KEYS[5], id)}
`)

// finishScript: KEYS active, waiting, delayed, target, jobs, prio.
// ARGV id, json, finishedMs, keep.
var finishScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[5], ARGV[1], ARGV[2])
local keep = tonumber(ARGV[4])
if keep > 0 then
  local old = redis.call('ZRANGE', KEYS[4], 0, -(keep + 1))
  for _, id in ipairs(old) do
    redis.call('ZREM', KEYS[4], id)
    redis.call('HDEL', KEYS[5], id)
    redis.call('HDEL', KEYS[6], id)
  end
end
return 1
`)

// retryScript: KEYS active, delayed, jobs. ARGV id, json, runAtMs.
var retryScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// removeScript: KEYS waiting, delayed, active, jobs, prio. ARGV id.
// Returns 1 removed, -1 active, -2 finished, 0 unknown.
var removeScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if removed > 0 then
  redis.call('HDEL', KEYS[4], ARGV[1])
  redis.call('HDEL', KEYS[5], ARGV[1])
  return 1
end
if redis.call('ZSCORE', KEYS[3], ARGV[1]) then
  return -1
end
if redis.call('HEXISTS', KEYS[4], ARGV[1]) == 1 then
  return -2
end
return 0
`)

// stalledScript: KEYS active, waiting, prio. ARGV nowMs, weight.
var stalledScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local p = tonumber(redis.call('HGET', KEYS[3], id) or '0')
  redis.call('ZADD', KEYS[2], string.format('%.0f', p * tonumber(ARGV[2]) + now), id)
end
return #ids
`)

// registerScript: KEYS defs, next, every. ARGV id, json, nextMs, everyMs.
var registerScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[2], 'NX', ARGV[3], ARGV[1])
return 1
`)

// claimScript: KEYS defs, next, every. ARGV nowMs. Returns id, json, runAtMs triples.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'WITHSCORES')
local out = {}
for i = 1, #due, 2 do
  local id = due[i]
  local runAt = tonumber(due[i + 1])
  local def = redis.call('HGET', KEYS[1], id)
  if def then
    local every = tonumber(redis.call('HGET', KEYS[3], id) or '0')
    if every < 1 then every = 60000 end
    local nextRun = runAt + every
    if nextRun <= now then nextRun = now + every end
    redis.call('ZADD', KEYS[2], string.format('%.0f', nextRun), id)
    table.insert(out, id)
    table.insert(out, def)
    table.insert(out, string.format('%.0f', runAt))
  else
    redis.call('ZREM', KEYS[2], id)
  end
end
return out
`)

// RedisBroker is the durable Broker. Each queue keeps its jobs in a hash and
// its states in sorted sets; every multi-key transition runs as a Lua script.
type RedisBroker struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisBrokerOption configures RedisBroker.
type RedisBrokerOption func(*RedisBroker)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisBrokerOption {
	return func(r *RedisBroker) { r.prefix = prefix }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) RedisBrokerOption {
	return func(r *RedisBroker) { r.now = now }
}

// NewRedisBroker creates a broker on client.
func NewRedisBroker(client *redis.Client, opts ...RedisBrokerOption) *RedisBroker {
	rb := &RedisBroker{client: client, prefix: "lendpulse:queue", now: time.Now}
	for _, opt := range opts {
		opt(rb)
	}
	return rb
}

func (r *RedisBroker) key(queue, part string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, queue, part)
}

func (r *RedisBroker) repeatKeys() []string {
	return []string{r.prefix + ":repeat:defs", r.prefix + ":repeat:next", r.prefix + ":repeat:every"}
}

func (r *RedisBroker) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	stored := *job
	stored.Priority = clampPriority(stored.Priority)
	stored.State = StateWaiting
	if stored.RunAt.After(r.now()) {
		stored.State = StateDelayed
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	keys := []string{r.key(job.Queue, "jobs"), r.key(job.Queue, "prio"), r.key(job.Queue, "delayed")}
	res, err := enqueueScript.Run(ctx, r.client, keys, stored.ID, data, stored.Priority, stored.RunAt.UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return &stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s, ok := res.(string)
	if !ok {
		return &stored, nil
	}
	var existing Job
	if err := json.Unmarshal([]byte(s), &existing); err != nil {
		return nil, fmt.Errorf("unmarshal existing job: %w", err)
	}
	return &existing, nil
}

func (r *RedisBroker) LeaseNext(ctx context.Context, queue string, lease time.Duration) (*Job, error) {
	now := r.now()
	keys := []string{
		r.key(queue, "delayed"), r.key(queue, "waiting"), r.key(queue, "active"),
		r.key(queue, "prio"), r.key(queue, "jobs"),
	}
	res, err := leaseScript.Run(ctx, r.client, keys, now.UnixMilli(), lease.Milliseconds(), int64(priorityWeight)).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	if len(res) < 2 {
		return nil, nil
	}
	data, _ := res[1].(string)
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %v: %w", res[0], err)
	}
	job.State = StateActive
	job.ProcessedAt = now
	return &job, nil
}

func (r *RedisBroker) finish(ctx context.Context, job *Job, target string, keep int) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	keys := []string{
		r.key(job.Queue, "active"), r.key(job.Queue, "waiting"), r.key(job.Queue, "delayed"),
		r.key(job.Queue, target), r.key(job.Queue, "jobs"), r.key(job.Queue, "prio"),
	}
	return finishScript.Run(ctx, r.client, keys, job.ID, data, job.FinishedAt.UnixMilli(), keep).Err()
}

func (r *RedisBroker) Ack(ctx context.Context, job *Job, keep int) error {
	job.State = StateCompleted
	job.FinishedAt = r.now()
	if err := r.finish(ctx, job, "completed", keep); err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	return nil
}

func (r *RedisBroker) Fail(ctx context.Context, job *Job, cause error, keep int) (State, error) {
	state := retryOrFail(job, cause, r.now())
	if state == StateFailed {
		if err := r.finish(ctx, job, "failed", keep); err != nil {
			return "", fmt.Errorf("fail %s: %w", job.ID, err)
		}
		return state, nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	keys := []string{r.key(job.Queue, "active"), r.key(job.Queue, "delayed"), r.key(job.Queue, "jobs")}
	if err := retryScript.Run(ctx, r.client, keys, job.ID, data, job.RunAt.UnixMilli()).Err(); err != nil {
		return "", fmt.Errorf("retry %s: %w", job.ID, err)
	}
	return state, nil
}

func (r *RedisBroker) Remove(ctx context.Context, queue, id string) error {
	keys := []string{
		r.key(queue, "waiting"), r.key(queue, "delayed"), r.key(queue, "active"),
		r.key(queue, "jobs"), r.key(queue, "prio"),
	}
	n, err := removeScript.Run(ctx, r.client, keys, id).Int()
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	switch n {
	case 1:
		return nil
	case -1:
		return ErrJobActive
	case -2:
		return ErrJobFinished
	default:
		return ErrJobNotFound
	}
}

func (r *RedisBroker) Get(ctx context.Context, queue, id string) (*Job, error) {
	pipe := r.client.Pipeline()
	data := pipe.HGet(ctx, r.key(queue, "jobs"), id)
	scores := map[State]*redis.FloatCmd{
		StateWaiting:   pipe.ZScore(ctx, r.key(queue, "waiting"), id),
		StateDelayed:   pipe.ZScore(ctx, r.key(queue, "delayed"), id),
		StateActive:    pipe.ZScore(ctx, r.key(queue, "active"), id),
		StateCompleted: pipe.ZScore(ctx, r.key(queue, "completed"), id),
		StateFailed:    pipe.ZScore(ctx, r.key(queue, "failed"), id),
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	raw, err := data.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	for state, cmd := range scores {
		if cmd.Err() == nil {
			job.State = state
			if state == StateDelayed && !job.RunAt.After(r.now()) {
				job.State = StateWaiting
			}
		}
	}
	return &job, nil
}

func (r *RedisBroker) RegisterRecurring(ctx context.Context, rec Recurring) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	if err := registerScript.Run(ctx, r.client, r.repeatKeys(), rec.ID, data, rec.NextRun.UnixMilli(), rec.Every.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("register %s: %w", rec.ID, err)
	}
	return nil
}

func (r *RedisBroker) ClaimDueRecurring(ctx context.Context, now time.Time) ([]Recurring, error) {
	res, err := claimScript.Run(ctx, r.client, r.repeatKeys(), now.UnixMilli()).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim schedules: %w", err)
	}
	var out []Recurring
	for i := 0; i+2 < len(res); i += 3 {
		var rec Recurring
		if err := json.Unmarshal([]byte(res[i+1]), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal schedule %s: %w", res[i], err)
		}
		ms, err := strconv.ParseInt(res[i+2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse run time: %w", err)
		}
		rec.NextRun = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisBroker) ListRecurring(ctx context.Context) ([]Recurring, error) {
	keys := r.repeatKeys()
	defs, err := r.client.HGetAll(ctx, keys[0]).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	out := make([]Recurring, 0, len(defs))
	for id, raw := range defs {
		var rec Recurring
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal schedule %s: %w", id, err)
		}
		if score, err := r.client.ZScore(ctx, keys[1], id).Result(); err == nil {
			rec.NextRun = time.UnixMilli(int64(score))
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisBroker) RequeueStalled(ctx context.Context, queue string, now time.Time) (int, error) {
	keys := []string{r.key(queue, "active"), r.key(queue, "waiting"), r.key(queue, "prio")}
	n, err := stalledScript.Run(ctx, r.client, keys, now.UnixMilli(), int64(priorityWeight)).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	return n, nil
}

func (r *RedisBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	pipe := r.client.Pipeline()
	waiting := pipe.ZCard(ctx, r.key(queue, "waiting"))
	due := pipe.ZCount(ctx, r.key(queue, "delayed"), "-inf", now)
	delayed := pipe.ZCount(ctx, r.key(queue, "delayed"), "("+now, "+inf")
	active := pipe.ZCard(ctx, r.key(queue, "active"))
	completed := pipe.ZCard(ctx, r.key(queue, "completed"))
	failed := pipe.ZCard(ctx, r.key(queue, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", queue, err)
	}
	return Stats{
		Waiting:   waiting.Val() + due.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisBroker) Close() error { return nil }
