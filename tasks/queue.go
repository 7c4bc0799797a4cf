// Package tasks runs background work (website enrichment, backlink analysis)
// on an in-process worker pool with fixed-delay retries.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
	ErrUnknownTask = errors.New("no handler registered for task")
)

// Handler executes one attempt of a task.
type Handler func(ctx context.Context, task *Task) error

// Task is a unit of queued work.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	RetryDelay time.Duration   `json:"retry_delay"`
	Timeout    time.Duration   `json:"timeout"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v interface{}) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of task %s: %w", t.Name, err)
	}
	return nil
}

// LastAttempt reports whether a failure of the current attempt is final.
func (t *Task) LastAttempt() bool {
	return t.Attempt > t.MaxRetries
}

// Config holds the pool defaults. Zero MaxRetries disables retries and zero
// Timeout leaves attempts unbounded.
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Options override the pool defaults for a single task; zero fields keep
// the defaults.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

type Stats struct {
	Queued    int                    `json:"queued"`
	Running   int                    `json:"running"`
	Retrying  int                    `json:"retrying"`
	Completed int64                  `json:"completed"`
	Failed    int64                  `json:"failed"`
	Retried   int64                  `json:"retried"`
	Tasks     map[string]TaskMetrics `json:"tasks"`
}

// TaskMetrics counts attempts of one task name by outcome. Durations cover
// every attempt, retried ones included.
type TaskMetrics struct {
	Completed       int64   `json:"completed"`
	Failed          int64   `json:"failed"`
	Retried         int64   `json:"retried"`
	Attempts        int64   `json:"attempts"`
	TotalDurationMS int64   `json:"total_duration_ms"`
	MaxDurationMS   int64   `json:"max_duration_ms"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
}

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeRetried   = "retried"
)

// observe records one finished attempt. Callers hold q.mu.
func (q *Queue) observe(name, outcome string, d time.Duration) {
	m := q.metrics[name]
	ms := d.Milliseconds()
	m.Attempts++
	m.TotalDurationMS += ms
	if ms > m.MaxDurationMS {
		m.MaxDurationMS = ms
	}
	switch outcome {
	case outcomeCompleted:
		m.Completed++
		q.stats.Completed++
	case outcomeFailed:
		m.Failed++
		q.stats.Failed++
	case outcomeRetried:
		m.Retried++
		q.stats.Retried++
	}
	q.metrics[name] = m
}

// Queue dispatches tasks to handlers registered by name.
type Queue struct {
	cfg      Config
	tasks    chan *Task
	handlers map[string]Handler

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running int
	stats   Stats
	metrics map[string]TaskMetrics
	started bool
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Queue{
		cfg:      cfg,
		tasks:    make(chan *Task, cfg.QueueSize),
		handlers: make(map[string]Handler),
		timers:   make(map[string]*time.Timer),
		metrics:  make(map[string]TaskMetrics),
	}
}

// Register binds a handler to a task name. Handlers must be registered
// before Start.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue queues a task and returns its ID without waiting for it to run.
func (q *Queue) Enqueue(name string, payload interface{}, opts Options) (string, error) {
	q.mu.Lock()
	_, known := q.handlers[name]
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", ErrQueueClosed
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}

	t := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    data,
		MaxRetries: q.cfg.MaxRetries,
		RetryDelay: q.cfg.RetryDelay,
		Timeout:    q.cfg.Timeout,
		EnqueuedAt: time.Now(),
	}
	if opts.MaxRetries > 0 {
		t.MaxRetries = opts.MaxRetries
	}
	if opts.RetryDelay > 0 {
		t.RetryDelay = opts.RetryDelay
	}
	if opts.Timeout > 0 {
		t.Timeout = opts.Timeout
	}

	select {
	case q.tasks <- t:
		slog.Info("Task enqueued", "task_id", t.ID, "task", name)
		return t.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	slog.Info("Task queue started", "workers", q.cfg.Workers, "queue_size", q.cfg.QueueSize)
}

// Stop rejects new tasks, drops pending retries, cancels running attempts
// and waits for the workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	slog.Info("Task queue stopped", "dropped", len(q.tasks))
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Queued = len(q.tasks)
	s.Running = q.running
	s.Retrying = len(q.timers)
	s.Tasks = make(map[string]TaskMetrics, len(q.metrics))
	for name, m := range q.metrics {
		if m.Attempts > 0 {
			m.AvgDurationMS = float64(m.TotalDurationMS) / float64(m.Attempts)
		}
		s.Tasks[name] = m
	}
	return s
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.process(ctx, t)
		}
	}
}

func (q *Queue) process(ctx context.Context, t *Task) {
	q.mu.Lock()
	h := q.handlers[t.Name]
	q.running++
	q.mu.Unlock()

	t.Attempt++
	start := time.Now()
	err := q.run(ctx, h, t)
	elapsed := time.Since(start)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()

	if err == nil {
		q.mu.Lock()
		q.observe(t.Name, outcomeCompleted, elapsed)
		q.mu.Unlock()
		slog.Info("Task completed", "task_id", t.ID, "task", t.Name, "status", outcomeCompleted, "attempt", t.Attempt, "duration_ms", elapsed.Milliseconds())
		return
	}

	if ctx.Err() != nil {
		slog.Warn("Task interrupted by shutdown", "task_id", t.ID, "task", t.Name, "duration_ms", elapsed.Milliseconds())
		return
	}
	if t.LastAttempt() {
		q.mu.Lock()
		q.observe(t.Name, outcomeFailed, elapsed)
		q.mu.Unlock()
		slog.Error("Task failed", "task_id", t.ID, "task", t.Name, "status", outcomeFailed, "attempts", t.Attempt, "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}
	q.scheduleRetry(t, elapsed, err)
}

func (q *Queue) run(ctx context.Context, h Handler, t *Task) (err error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task panicked", "task_id", t.ID, "task", t.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return h(ctx, t)
}

func (q *Queue) scheduleRetry(t *Task, elapsed time.Duration, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.observe(t.Name, outcomeRetried, elapsed)
	slog.Warn("Task failed, retrying", "task_id", t.ID, "task", t.Name, "status", outcomeRetried, "attempt", t.Attempt, "duration_ms", elapsed.Milliseconds(), "retry_in", t.RetryDelay.String(), "error", cause)

	q.timers[t.ID] = time.AfterFunc(t.RetryDelay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, pending := q.timers[t.ID]; !pending {
			return
		}
		delete(q.timers, t.ID)
		select {
		case q.tasks <- t:
		default:
			q.stats.Failed++
			m := q.metrics[t.Name]
			m.Failed++
			q.metrics[t.Name] = m
			slog.Error("Task dropped, queue full on retry", "task_id", t.ID, "task", t.Name)
		}
	})
}
