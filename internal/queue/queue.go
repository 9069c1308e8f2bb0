package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"attest-indexer/internal/metrics"

	"github.com/google/uuid"
)

// JobType identifies what a job does; a Handler must be registered per type.
type JobType string

const (
	JobFetchEvents        JobType = "fetch-events"
	JobFetchOperations    JobType = "fetch-contract-operations"
	JobFetchRecurring     JobType = "fetch-recurring"
	JobBackfillOperations JobType = "backfill-missing-operations"
)

// Payload carries the job's ledger window and contract scope.
type Payload struct {
	StartLedger     *uint32
	EndLedger       *uint32
	ContractIDs     []string
	IncludeFailedTx bool
}

// Job is exclusively owned by the queue: it is mutated in place by the
// worker loop and never by callers.
type Job struct {
	ID          string
	Type        JobType
	Payload     Payload
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
}

// continuous jobs represent a perpetual "follow the chain tip"
// subscription: they requeue on success and retry forever on failure.
func (j *Job) continuous() bool {
	if j.Type != JobFetchEvents && j.Type != JobFetchRecurring {
		return false
	}
	return j.Payload.EndLedger == nil
}

// Result is what a handler reports back to the scheduling loop.
type Result struct {
	// ProcessedUpToLedger advances the job's StartLedger on requeue.
	ProcessedUpToLedger uint32

	// CaughtUp widens the requeue delay: the fetcher is waiting for the
	// chain tip to advance and hammering the RPC gains nothing.
	CaughtUp bool

	// Done stops a continuous job from requeuing (bounded range reached).
	Done bool
}

// Handler executes one job to completion.
type Handler func(ctx context.Context, job *Job) (Result, error)

// Phase is a job lifecycle signal.
type Phase string

const (
	PhaseEnqueued  Phase = "enqueued"
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseDead      Phase = "dead"
)

// Listener observes job lifecycle signals. A dead job is only observable
// through its signal; the queue drops it silently otherwise.
type Listener func(phase Phase, job Job)

// Options configures the queue's timing.
type Options struct {
	PollInterval time.Duration
	BaseBackoff  time.Duration
}

// Queue is a single-worker, poll-driven job scheduler. One job runs to
// completion per tick; there is never true parallel execution of two
// ingestion jobs. That is the backpressure protecting the rate-limited
// upstream RPC endpoint.
type Queue struct {
	mu        sync.Mutex
	pending   []*Job
	running   bool
	handlers  map[JobType]Handler
	listeners []Listener

	pollInterval time.Duration
	baseBackoff  time.Duration

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(opts Options) *Queue {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	baseBackoff := opts.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	return &Queue{
		handlers:     make(map[JobType]Handler),
		pollInterval: pollInterval,
		baseBackoff:  baseBackoff,
	}
}

// Handle registers the handler for a job type. Must be called before Start.
func (q *Queue) Handle(jobType JobType, handler Handler) {
	q.handlers[jobType] = handler
}

// Subscribe registers a lifecycle listener. Must be called before Start.
func (q *Queue) Subscribe(listener Listener) {
	q.listeners = append(q.listeners, listener)
}

// EnqueueOption tunes a single enqueue call.
type EnqueueOption func(*Job)

// WithMaxAttempts bounds how often a failing job retries before it is
// dropped. Ignored by continuous jobs, which retry forever.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) { j.MaxAttempts = n }
}

// WithDelay postpones the job's first run.
func WithDelay(d time.Duration) EnqueueOption {
	return func(j *Job) { j.NextRunAt = time.Now().Add(d) }
}

// Enqueue adds a job to the pending set and returns its id.
func (q *Queue) Enqueue(jobType JobType, payload Payload, opts ...EnqueueOption) string {
	job := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: 3,
		NextRunAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(job)
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.JobsEnqueued.WithLabelValues(string(jobType)).Inc()
	metrics.QueueDepth.Set(float64(depth))
	q.notify(PhaseEnqueued, *job)

	slog.Debug("Job enqueued",
		"job_id", job.ID,
		"type", job.Type,
	)
	return job.ID
}

// Start launches the poll loop. Each tick selects at most one due job and
// executes it to completion before the next selection.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.loop(ctx)

	slog.Info("Ingestion queue started",
		"poll_interval", q.pollInterval,
		"base_backoff", q.baseBackoff,
	)
}

// Stop shuts the poll loop down, waiting for an in-flight job to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	stopCh, doneCh := q.stopCh, q.doneCh
	q.mu.Unlock()

	close(stopCh)
	<-doneCh
	slog.Info("Ingestion queue stopped")
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick pops the due job with the earliest NextRunAt and runs it.
func (q *Queue) tick(ctx context.Context) {
	job := q.takeDue()
	if job == nil {
		return
	}

	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	q.runJob(ctx, job)

	q.mu.Lock()
	q.running = false
	metrics.QueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()
}

func (q *Queue) takeDue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	best := -1
	for i, job := range q.pending {
		if job.NextRunAt.After(now) {
			continue
		}
		if best == -1 || job.NextRunAt.Before(q.pending[best].NextRunAt) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	job := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	return job
}

// runJob executes one job and decides its afterlife: requeue, complete, or
// dead-letter. Handler errors are contained here; they never crash the loop.
func (q *Queue) runJob(ctx context.Context, job *Job) {
	handler, ok := q.handlers[job.Type]
	if !ok {
		slog.Error("No handler registered for job type, dropping job",
			"job_id", job.ID,
			"type", job.Type,
		)
		q.notify(PhaseDead, *job)
		return
	}

	q.notify(PhaseStarted, *job)
	result, err := handler(ctx, job)

	if err != nil {
		q.handleFailure(job, err)
		return
	}

	q.notify(PhaseCompleted, *job)

	if q.shouldFollowUp(job, result) {
		q.requeueContinuous(job, result)
	}
}

// shouldFollowUp decides whether a successful fetch job keeps following the
// chain: always for unbounded jobs, and for bounded ones until the window's
// end ledger has been processed.
func (q *Queue) shouldFollowUp(job *Job, result Result) bool {
	if result.Done {
		return false
	}
	if job.Type != JobFetchEvents && job.Type != JobFetchRecurring {
		return false
	}
	if job.Payload.EndLedger != nil {
		return result.ProcessedUpToLedger < *job.Payload.EndLedger
	}
	return true
}

func (q *Queue) handleFailure(job *Job, err error) {
	job.Attempts++
	metrics.JobsFailed.WithLabelValues(string(job.Type)).Inc()
	q.notify(PhaseFailed, *job)

	if !job.continuous() && job.Attempts >= job.MaxAttempts {
		// Terminal: reported via the lifecycle signal, then dropped.
		slog.Warn("Job exhausted attempts, dropping",
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.Attempts,
			"error", err,
		)
		metrics.JobsDead.Inc()
		q.notify(PhaseDead, *job)
		return
	}

	delay := computeBackoff(q.baseBackoff, job.Attempts)
	job.NextRunAt = time.Now().Add(delay)

	slog.Warn("Job failed, retrying with backoff",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
		"retry_in", delay,
		"error", err,
	)

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
}

// requeueContinuous puts a perpetual job back with its window advanced past
// the last processed ledger. When the fetcher reports it is waiting at the
// chain tip, the delay widens so idle polling does not burn RPC quota.
func (q *Queue) requeueContinuous(job *Job, result Result) {
	if result.ProcessedUpToLedger > 0 {
		next := result.ProcessedUpToLedger + 1
		job.Payload.StartLedger = &next
	}
	job.Attempts = 0

	delay := q.pollInterval
	if result.CaughtUp {
		delay = 5 * q.pollInterval
		if delay < 5*time.Second {
			delay = 5 * time.Second
		}
	}
	job.NextRunAt = time.Now().Add(delay)

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
}

func (q *Queue) notify(phase Phase, job Job) {
	for _, listener := range q.listeners {
		listener(phase, job)
	}
}

// JobSummary is the externally visible slice of a pending job.
type JobSummary struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	Attempts  int       `json:"attempts"`
	NextRunAt time.Time `json:"nextRunAt"`
}

// Status is a snapshot of the queue for the status endpoint.
type Status struct {
	Size     int          `json:"size"`
	Running  bool         `json:"running"`
	NextJobs []JobSummary `json:"nextJobs"`
}

// Status reports queue depth, whether a job is executing right now, and the
// next ten jobs by run time.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]JobSummary, 0, len(q.pending))
	for _, job := range q.pending {
		jobs = append(jobs, JobSummary{
			ID:        job.ID,
			Type:      job.Type,
			Attempts:  job.Attempts,
			NextRunAt: job.NextRunAt,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextRunAt.Before(jobs[j].NextRunAt) })
	if len(jobs) > 10 {
		jobs = jobs[:10]
	}

	return Status{
		Size:     len(q.pending),
		Running:  q.running,
		NextJobs: jobs,
	}
}
