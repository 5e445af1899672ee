package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/shared"
)

// Executor performs the work a claimed job describes
type Executor interface {
	Execute(ctx context.Context, job *fiscal.EmissionJob) error
}

// JobMetrics receives per-attempt outcomes. The queue works fine
// without one.
type JobMetrics interface {
	RecordJob(ctx context.Context, jobType, outcome string, duration time.Duration)
}

// Config holds the worker-pool tuning knobs
type Config struct {
	// Workers is the number of concurrent consumers
	Workers int
	// BufferSize is the capacity of the in-memory job channel
	BufferSize int
	// PollInterval is how often pending jobs are re-read from storage
	PollInterval time.Duration
	// PollBatch is the maximum number of jobs picked up per poll
	PollBatch int
	// JobTimeout bounds a single execution attempt
	JobTimeout time.Duration
	// MaxRetries is the number of in-process retries before a job is
	// marked as errored
	MaxRetries int
	// RetryDelay is the base delay between retries, doubled per attempt
	RetryDelay time.Duration
}

// DefaultConfig returns the default worker-pool configuration
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		BufferSize:   64,
		PollInterval: 10 * time.Second,
		PollBatch:    20,
		JobTimeout:   2 * time.Minute,
		MaxRetries:   3,
		RetryDelay:   5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return ErrInvalidConfig
	}
	if c.BufferSize <= 0 {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.PollBatch <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// delivery wraps a job with its in-process retry bookkeeping. Retries
// are tracked per delivery, not on the persisted job, so a restarted
// process always grants a fresh retry budget.
type delivery struct {
	job      *fiscal.EmissionJob
	attempts int
	lastErr  string
}

// EmissionQueue is the in-process worker pool consuming emission jobs.
// Jobs reach it two ways: a direct hand-off right after the job row is
// persisted, and a storage poller that picks up rows the hand-off lost
// to a full buffer or a crash. The repository's Claim call keeps the two
// paths from processing the same job twice.
type EmissionQueue struct {
	config   Config
	jobRepo  fiscal.EmissionJobRepository
	executor Executor
	metrics  JobMetrics
	logger   *zap.Logger

	jobs      chan *delivery
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewEmissionQueue creates a stopped worker pool
func NewEmissionQueue(config Config, jobRepo fiscal.EmissionJobRepository, executor Executor, logger *zap.Logger) (*EmissionQueue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmissionQueue{
		config:   config,
		jobRepo:  jobRepo,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *delivery, config.BufferSize),
	}, nil
}

// SetMetrics attaches an outcome recorder
func (q *EmissionQueue) SetMetrics(metrics JobMetrics) {
	q.metrics = metrics
}

// Start launches the workers and the pending-job poller
func (q *EmissionQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = true
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(1)
	go q.poll(ctx)

	q.logger.Info("Emission queue started",
		zap.Int("workers", q.config.Workers),
		zap.Duration("poll_interval", q.config.PollInterval),
		zap.Duration("job_timeout", q.config.JobTimeout),
	)

	return nil
}

// Stop gracefully stops the queue, waiting for in-flight jobs until ctx
// expires
func (q *EmissionQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Emission queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn("Emission queue stop timed out")
		return ctx.Err()
	}
}

// Enqueue hands a freshly persisted job to the pool. A full buffer is
// not an error for the caller's flow: the poller picks the row up later.
func (q *EmissionQueue) Enqueue(job *fiscal.EmissionJob) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return ErrQueueNotRunning
	}
	q.mu.Unlock()

	select {
	case q.jobs <- &delivery{job: job}:
		q.logger.Debug("Emission job enqueued",
			zap.String("job_id", job.ID.String()),
			zap.String("company_id", job.CompanyID.String()),
		)
		return nil
	default:
		return ErrQueueFull
	}
}

// poll re-reads pending jobs from storage and feeds them to the workers
func (q *EmissionQueue) poll(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.pollOnce(ctx)
		}
	}
}

func (q *EmissionQueue) pollOnce(ctx context.Context) {
	pending, err := q.jobRepo.FindPending(ctx, q.config.PollBatch)
	if err != nil {
		q.logger.Error("Failed to poll pending emission jobs", zap.Error(err))
		return
	}

	for i := range pending {
		job := pending[i]
		select {
		case q.jobs <- &delivery{job: &job}:
		default:
			// buffer full, the next poll retries
			return
		}
	}
}

// worker consumes deliveries until the queue stops. The jobs channel is
// never closed: undelivered entries stay persisted as pending rows and
// the poller recovers them on the next start.
func (q *EmissionQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-q.jobs:
			q.process(ctx, d, workerID)
		}
	}
}

// process claims and executes one delivery
func (q *EmissionQueue) process(ctx context.Context, d *delivery, workerID int) {
	// First attempt claims the row. Claim losing to another consumer is
	// the duplicate-delivery case, not a failure.
	if d.attempts == 0 {
		claimed, err := q.jobRepo.Claim(ctx, d.job.ID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				q.logger.Debug("Emission job already claimed",
					zap.String("job_id", d.job.ID.String()),
				)
				return
			}
			q.logger.Error("Failed to claim emission job",
				zap.String("job_id", d.job.ID.String()),
				zap.Error(err),
			)
			return
		}
		d.job = claimed
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.config.JobTimeout)
	started := time.Now()
	err := q.executor.Execute(jobCtx, d.job)
	cancel()

	if q.metrics != nil {
		outcome := "done"
		if err != nil {
			outcome = "failed"
		}
		q.metrics.RecordJob(ctx, string(d.job.Type), outcome, time.Since(started))
	}

	if err != nil {
		d.attempts++
		q.logger.Error("Emission job attempt failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", d.job.ID.String()),
			zap.String("company_id", d.job.CompanyID.String()),
			zap.Int("attempt", d.attempts),
			zap.Error(err),
		)

		if d.attempts <= q.config.MaxRetries {
			d.lastErr = err.Error()
			delay := q.config.RetryDelay * time.Duration(1<<(d.attempts-1))
			time.AfterFunc(delay, func() { q.redeliver(d) })
			return
		}

		d.job.Fail(err.Error())
		if saveErr := q.jobRepo.Save(ctx, d.job); saveErr != nil {
			q.logger.Error("Failed to persist errored emission job",
				zap.String("job_id", d.job.ID.String()),
				zap.Error(saveErr),
			)
		}
		return
	}

	d.job.Complete()
	if saveErr := q.jobRepo.Save(ctx, d.job); saveErr != nil {
		q.logger.Error("Failed to persist completed emission job",
			zap.String("job_id", d.job.ID.String()),
			zap.Error(saveErr),
		)
		return
	}

	q.logger.Info("Emission job completed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", d.job.ID.String()),
		zap.String("company_id", d.job.CompanyID.String()),
	)
}

// redeliver hands a retried delivery back to the workers. If the queue
// stopped in the meantime or the buffer is full, the row goes back to
// pending so the poller (or the next start) picks it up instead of the
// delivery vanishing with the process memory.
func (q *EmissionQueue) redeliver(d *delivery) {
	q.mu.Lock()
	running := q.isRunning
	q.mu.Unlock()

	if running {
		select {
		case q.jobs <- d:
			return
		default:
		}
	}
	q.park(d)
}

// park persists the delivery's job back to pending with the failure
// that caused the hand-back
func (q *EmissionQueue) park(d *delivery) {
	d.job.Requeue(d.lastErr)
	if err := q.jobRepo.Save(context.Background(), d.job); err != nil {
		q.logger.Error("Failed to hand emission job back to the pending pool",
			zap.String("job_id", d.job.ID.String()),
			zap.Error(err),
		)
		return
	}
	q.logger.Warn("Emission job handed back to the pending pool",
		zap.String("job_id", d.job.ID.String()),
		zap.String("last_error", d.lastErr),
	)
}
