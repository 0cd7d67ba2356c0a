package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrAlreadyRunning is returned when the same labels are being re-indexed.
	ErrAlreadyRunning = errors.New("re-index already in progress")
	// ErrOrchestratorClosed is returned by Start after Close.
	ErrOrchestratorClosed = errors.New("orchestrator closed")
)

// Status represents the current status of a re-index job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Done reports whether the status is final.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Runner runs one re-index. *Indexer implements it.
type Runner interface {
	Run(ctx context.Context, labels []string, opts Options) (Result, error)
}

// Job is a single background re-index.
type Job struct {
	ID      string
	Labels  []string
	Options Options

	seq       uint64
	status    Status
	startTime time.Time
	endTime   time.Time
	result    Result
	err       string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Progress returns a snapshot of the job progress.
func (j *Job) Progress() JobProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobProgress{
		ID:        j.ID,
		Labels:    slices.Clone(j.Labels),
		Status:    j.status,
		Batches:   j.result.Batches,
		Documents: j.result.Documents,
		StartTime: j.startTime,
		EndTime:   j.endTime,
		Error:     j.err,
	}
}

// JobProgress is a snapshot of job progress.
type JobProgress struct {
	ID        string    `json:"id"`
	Labels    []string  `json:"labels"`
	Status    Status    `json:"status"`
	Batches   int       `json:"batches"`
	Documents int       `json:"documents"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Error     string    `json:"error,omitempty"`
}

// Orchestrator runs re-index jobs in the background, at most MaxConcurrent
// at a time. Jobs beyond that wait in FIFO order.
type Orchestrator struct {
	runner        Runner
	maxConcurrent int
	logger        *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	jobs    map[string]*Job // job id -> job
	seq     uint64
	running int
	pending []*Job // waiting for capacity
}

// NewOrchestrator creates an orchestrator. maxConcurrent <= 0 means 2.
func NewOrchestrator(runner Runner, maxConcurrent int, logger *slog.Logger) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		runner:        runner,
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "reindex-orchestrator"),
		ctx:           ctx,
		stop:          stop,
		jobs:          make(map[string]*Job),
	}
}

// Start queues a re-index of labels and returns the job id.
func (o *Orchestrator) Start(labels []string, opts Options) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return "", ErrOrchestratorClosed
	}

	key := labelKey(labels)
	for _, job := range o.jobs {
		if labelKey(job.Labels) != key {
			continue
		}
		job.mu.Lock()
		active := !job.status.Done()
		job.mu.Unlock()
		if active {
			return "", fmt.Errorf("%w for labels %s (job %s)", ErrAlreadyRunning, key, job.ID)
		}
	}

	o.seq++
	job := &Job{
		ID:      uuid.NewString(),
		Labels:  slices.Clone(labels),
		Options: opts,
		seq:     o.seq,
		status:  StatusPending,
		done:    make(chan struct{}),
	}
	o.jobs[job.ID] = job

	if o.running < o.maxConcurrent {
		o.launch(job)
	} else {
		o.pending = append(o.pending, job)
		o.logger.Info("Re-index job queued", "job", job.ID, "labels", key)
	}
	return job.ID, nil
}

// launch starts job. Must be called with o.mu held.
func (o *Orchestrator) launch(job *Job) {
	jobCtx, cancel := context.WithCancel(o.ctx)
	job.mu.Lock()
	job.cancel = cancel
	job.status = StatusRunning
	job.startTime = time.Now()
	job.mu.Unlock()

	o.running++
	o.wg.Add(1)
	go o.runJob(jobCtx, job)
}

func (o *Orchestrator) runJob(ctx context.Context, job *Job) {
	defer o.wg.Done()
	defer close(job.done)

	o.logger.Info("Starting re-index job", "job", job.ID, "labels", job.Labels)

	opts := job.Options
	userProgress := opts.Progress
	opts.Progress = func(r Result) {
		job.mu.Lock()
		job.result = r
		job.mu.Unlock()
		if userProgress != nil {
			userProgress(r)
		}
	}

	result, err := o.runner.Run(ctx, job.Labels, opts)

	job.mu.Lock()
	job.result = result
	job.endTime = time.Now()
	switch {
	case err == nil:
		job.status = StatusCompleted
		o.logger.Info("Re-index job completed",
			"job", job.ID,
			"duration", job.endTime.Sub(job.startTime),
			"batches", result.Batches,
			"documents", result.Documents)
	case ctx.Err() != nil:
		job.status = StatusCanceled
		o.logger.Info("Re-index job canceled", "job", job.ID, "documents", result.Documents)
	default:
		job.status = StatusFailed
		job.err = err.Error()
		o.logger.Error("Re-index job failed", "job", job.ID, "error", err)
	}
	job.cancel()
	job.mu.Unlock()

	o.mu.Lock()
	o.running--
	if len(o.pending) > 0 && o.running < o.maxConcurrent && !o.closed {
		next := o.pending[0]
		o.pending = o.pending[1:]
		o.launch(next)
	}
	o.mu.Unlock()
}

// Cancel cancels a running or pending job.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	job.mu.Lock()
	defer job.mu.Unlock()

	switch job.status {
	case StatusPending:
		o.pending = slices.DeleteFunc(o.pending, func(p *Job) bool { return p.ID == id })
		job.status = StatusCanceled
		job.endTime = time.Now()
		close(job.done)
	case StatusRunning:
		job.cancel()
		// runJob records the final status
	default:
		return fmt.Errorf("job %s is not pending or running (status: %s)", id, job.status)
	}
	return nil
}

// Job returns the progress of a job.
func (o *Orchestrator) Job(id string) (JobProgress, error) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	o.mu.Unlock()

	if !ok {
		return JobProgress{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Progress(), nil
}

// Wait blocks until the job finishes or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (JobProgress, error) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	o.mu.Unlock()

	if !ok {
		return JobProgress{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-job.done:
		return job.Progress(), nil
	case <-ctx.Done():
		return job.Progress(), ctx.Err()
	}
}

// List returns all known jobs, oldest first.
func (o *Orchestrator) List() []JobProgress {
	o.mu.Lock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	o.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].seq < jobs[j].seq })

	result := make([]JobProgress, len(jobs))
	for i, job := range jobs {
		result[i] = job.Progress()
	}
	return result
}

// Cleanup removes finished jobs that ended more than maxAge ago.
func (o *Orchestrator) Cleanup(maxAge time.Duration) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range o.jobs {
		job.mu.Lock()
		if job.status.Done() && !job.endTime.IsZero() && job.endTime.Before(cutoff) {
			delete(o.jobs, id)
			removed++
		}
		job.mu.Unlock()
	}
	return removed
}

// Close cancels every job and waits for running ones to stop.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, job := range pending {
		job.mu.Lock()
		job.status = StatusCanceled
		job.endTime = time.Now()
		close(job.done)
		job.mu.Unlock()
	}
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func labelKey(labels []string) string {
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}
