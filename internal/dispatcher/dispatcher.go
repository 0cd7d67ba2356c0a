// Package dispatcher sends document actions to the search engine as bulk
// batches, synchronously or in the background.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/syntrixbase/graphsync/internal/document"
	"github.com/syntrixbase/graphsync/internal/journal"
	"github.com/syntrixbase/graphsync/internal/metrics"
)

// Dispatch modes reported in results, logs and metrics.
const (
	ModeSync    = "sync"
	ModeAsync   = "async"
	ModeQueue   = "queue"
	ModeDeliver = "deliver" // queued batch sent by the queue worker
)

// DefaultBacklog is the number of async batches that may wait for a free
// worker when MaxInFlight is set.
const DefaultBacklog = 1024

// BulkClient executes one bulk request.
type BulkClient interface {
	Bulk(ctx context.Context, actions []document.Action) (*BulkResponse, error)
}

// BulkItem is the outcome of one action of a bulk request.
type BulkItem struct {
	Op     document.Op
	Index  string
	ID     string
	Status int
	Error  string
}

// BulkResponse is the answer to a bulk request.
type BulkResponse struct {
	Took   time.Duration
	Errors bool
	Items  []BulkItem
	Raw    []byte
}

// Failed returns the items that carry an error.
func (r *BulkResponse) Failed() []BulkItem {
	if r == nil {
		return nil
	}
	var out []BulkItem
	for _, item := range r.Items {
		if item.Error != "" {
			out = append(out, item)
		}
	}
	return out
}

// Queue hands batches over to a durable background worker.
type Queue interface {
	Publish(ctx context.Context, id string, actions []document.Action) error
}

// Journal stores failed batches.
type Journal interface {
	Record(e journal.Entry) (journal.Entry, error)
}

// Result describes a finished batch.
type Result struct {
	ID       string
	Mode     string
	Actions  []document.Action
	Duration time.Duration
	Err      error
}

// Options configures a Dispatcher.
type Options struct {
	// Timeout bounds each bulk request. Zero leaves it to the client.
	Timeout time.Duration

	// MaxInFlight limits concurrent background batches. Zero is unlimited.
	MaxInFlight int

	// Backlog is how many async batches may wait for a free worker when
	// MaxInFlight is set. A batch arriving at a full backlog is not sent:
	// it completes at once with ErrBacklogFull. Defaults to DefaultBacklog.
	Backlog int

	// Queue, when set, receives async batches instead of the client.
	Queue Queue

	// Journal, when set, records failed batches.
	Journal Journal

	Metrics metrics.Metrics

	// OnComplete is called after every batch, on the goroutine that ran it.
	OnComplete func(Result)

	Logger *slog.Logger
}

// Dispatcher submits batches to a BulkClient.
type Dispatcher struct {
	client BulkClient
	opts   Options
	logger *slog.Logger

	pool    *pool.Pool
	backlog chan batch // nil when MaxInFlight is unlimited

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a dispatcher for client.
func New(client BulkClient, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.NoopMetrics{}
	}

	if opts.MaxInFlight > 0 && opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}

	d := &Dispatcher{
		client: client,
		opts:   opts,
		logger: logger.With("component", "dispatcher"),
		pool:   pool.New(),
		done:   make(chan struct{}),
	}

	// A fixed set of workers drains the backlog; Dispatch never waits for
	// one of them.
	if opts.MaxInFlight > 0 {
		d.backlog = make(chan batch, opts.Backlog)
		for i := 0; i < opts.MaxInFlight; i++ {
			d.pool.Go(d.drain)
		}
	}
	return d
}

// batch is an async batch waiting for a worker.
type batch struct {
	ctx     context.Context
	id      string
	actions []document.Action
}

// Dispatch sends actions as one batch. An empty batch is a no-op.
//
// In sync mode the call blocks until the engine answers and returns a
// *TransportError or a *BulkWriteError on failure. In async mode the batch is
// handed to a background goroutine and the call returns at once, even when
// every worker is busy; failures are only logged, journaled and reported to
// OnComplete.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []document.Action, async bool) error {
	if len(actions) == 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	id := uuid.NewString()
	if !async {
		r := d.send(ctx, id, ModeSync, actions)
		d.complete(r)
		return r.Err
	}

	// The batch outlives the caller's context and slice.
	b := batch{
		ctx:     context.WithoutCancel(ctx),
		id:      id,
		actions: append([]document.Action(nil), actions...),
	}
	if d.backlog == nil {
		d.pool.Go(func() { d.run(b) })
		return nil
	}

	select {
	case d.backlog <- b:
	default:
		d.complete(Result{ID: id, Mode: ModeAsync, Actions: b.actions, Err: ErrBacklogFull})
	}
	return nil
}

func (d *Dispatcher) drain() {
	for b := range d.backlog {
		d.run(b)
	}
}

func (d *Dispatcher) run(b batch) {
	if d.opts.Queue != nil {
		d.complete(d.publish(b.ctx, b.id, b.actions))
		return
	}
	d.complete(d.send(b.ctx, b.id, ModeAsync, b.actions))
}

func (d *Dispatcher) send(ctx context.Context, id, mode string, actions []document.Action) Result {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.client.Bulk(ctx, actions)
	r := Result{ID: id, Mode: mode, Actions: actions, Duration: time.Since(start)}

	switch {
	case errors.Is(err, ErrEncode):
		r.Err = err
	case err != nil:
		r.Err = &TransportError{Err: err}
	case resp != nil && (resp.Errors || len(resp.Failed()) > 0):
		r.Err = &BulkWriteError{Payload: resp.Raw, Failed: resp.Failed()}
	}
	return r
}

func (d *Dispatcher) publish(ctx context.Context, id string, actions []document.Action) Result {
	start := time.Now()
	err := d.opts.Queue.Publish(ctx, id, actions)
	return Result{ID: id, Mode: ModeQueue, Actions: actions, Duration: time.Since(start), Err: err}
}

// Deliver sends a batch that was queued earlier and runs the completion
// path for it. Used by the queue worker.
func (d *Dispatcher) Deliver(ctx context.Context, id string, actions []document.Action) error {
	if len(actions) == 0 {
		return nil
	}
	r := d.send(ctx, id, ModeDeliver, actions)
	d.complete(r)
	return r.Err
}

func (d *Dispatcher) complete(r Result) {
	d.opts.Metrics.IncBatch(r.Mode)
	d.opts.Metrics.ObserveDispatchLatency(r.Mode, r.Duration)

	if r.Err == nil {
		d.logger.Debug("Batch dispatched", "batch", r.ID, "mode", r.Mode, "actions", len(r.Actions), "duration", r.Duration)
	} else {
		reason := Reason(r.Err)
		d.opts.Metrics.IncBatchFailure(r.Mode, reason)
		if r.Mode == ModeAsync || r.Mode == ModeQueue {
			d.logger.Error("Batch failed", "batch", r.ID, "mode", r.Mode, "actions", len(r.Actions), "reason", reason, "error", r.Err)
		}
		d.record(r, reason)
	}

	if d.opts.OnComplete != nil {
		d.opts.OnComplete(r)
	}
}

func (d *Dispatcher) record(r Result, reason string) {
	if d.opts.Journal == nil {
		return
	}
	e := journal.Entry{
		ID:      r.ID,
		Mode:    r.Mode,
		Reason:  reason,
		Error:   r.Err.Error(),
		Actions: r.Actions,
	}
	var bwe *BulkWriteError
	if errors.As(r.Err, &bwe) {
		e.Payload = string(bwe.Payload)
	}
	if _, err := d.opts.Journal.Record(e); err != nil {
		d.logger.Warn("Failed to journal batch", "batch", r.ID, "error", err)
	}
}

// Client returns the bulk client.
func (d *Dispatcher) Client() BulkClient {
	return d.client
}

// Close stops accepting batches and waits for background batches to finish
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		if d.backlog != nil {
			close(d.backlog)
		}
		d.mu.Unlock()

		go func() {
			d.pool.Wait()
			close(d.done)
		}()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
