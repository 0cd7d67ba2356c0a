// Package listener connects graph commits to the dispatcher: changes are
// classified before the commit and dispatched once it is durable.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/syntrixbase/graphsync/internal/classifier"
	"github.com/syntrixbase/graphsync/internal/document"
	"github.com/syntrixbase/graphsync/internal/indexspec"
	"github.com/syntrixbase/graphsync/internal/metrics"
	"github.com/syntrixbase/graphsync/pkg/graph"
)

// Dispatcher sends a batch of actions to the search engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, actions []document.Action, async bool) error
}

// Options configures a Listener.
type Options struct {
	// Async dispatches batches in the background.
	Async bool

	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// Stats are counters since the listener was created.
type Stats struct {
	Transactions int64 // committed transactions that produced actions
	Actions      int64 // actions handed to the dispatcher
	Failures     int64 // dispatch errors and recovered panics
}

// Listener implements graph.TransactionListener.
type Listener struct {
	holder     *indexspec.Holder
	mapper     *document.Mapper
	dispatcher Dispatcher
	async      atomic.Bool
	metrics    metrics.Metrics
	logger     *slog.Logger

	transactions atomic.Int64
	actions      atomic.Int64
	failures     atomic.Int64
}

var _ graph.TransactionListener = (*Listener)(nil)

// New creates a listener classifying with the mapping currently published by
// holder.
func New(holder *indexspec.Holder, mapper *document.Mapper, d Dispatcher, opts Options) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.NoopMetrics{}
	}
	if holder == nil {
		holder = indexspec.NewHolder(nil)
	}
	if mapper == nil {
		mapper = document.NewMapper(document.DefaultOptions())
	}

	l := &Listener{
		holder:     holder,
		mapper:     mapper,
		dispatcher: d,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "listener"),
	}
	l.async.Store(opts.Async)
	return l
}

// Classifier returns a classifier bound to the current mapping.
func (l *Listener) Classifier() *classifier.Classifier {
	return classifier.New(l.holder.Load(), l.mapper)
}

// SetAsync switches between background and inline dispatch.
func (l *Listener) SetAsync(async bool) {
	l.async.Store(async)
}

// BeforeCommit classifies tx and returns the pending actions as state. It
// never aborts the transaction.
func (l *Listener) BeforeCommit(ctx context.Context, tx graph.ChangeSet) (state graph.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.failures.Add(1)
			l.logger.Error("Classification panic recovered",
				"error", r,
				"stack", string(debug.Stack()),
			)
			state, err = nil, nil
		}
	}()

	set := l.Classifier().Classify(tx)
	upserts, deletes := set.Counts()
	if upserts > 0 {
		l.metrics.AddActions(string(document.OpUpsert), upserts)
	}
	if deletes > 0 {
		l.metrics.AddActions(string(document.OpDelete), deletes)
	}
	return set, nil
}

// AfterCommit dispatches the actions collected by BeforeCommit.
func (l *Listener) AfterCommit(ctx context.Context, tx graph.ChangeSet, state graph.State) {
	set, ok := state.(*document.PendingSet)
	if !ok || set.Len() == 0 {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.failures.Add(1)
			l.logger.Error("Dispatch panic recovered",
				"error", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	actions := set.Actions()
	l.transactions.Add(1)
	l.actions.Add(int64(len(actions)))

	if err := l.dispatcher.Dispatch(ctx, actions, l.async.Load()); err != nil {
		l.failures.Add(1)
		l.logger.Error("Failed to index committed changes", "actions", len(actions), "error", err)
	}
}

// AfterRollback discards the pending actions.
func (l *Listener) AfterRollback(ctx context.Context, tx graph.ChangeSet, state graph.State) {
	if set, ok := state.(*document.PendingSet); ok && set.Len() > 0 {
		l.logger.Debug("Discarding actions of rolled back transaction", "actions", set.Len())
	}
}

// Stats returns the listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Transactions: l.transactions.Load(),
		Actions:      l.actions.Load(),
		Failures:     l.failures.Load(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("transactions=%d actions=%d failures=%d", s.Transactions, s.Actions, s.Failures)
}
