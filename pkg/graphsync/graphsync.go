// Package graphsync keeps search indices in sync with a property graph.
//
// An Extension is registered with the graph host as a transaction listener.
// Committed changes to indexed labels are turned into document upserts and
// deletes and sent to Elasticsearch in one bulk request per transaction.
// Existing data is indexed with Reindex.
package graphsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/syntrixbase/graphsync/internal/config"
	"github.com/syntrixbase/graphsync/internal/dispatcher"
	"github.com/syntrixbase/graphsync/internal/document"
	"github.com/syntrixbase/graphsync/internal/indexspec"
	"github.com/syntrixbase/graphsync/internal/journal"
	"github.com/syntrixbase/graphsync/internal/listener"
	"github.com/syntrixbase/graphsync/internal/metrics"
	"github.com/syntrixbase/graphsync/internal/queue"
	"github.com/syntrixbase/graphsync/internal/reindex"
	"github.com/syntrixbase/graphsync/internal/search/elastic"
	"github.com/syntrixbase/graphsync/pkg/graph"
)

// ErrNoScanner is returned by the re-index operations of an Extension built
// without a scanner.
var ErrNoScanner = errors.New("re-index needs a graph scanner")

var (
	newElasticClient = func(opts elastic.Options) (dispatcher.BulkClient, error) {
		return elastic.New(opts)
	}
	connectNATS = queue.Connect
	openJournal = journal.Open
)

// Option configures an Extension.
type Option func(*Extension)

// WithClient sends batches to client instead of the configured cluster.
func WithClient(client dispatcher.BulkClient) Option {
	return func(e *Extension) {
		e.client = client
	}
}

// WithScanner enables the re-index operations.
func WithScanner(s graph.Scanner) Option {
	return func(e *Extension) {
		e.scanner = s
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Extension) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithJetStream uses js in nats dispatch mode instead of dialing nats.url.
func WithJetStream(js queue.JetStream) Option {
	return func(e *Extension) {
		e.js = js
	}
}

// WithOnComplete registers a hook called after every dispatched batch.
func WithOnComplete(fn func(dispatcher.Result)) Option {
	return func(e *Extension) {
		e.onComplete = fn
	}
}

// Extension wires the index mapping, the commit listener, the dispatcher and
// the re-indexer together.
type Extension struct {
	cfg     *config.Config
	holder  *indexspec.Holder
	mapper  *document.Mapper
	logger  *slog.Logger
	metrics metrics.Metrics

	client     dispatcher.BulkClient
	scanner    graph.Scanner
	js         queue.JetStream
	onComplete func(dispatcher.Result)

	dispatcher   *dispatcher.Dispatcher
	listener     *listener.Listener
	indexer      *reindex.Indexer
	orchestrator *reindex.Orchestrator
	journal      *journal.Journal
	nc           *nats.Conn
	stopWorker   context.CancelFunc
}

var _ graph.TransactionListener = (*Extension)(nil)

// New builds an Extension from a finalized configuration. It fails when the
// index specification is invalid.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Extension, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	e := &Extension{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = &metrics.NoopMetrics{}
	}
	logger := e.logger.With("component", "graphsync")

	mapping, err := cfg.Index.Mapping()
	if err != nil {
		return nil, fmt.Errorf("invalid index spec: %w", err)
	}
	e.holder = indexspec.NewHolder(mapping)
	e.mapper = document.NewMapper(cfg.MapperOptions())

	if err := e.init(ctx); err != nil {
		e.release(context.Background())
		return nil, err
	}

	logger.Info("Graph sync initialized",
		"database", cfg.Database,
		"labels", mapping.Labels(),
		"async", cfg.Index.Async,
		"dispatch", cfg.Dispatch.Mode)
	return e, nil
}

func (e *Extension) init(ctx context.Context) error {
	cfg := e.cfg

	if e.client == nil {
		client, err := newElasticClient(elastic.Options{
			Addresses:         cfg.Elasticsearch.Addresses(),
			Username:          cfg.Elasticsearch.User,
			Password:          cfg.Elasticsearch.Password,
			Discovery:         cfg.Elasticsearch.Discovery,
			ConnectionTimeout: cfg.Elasticsearch.ConnectionTimeout,
			ReadTimeout:       cfg.Elasticsearch.ReadTimeout,
			Logger:            e.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create search client: %w", err)
		}
		e.client = client
	}

	dopts := dispatcher.Options{
		Timeout:     cfg.Dispatch.Timeout,
		MaxInFlight: cfg.Dispatch.MaxInFlight,
		Backlog:     cfg.Dispatch.Backlog,
		Metrics:     e.metrics,
		OnComplete:  e.onComplete,
		Logger:      e.logger,
	}

	if cfg.Journal.Enabled {
		j, err := openJournal(journal.Options{Path: cfg.Journal.Path, Logger: e.logger})
		if err != nil {
			return err
		}
		e.journal = j
		dopts.Journal = j
	}

	qopts := queue.Options{
		Stream:      cfg.Nats.Stream,
		Subject:     cfg.Nats.Subject,
		Consumer:    cfg.Nats.Consumer,
		FileStorage: cfg.Nats.FileStorage,
	}
	if cfg.Dispatch.Mode == config.DispatchNATS {
		if e.js == nil {
			nc, js, err := connectNATS(cfg.Nats.URL)
			if err != nil {
				return err
			}
			e.nc, e.js = nc, js
		}
		pub, err := queue.NewPublisher(ctx, e.js, qopts)
		if err != nil {
			return err
		}
		dopts.Queue = pub
	}

	e.dispatcher = dispatcher.New(e.client, dopts)

	if dopts.Queue != nil {
		worker, err := queue.NewWorker(e.js, e.dispatcher, qopts, e.logger)
		if err != nil {
			return err
		}
		workerCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		e.stopWorker = stop
		if err := worker.Start(workerCtx); err != nil {
			return err
		}
	}

	e.listener = listener.New(e.holder, e.mapper, e.dispatcher, listener.Options{
		Async:   cfg.Index.Async,
		Metrics: e.metrics,
		Logger:  e.logger,
	})

	if e.scanner != nil {
		ix, err := reindex.New(reindex.Config{
			Scanner:    e.scanner,
			Mapping:    e.holder,
			Mapper:     e.mapper,
			Dispatcher: e.dispatcher,
			Metrics:    e.metrics,
			Logger:     e.logger,
		})
		if err != nil {
			return err
		}
		e.indexer = ix
		e.orchestrator = reindex.NewOrchestrator(ix, cfg.Reindex.MaxConcurrent, e.logger)
	}
	return nil
}

// BeforeCommit implements graph.TransactionListener.
func (e *Extension) BeforeCommit(ctx context.Context, tx graph.ChangeSet) (graph.State, error) {
	return e.listener.BeforeCommit(ctx, tx)
}

// AfterCommit implements graph.TransactionListener.
func (e *Extension) AfterCommit(ctx context.Context, tx graph.ChangeSet, state graph.State) {
	e.listener.AfterCommit(ctx, tx, state)
}

// AfterRollback implements graph.TransactionListener.
func (e *Extension) AfterRollback(ctx context.Context, tx graph.ChangeSet, state graph.State) {
	e.listener.AfterRollback(ctx, tx, state)
}

// Reindex indexes every node of labels. A zero BatchSize uses
// reindex.batch_size from the configuration.
func (e *Extension) Reindex(ctx context.Context, labels []string, opts reindex.Options) (reindex.Result, error) {
	if e.indexer == nil {
		return reindex.Result{}, ErrNoScanner
	}
	return e.indexer.Run(ctx, labels, e.reindexOptions(opts))
}

// ReindexAll indexes every node of every mapped label.
func (e *Extension) ReindexAll(ctx context.Context, opts reindex.Options) (reindex.Result, error) {
	if e.indexer == nil {
		return reindex.Result{}, ErrNoScanner
	}
	return e.indexer.RunAll(ctx, e.reindexOptions(opts))
}

// StartReindex runs Reindex in the background and returns the job id. An
// empty labels list re-indexes every mapped label.
func (e *Extension) StartReindex(labels []string, opts reindex.Options) (string, error) {
	if e.orchestrator == nil {
		return "", ErrNoScanner
	}
	if len(labels) == 0 {
		labels = e.holder.Load().Labels()
	}
	return e.orchestrator.Start(labels, e.reindexOptions(opts))
}

// Jobs returns the background re-index orchestrator, or nil without a scanner.
func (e *Extension) Jobs() *reindex.Orchestrator {
	return e.orchestrator
}

func (e *Extension) reindexOptions(opts reindex.Options) reindex.Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.cfg.Reindex.BatchSize
	}
	return opts
}

// Reconfigure replaces the index mapping. Transactions classified after the
// call use the new mapping; on error the current one stays in place.
func (e *Extension) Reconfigure(spec string) (*indexspec.Mapping, error) {
	m, err := e.holder.Reload(spec)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Index mapping replaced", "component", "graphsync", "labels", m.Labels())
	return m, nil
}

// Mapping returns the current index mapping.
func (e *Extension) Mapping() *indexspec.Mapping {
	return e.holder.Load()
}

// Stats returns the commit listener counters.
func (e *Extension) Stats() listener.Stats {
	return e.listener.Stats()
}

// Close stops background work, waits for in-flight batches and releases
// the journal and the NATS connection.
func (e *Extension) Close(ctx context.Context) error {
	return e.release(ctx)
}

func (e *Extension) release(ctx context.Context) error {
	var errs []error
	if e.orchestrator != nil {
		if err := e.orchestrator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reindex: %w", err))
		}
	}
	if e.stopWorker != nil {
		e.stopWorker()
	}
	if e.dispatcher != nil {
		if err := e.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}
	}
	if e.nc != nil {
		e.nc.Close()
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
