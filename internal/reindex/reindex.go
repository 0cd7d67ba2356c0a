// Package reindex rebuilds the search documents of existing nodes by
// scanning the graph label by label.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/graphsync/internal/classifier"
	"github.com/syntrixbase/graphsync/internal/document"
	"github.com/syntrixbase/graphsync/internal/indexspec"
	"github.com/syntrixbase/graphsync/internal/metrics"
	"github.com/syntrixbase/graphsync/pkg/graph"
)

// DefaultBatchSize is the number of actions sent per bulk request.
const DefaultBatchSize = 500

// Dispatcher sends a batch of actions to the search engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, actions []document.Action, async bool) error
}

// Options controls one re-index run.
type Options struct {
	// BatchSize is the number of actions per bulk request. Default: 500
	BatchSize int

	// Async hands batches to the background dispatcher instead of waiting
	// for each of them.
	Async bool

	// Progress, when set, is called after every batch with the totals so far.
	Progress func(Result)
}

// Result summarizes a run.
type Result struct {
	Batches   int `json:"batches"`
	Documents int `json:"documents"` // nodes visited, not documents written
}

// Config holds the dependencies of an Indexer.
type Config struct {
	Scanner    graph.Scanner
	Mapping    *indexspec.Holder
	Mapper     *document.Mapper
	Dispatcher Dispatcher
	Metrics    metrics.Metrics
	Logger     *slog.Logger
}

// Indexer re-indexes nodes through the dispatcher.
type Indexer struct {
	scanner    graph.Scanner
	mapping    *indexspec.Holder
	mapper     *document.Mapper
	dispatcher Dispatcher
	metrics    metrics.Metrics
	logger     *slog.Logger
}

// New creates an Indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.Scanner == nil {
		return nil, errors.New("scanner cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if cfg.Mapping == nil {
		cfg.Mapping = indexspec.NewHolder(nil)
	}
	if cfg.Mapper == nil {
		cfg.Mapper = document.NewMapper(document.DefaultOptions())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &metrics.NoopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{
		scanner:    cfg.Scanner,
		mapping:    cfg.Mapping,
		mapper:     cfg.Mapper,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "reindex"),
	}, nil
}

// Run re-indexes every node carrying one of labels. Labels missing from the
// mapping are skipped. A batch is flushed when it holds BatchSize actions and
// when a label's scan ends with actions left over. A dispatch error stops the
// run; the returned Result counts the work done until then.
func (ix *Indexer) Run(ctx context.Context, labels []string, opts Options) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	var result Result
	mapping := ix.mapping.Load()
	cls := classifier.New(mapping, ix.mapper)
	set := document.NewPendingSet()

	flush := func(label string) error {
		actions := set.Actions()
		set.Reset()
		if err := ix.dispatcher.Dispatch(ctx, actions, opts.Async); err != nil {
			return fmt.Errorf("reindex %s: %w", label, err)
		}
		result.Batches++
		ix.metrics.IncReindexBatch(label)
		if opts.Progress != nil {
			opts.Progress(result)
		}
		return nil
	}

	for _, label := range labels {
		if !mapping.Has(label) {
			ix.logger.Debug("Skipping label without index", "label", label)
			continue
		}

		visited, err := ix.scan(ctx, label, cls, set, opts.BatchSize, flush)
		result.Documents += visited
		ix.metrics.AddReindexDocuments(label, visited)
		if err != nil {
			return result, err
		}

		if set.Len() > 0 {
			if err := flush(label); err != nil {
				return result, err
			}
		}
		ix.logger.Info("Label re-indexed", "label", label, "documents", visited)
	}

	return result, nil
}

// RunAll re-indexes every label of the current mapping.
func (ix *Indexer) RunAll(ctx context.Context, opts Options) (Result, error) {
	return ix.Run(ctx, ix.mapping.Load().Labels(), opts)
}

func (ix *Indexer) scan(
	ctx context.Context,
	label string,
	cls *classifier.Classifier,
	set *document.PendingSet,
	batchSize int,
	flush func(string) error,
) (int, error) {
	iter, err := ix.scanner.FindNodes(ctx, label)
	if err != nil {
		return 0, fmt.Errorf("reindex %s: scan failed: %w", label, err)
	}
	defer iter.Close()

	visited := 0
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return visited, err
		}

		visited++
		cls.IndexRequests(iter.Node(), set)
		if set.Len() >= batchSize {
			if err := flush(label); err != nil {
				return visited, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return visited, fmt.Errorf("reindex %s: scan failed: %w", label, err)
	}
	return visited, nil
}
