package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/graphsync/internal/document"
)

// Deliverer sends a queued batch to the search engine.
type Deliverer interface {
	Deliver(ctx context.Context, id string, actions []document.Action) error
}

// Worker consumes queued batches and delivers them. Batches are not retried:
// a delivery failure is reported by the Deliverer and the message is acked.
type Worker struct {
	js        JetStream
	opts      Options
	deliverer Deliverer
	logger    *slog.Logger
}

// NewWorker creates a worker. Call Start to begin consuming.
func NewWorker(js JetStream, deliverer Deliverer, opts Options, logger *slog.Logger) (*Worker, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		js:        js,
		opts:      opts.withDefaults(),
		deliverer: deliverer,
		logger:    logger.With("component", "queue-worker"),
	}, nil
}

// Start creates the durable consumer and processes messages until ctx ends.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.js.CreateOrUpdateStream(ctx, w.opts.streamConfig()); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}

	consumer, err := w.js.CreateOrUpdateConsumer(ctx, w.opts.Stream, jetstream.ConsumerConfig{
		Durable:       w.opts.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: w.opts.Subject,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		w.Handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	w.logger.Info("Queue worker started", "stream", w.opts.Stream, "consumer", w.opts.Consumer)

	go func() {
		<-ctx.Done()
		cc.Stop()
		w.logger.Info("Queue worker stopped")
	}()
	return nil
}

// Handle processes one message. Undecodable messages are terminated.
func (w *Worker) Handle(ctx context.Context, msg jetstream.Msg) {
	batch, err := Decode(msg.Data())
	if err != nil {
		w.logger.Error("Dropping undecodable batch", "subject", msg.Subject(), "error", err)
		if err := msg.Term(); err != nil {
			w.logger.Warn("Failed to terminate message", "error", err)
		}
		return
	}

	if err := w.deliverer.Deliver(context.WithoutCancel(ctx), batch.ID, batch.Actions); err != nil {
		w.logger.Warn("Queued batch failed", "batch", batch.ID, "actions", len(batch.Actions), "error", err)
	}
	if err := msg.Ack(); err != nil {
		w.logger.Warn("Failed to ack message", "batch", batch.ID, "error", err)
	}
}
