package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/graphsync/internal/dispatcher"
	"github.com/syntrixbase/graphsync/internal/document"
)

// Publisher implements dispatcher.Queue on a JetStream stream.
type Publisher struct {
	js   JetStream
	opts Options
}

var _ dispatcher.Queue = (*Publisher)(nil)

// NewPublisher creates the stream if needed and returns a publisher for it.
func NewPublisher(ctx context.Context, js JetStream, opts Options) (*Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	opts = opts.withDefaults()

	if _, err := js.CreateOrUpdateStream(ctx, opts.streamConfig()); err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return &Publisher{js: js, opts: opts}, nil
}

// Publish implements dispatcher.Queue. The batch id doubles as the JetStream
// message id, so a repeated publish is dropped by the server.
func (p *Publisher) Publish(ctx context.Context, id string, actions []document.Action) error {
	data, err := Encode(Batch{ID: id, CreatedAt: time.Now(), Actions: actions})
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(ctx, p.opts.Subject, data, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.opts.Subject, err)
	}
	return nil
}

// Subject returns the subject batches are published to.
func (p *Publisher) Subject() string {
	return p.opts.Subject
}
