// Package queue hands async batches over NATS JetStream to a durable worker
// that sends them to the search engine.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/graphsync/internal/document"
)

const (
	DefaultStream   = "GRAPHSYNC"
	DefaultConsumer = "graphsync-worker"
)

// JetStream is the subset of jetstream.JetStream used by the queue.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamNew is a variable to allow mocking in tests.
var JetStreamNew = func(nc *nats.Conn) (JetStream, error) {
	return jetstream.New(nc)
}

// Connect dials the NATS server and opens JetStream.
func Connect(url string) (*nats.Conn, JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("graphsync"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	js, err := JetStreamNew(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Options configures the stream shared by publisher and worker.
type Options struct {
	// Stream is the JetStream stream name.
	Stream string

	// Subject batches are published to. Defaults to "<stream>.batches".
	Subject string

	// Consumer is the durable consumer name of the worker.
	Consumer string

	// FileStorage keeps the stream on disk instead of in memory.
	FileStorage bool
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = DefaultStream
	}
	if o.Subject == "" {
		o.Subject = o.Stream + ".batches"
	}
	if o.Consumer == "" {
		o.Consumer = DefaultConsumer
	}
	return o
}

func (o Options) streamConfig() jetstream.StreamConfig {
	storage := jetstream.MemoryStorage
	if o.FileStorage {
		storage = jetstream.FileStorage
	}
	return jetstream.StreamConfig{
		Name:     o.Stream,
		Subjects: []string{o.Subject},
		Storage:  storage,
	}
}

// Batch is the message carried over the stream.
type Batch struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Actions   []document.Action `json:"actions"`
}

// Encode renders the batch as JSON.
func Encode(b Batch) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch %s: %w", b.ID, err)
	}
	return data, nil
}

// Decode parses a batch message.
func Decode(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("failed to decode batch: %w", err)
	}
	if b.ID == "" {
		return Batch{}, fmt.Errorf("failed to decode batch: missing id")
	}
	return b, nil
}
