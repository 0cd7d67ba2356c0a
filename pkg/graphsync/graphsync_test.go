package graphsync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/graphsync/internal/config"
	"github.com/syntrixbase/graphsync/internal/dispatcher"
	"github.com/syntrixbase/graphsync/internal/indexspec"
	"github.com/syntrixbase/graphsync/internal/journal"
	"github.com/syntrixbase/graphsync/internal/queue"
	"github.com/syntrixbase/graphsync/internal/reindex"
	"github.com/syntrixbase/graphsync/internal/search/elastic"
	"github.com/syntrixbase/graphsync/internal/search/memory"
	"github.com/syntrixbase/graphsync/pkg/graph"
	"github.com/syntrixbase/graphsync/pkg/graph/memgraph"
)

func testConfig(t *testing.T, spec string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Index.Spec = spec
	cfg.Index.Async = false
	cfg.Journal.Enabled = false
	require.NoError(t, cfg.Finalize(filepath.Join(t.TempDir(), "config")))
	return cfg
}

func newExtension(t *testing.T, cfg *config.Config, opts ...Option) (*Extension, *memory.Engine) {
	t.Helper()
	engine := memory.New()
	ext, err := New(context.Background(), cfg, append([]Option{WithClient(engine)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ext.Close(context.Background()) })
	return ext, engine
}

func createNode(t *testing.T, g *memgraph.Graph, label string, props map[string]graph.Value) string {
	t.Helper()
	var id string
	require.NoError(t, g.Update(context.Background(), func(tx *memgraph.Tx) error {
		n, err := tx.CreateNode(label)
		if err != nil {
			return err
		}
		for k, v := range props {
			if err := n.SetProperty(k, v); err != nil {
				return err
			}
		}
		id = n.ID()
		return nil
	}))
	return id
}

func TestExtension_EndToEnd(t *testing.T) {
	ext, engine := newExtension(t, testConfig(t, "my_index:MyLabel(foo,hello)"))
	g := memgraph.New("neo4j")
	g.RegisterListener(ext)

	id := createNode(t, g, "MyLabel", map[string]graph.Value{
		"foo":   graph.String("bar"),
		"hello": graph.String("world"),
	})

	body, ok := engine.Get("my_index", id)
	require.True(t, ok)
	assert.Equal(t, []string{"@id", "@labels", "foo", "hello"}, body.Keys())
	v, _ := body.Get("foo")
	assert.Equal(t, "bar", v)
	v, _ = body.Get("hello")
	assert.Equal(t, "world", v)

	// Removing every indexed property deletes the document.
	require.NoError(t, g.Update(context.Background(), func(tx *memgraph.Tx) error {
		n, err := tx.Node(id)
		if err != nil {
			return err
		}
		if err := n.RemoveProperty("foo"); err != nil {
			return err
		}
		return n.RemoveProperty("hello")
	}))
	_, ok = engine.Get("my_index", id)
	assert.False(t, ok)
	assert.Equal(t, int64(2), ext.Stats().Transactions)
}

func TestExtension_ScopedIDs(t *testing.T) {
	cfg := testConfig(t, "people:Person(name)")
	cfg.Database = "neo4j"
	cfg.Index.IncludeDBField = true
	ext, engine := newExtension(t, cfg)

	g := memgraph.New("neo4j")
	g.RegisterListener(ext)
	createNode(t, g, "Person", map[string]graph.Value{"name": graph.String("Ada")})

	body, ok := engine.Get("people", "neo4j_1")
	require.True(t, ok)
	v, _ := body.Get("@dbname")
	assert.Equal(t, "neo4j", v)
}

func TestExtension_AsyncDispatchDrainsOnClose(t *testing.T) {
	cfg := testConfig(t, "people:Person(name)")
	cfg.Index.Async = true

	var (
		mu      sync.Mutex
		results []dispatcher.Result
	)
	engine := memory.New()
	ext, err := New(context.Background(), cfg, WithClient(engine), WithOnComplete(func(r dispatcher.Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))
	require.NoError(t, err)

	g := memgraph.New("db")
	g.RegisterListener(ext)
	createNode(t, g, "Person", map[string]graph.Value{"name": graph.String("Ada")})

	require.NoError(t, ext.Close(context.Background()))
	assert.Equal(t, 1, engine.Count("people"))
	require.Len(t, results, 1)
	assert.Equal(t, dispatcher.ModeAsync, results[0].Mode)
}

func TestNew_RefusesInvalidSpec(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Index.Spec = "a:Label(x),b:Label(y)"

	_, err := New(context.Background(), cfg, WithClient(memory.New()))
	assert.ErrorIs(t, err, indexspec.ErrDuplicateIndexDefinition)

	_, err = New(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_BuildsElasticClientFromConfig(t *testing.T) {
	var got elastic.Options
	prev := newElasticClient
	newElasticClient = func(opts elastic.Options) (dispatcher.BulkClient, error) {
		got = opts
		return memory.New(), nil
	}
	defer func() { newElasticClient = prev }()

	cfg := testConfig(t, "people:Person(name)")
	cfg.Elasticsearch.HostName = "http://es1:9200,http://es2:9200"
	cfg.Elasticsearch.User = "elastic"
	cfg.Elasticsearch.ReadTimeout = 3 * time.Second

	ext, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer ext.Close(context.Background())

	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, got.Addresses)
	assert.Equal(t, "elastic", got.Username)
	assert.Equal(t, 3*time.Second, got.ReadTimeout)
}

func TestNew_NATSConnectFailure(t *testing.T) {
	prev := connectNATS
	connectNATS = func(url string) (*nats.Conn, queue.JetStream, error) {
		return nil, nil, errors.New("no servers available")
	}
	defer func() { connectNATS = prev }()

	cfg := testConfig(t, "people:Person(name)")
	cfg.Dispatch.Mode = config.DispatchNATS

	_, err := New(context.Background(), cfg, WithClient(memory.New()))
	assert.ErrorContains(t, err, "no servers available")
}

func TestExtension_JournalsFailedBatches(t *testing.T) {
	cfg := testConfig(t, "people:Person(name)")
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal")

	engine := memory.New()
	engine.Reject("people", "mapper_parsing_exception")
	ext, err := New(context.Background(), cfg, WithClient(engine))
	require.NoError(t, err)

	g := memgraph.New("db")
	g.RegisterListener(ext)
	createNode(t, g, "Person", map[string]graph.Value{"name": graph.String("Ada")})

	// The transaction itself succeeded.
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, int64(1), ext.Stats().Failures)
	require.NoError(t, ext.Close(context.Background()))

	j, err := journal.Open(journal.Options{Path: cfg.Journal.Path})
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bulk", entries[0].Reason)
	assert.Len(t, entries[0].Actions, 1)
}

func TestExtension_Reindex(t *testing.T) {
	g := memgraph.New("db")
	for i := 0; i < 5; i++ {
		createNode(t, g, "Person", map[string]graph.Value{"name": graph.Int(int64(i))})
	}
	createNode(t, g, "Movie", map[string]graph.Value{"title": graph.String("Heat")})

	cfg := testConfig(t, "people:Person(name)")
	cfg.Reindex.BatchSize = 2
	ext, engine := newExtension(t, cfg, WithScanner(g))

	res, err := ext.Reindex(context.Background(), []string{"Person", "Movie"}, reindex.Options{})
	require.NoError(t, err)
	assert.Equal(t, reindex.Result{Batches: 3, Documents: 5}, res)
	assert.Equal(t, 5, engine.Count("people"))

	res, err = ext.ReindexAll(context.Background(), reindex.Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, reindex.Result{Batches: 1, Documents: 5}, res)
}

func TestExtension_StartReindex(t *testing.T) {
	g := memgraph.New("db")
	createNode(t, g, "Person", map[string]graph.Value{"name": graph.String("Ada")})

	ext, engine := newExtension(t, testConfig(t, "people:Person(name)"), WithScanner(g))

	id, err := ext.StartReindex(nil, reindex.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := ext.Jobs().Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reindex.StatusCompleted, p.Status)
	assert.Equal(t, []string{"Person"}, p.Labels)
	assert.Equal(t, 1, engine.Count("people"))
}

func TestExtension_ReindexWithoutScanner(t *testing.T) {
	ext, _ := newExtension(t, testConfig(t, "people:Person(name)"))

	_, err := ext.Reindex(context.Background(), []string{"Person"}, reindex.Options{})
	assert.ErrorIs(t, err, ErrNoScanner)
	_, err = ext.ReindexAll(context.Background(), reindex.Options{})
	assert.ErrorIs(t, err, ErrNoScanner)
	_, err = ext.StartReindex(nil, reindex.Options{})
	assert.ErrorIs(t, err, ErrNoScanner)
	assert.Nil(t, ext.Jobs())
}

func TestExtension_Reconfigure(t *testing.T) {
	ext, engine := newExtension(t, testConfig(t, "people:Person(name)"))
	g := memgraph.New("db")
	g.RegisterListener(ext)

	createNode(t, g, "Movie", map[string]graph.Value{"title": graph.String("Heat")})
	assert.Equal(t, 0, engine.Count("movies"))

	_, err := ext.Reconfigure("a:Movie(title),b:Movie(year)")
	assert.Error(t, err)
	assert.True(t, ext.Mapping().Has("Person"))

	m, err := ext.Reconfigure("movies:Movie(title)")
	require.NoError(t, err)
	assert.Equal(t, []string{"Movie"}, m.Labels())
	assert.False(t, ext.Mapping().Has("Person"))

	createNode(t, g, "Movie", map[string]graph.Value{"title": graph.String("Ronin")})
	assert.Equal(t, 1, engine.Count("movies"))
}
