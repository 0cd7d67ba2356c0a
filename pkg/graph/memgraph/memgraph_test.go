package memgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/graphsync/pkg/graph"
)

type recordingListener struct {
	before    []graph.ChangeSet
	committed []graph.ChangeSet
	rolled    []graph.ChangeSet
	failWith  error

	labelsSeen map[string][]string
}

func (l *recordingListener) BeforeCommit(_ context.Context, tx graph.ChangeSet) (graph.State, error) {
	l.before = append(l.before, tx)
	if l.labelsSeen == nil {
		l.labelsSeen = make(map[string][]string)
	}
	for _, n := range tx.CreatedNodes() {
		l.labelsSeen[n.ID()] = n.Labels()
	}
	if l.failWith != nil {
		return nil, l.failWith
	}
	return len(l.before), nil
}

func (l *recordingListener) AfterCommit(_ context.Context, tx graph.ChangeSet, _ graph.State) {
	l.committed = append(l.committed, tx)
}

func (l *recordingListener) AfterRollback(_ context.Context, tx graph.ChangeSet, _ graph.State) {
	l.rolled = append(l.rolled, tx)
}

func TestGraph_CreateCommit(t *testing.T) {
	ctx := context.Background()
	g := New("neo4j")
	l := &recordingListener{}
	g.RegisterListener(l)

	var id string
	err := g.Update(ctx, func(tx *Tx) error {
		n, err := tx.CreateNode("MyLabel")
		require.NoError(t, err)
		require.NoError(t, n.SetProperty("foo", graph.String("bar")))
		id = n.ID()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, l.before, 1)
	require.Len(t, l.committed, 1)
	cs := l.committed[0]
	assert.Len(t, cs.CreatedNodes(), 1)
	assert.Len(t, cs.AssignedLabels(), 1)
	assert.Len(t, cs.AssignedNodeProperties(), 1)
	assert.Equal(t, []string{"MyLabel"}, l.labelsSeen[id])

	n, err := g.Node(id)
	require.NoError(t, err)
	v, ok := n.Property("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v.AsString())
	assert.Equal(t, 1, g.Len())
}

func TestGraph_DeleteReportsRemovals(t *testing.T) {
	ctx := context.Background()
	g := New("neo4j")

	var id string
	require.NoError(t, g.Update(ctx, func(tx *Tx) error {
		n, err := tx.CreateNode("A", "B")
		require.NoError(t, err)
		require.NoError(t, n.SetProperty("x", graph.Int(1)))
		id = n.ID()
		return nil
	}))

	l := &recordingListener{}
	g.RegisterListener(l)
	require.NoError(t, g.Update(ctx, func(tx *Tx) error {
		n, err := tx.Node(id)
		require.NoError(t, err)
		return n.Delete()
	}))

	cs := l.committed[0]
	require.Len(t, cs.DeletedNodes(), 1)
	assert.True(t, cs.IsDeleted(cs.DeletedNodes()[0]))
	assert.Nil(t, cs.DeletedNodes()[0].Labels())
	assert.Len(t, cs.RemovedLabels(), 2)
	assert.Len(t, cs.RemovedNodeProperties(), 1)

	_, err := g.Node(id)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_BeforeCommitErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	g := New("neo4j")
	l := &recordingListener{failWith: errors.New("boom")}
	g.RegisterListener(l)

	err := g.Update(ctx, func(tx *Tx) error {
		_, err := tx.CreateNode("A")
		return err
	})
	require.Error(t, err)
	assert.Len(t, l.rolled, 1)
	assert.Empty(t, l.committed)
	assert.Equal(t, 0, g.Len())
}

func TestGraph_FnErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	g := New("neo4j")
	l := &recordingListener{}
	g.RegisterListener(l)

	err := g.Update(ctx, func(tx *Tx) error {
		_, _ = tx.CreateNode("A")
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, l.before)
	assert.Len(t, l.rolled, 1)
	assert.Equal(t, 0, g.Len())
}

func TestGraph_FindNodes(t *testing.T) {
	ctx := context.Background()
	g := New("neo4j")
	require.NoError(t, g.Update(ctx, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.CreateNode("A"); err != nil {
				return err
			}
		}
		_, err := tx.CreateNode("B")
		return err
	}))

	it, err := g.FindNodes(ctx, "A")
	require.NoError(t, err)
	defer it.Close()

	var ids []string
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, []string{"A", "B"}, g.Labels())
}

func TestGraph_ClosedTx(t *testing.T) {
	ctx := context.Background()
	g := New("neo4j")
	tx := g.Begin()
	n, err := tx.CreateNode("A")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxClosed)
	_, err = tx.CreateNode("B")
	assert.ErrorIs(t, err, ErrTxClosed)
	assert.ErrorIs(t, n.SetProperty("x", graph.Int(1)), ErrTxClosed)
	assert.Equal(t, []string{"A"}, n.Labels())
}
