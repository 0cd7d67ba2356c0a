// Package memgraph is an in-memory transactional property graph.
//
// It records the per-commit change set the way a graph database reports it to
// transaction listeners, which makes it usable as a host for graphsync in
// tests and in the CLI demo mode.
package memgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/syntrixbase/graphsync/pkg/graph"
)

var (
	// ErrNodeNotFound is returned when a node id does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrTxClosed is returned when a finished transaction is used.
	ErrTxClosed = errors.New("transaction closed")
)

// Graph is an in-memory property graph. Writers are serialized; readers see
// committed state only.
type Graph struct {
	name string

	writeMu sync.Mutex // one transaction at a time

	mu     sync.RWMutex
	nodes  map[int64]*nodeData
	nextID int64

	listenersMu sync.RWMutex
	listeners   []graph.TransactionListener
}

type nodeData struct {
	labels []string
	props  map[string]graph.Value
	keys   []string
}

func (d *nodeData) clone() *nodeData {
	c := &nodeData{
		labels: slices.Clone(d.labels),
		props:  make(map[string]graph.Value, len(d.props)),
		keys:   slices.Clone(d.keys),
	}
	for k, v := range d.props {
		c.props[k] = v
	}
	return c
}

// New creates an empty graph with the given database name.
func New(name string) *Graph {
	return &Graph{
		name:  name,
		nodes: make(map[int64]*nodeData),
	}
}

// Name returns the database name.
func (g *Graph) Name() string { return g.name }

// RegisterListener adds a transaction listener.
func (g *Graph) RegisterListener(l graph.TransactionListener) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	g.listeners = append(g.listeners, l)
}

// UnregisterListener removes a previously registered listener.
func (g *Graph) UnregisterListener(l graph.TransactionListener) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	for i, existing := range g.listeners {
		if existing == l {
			g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
			return
		}
	}
}

func (g *Graph) snapshotListeners() []graph.TransactionListener {
	g.listenersMu.RLock()
	defer g.listenersMu.RUnlock()
	return slices.Clone(g.listeners)
}

// Begin starts a write transaction. It blocks while another one is open.
func (g *Graph) Begin() *Tx {
	g.writeMu.Lock()
	return &Tx{
		g:       g,
		view:    make(map[int64]*nodeData),
		deleted: make(map[int64]bool),
	}
}

// Update runs fn in a transaction and commits it, or rolls back when fn fails.
func (g *Graph) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx := g.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Node returns a read-only handle on a committed node.
func (g *Graph) Node(id string) (*Node, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	if g.committed(n) == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return &Node{g: g, id: n}, nil
}

// Len returns the number of committed nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// FindNodes implements graph.Scanner over committed nodes, in id order.
func (g *Graph) FindNodes(ctx context.Context, label string) (graph.NodeIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	var ids []int64
	for id, d := range g.nodes {
		if slices.Contains(d.labels, label) {
			ids = append(ids, id)
		}
	}
	g.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &nodeIterator{ctx: ctx, g: g, ids: ids, pos: -1}, nil
}

// Labels returns every label carried by at least one committed node, sorted.
func (g *Graph) Labels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, d := range g.nodes {
		for _, l := range d.labels {
			seen[l] = struct{}{}
		}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func (g *Graph) committed(id int64) *nodeData {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

type nodeIterator struct {
	ctx context.Context
	g   *Graph
	ids []int64
	pos int
	err error
}

func (it *nodeIterator) Next() bool {
	for {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		it.pos++
		if it.pos >= len(it.ids) {
			return false
		}
		// Skip nodes deleted since the scan started.
		if it.g.committed(it.ids[it.pos]) != nil {
			return true
		}
	}
}

func (it *nodeIterator) Node() graph.Node {
	if it.pos < 0 || it.pos >= len(it.ids) {
		return nil
	}
	return &Node{g: it.g, id: it.ids[it.pos]}
}

func (it *nodeIterator) Err() error { return it.err }

func (it *nodeIterator) Close() error { return nil }

// Tx is a write transaction.
type Tx struct {
	g    *Graph
	done bool

	view    map[int64]*nodeData // staged copies, nil means deleted
	created []int64
	deleted map[int64]bool
	delOrd  []int64

	assignedLabels []labelChange
	removedLabels  []labelChange
	assignedProps  []propChange
	removedProps   []propChange
}

type labelChange struct {
	id    int64
	label string
}

type propChange struct {
	id       int64
	key      string
	value    graph.Value
	previous graph.Value
}

// CreateNode creates a node with the given labels.
func (tx *Tx) CreateNode(labels ...string) (*Node, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	tx.g.mu.Lock()
	tx.g.nextID++
	id := tx.g.nextID
	tx.g.mu.Unlock()

	tx.view[id] = &nodeData{props: make(map[string]graph.Value)}
	tx.created = append(tx.created, id)

	n := &Node{g: tx.g, tx: tx, id: id}
	for _, l := range labels {
		if err := n.AddLabel(l); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Node returns a handle on a node as seen by this transaction.
func (tx *Tx) Node(id string) (*Node, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || tx.lookup(n) == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return &Node{g: tx.g, tx: tx, id: n}, nil
}

func (tx *Tx) lookup(id int64) *nodeData {
	if d, ok := tx.view[id]; ok {
		return d
	}
	return tx.g.committed(id)
}

func (tx *Tx) stage(id int64) (*nodeData, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if d, ok := tx.view[id]; ok {
		if d == nil {
			return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}
		return d, nil
	}
	d := tx.g.committed(id)
	if d == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	c := d.clone()
	tx.view[id] = c
	return c, nil
}

// Rollback discards the transaction and notifies listeners.
func (tx *Tx) Rollback(ctx context.Context) {
	if tx.done {
		return
	}
	cs := tx.changeSet()
	tx.finish()
	for _, l := range tx.g.snapshotListeners() {
		l.AfterRollback(ctx, cs, nil)
	}
}

// Commit runs the BeforeCommit hooks, applies the staged changes and runs the
// AfterCommit hooks. An error from a BeforeCommit hook rolls back.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxClosed
	}

	cs := tx.changeSet()
	listeners := tx.g.snapshotListeners()
	states := make([]graph.State, len(listeners))

	for i, l := range listeners {
		state, err := l.BeforeCommit(ctx, cs)
		if err != nil {
			tx.finish()
			for j := 0; j < len(listeners); j++ {
				listeners[j].AfterRollback(ctx, cs, states[j])
			}
			return fmt.Errorf("transaction rolled back: %w", err)
		}
		states[i] = state
	}

	tx.g.mu.Lock()
	for id, d := range tx.view {
		if d == nil {
			delete(tx.g.nodes, id)
			continue
		}
		tx.g.nodes[id] = d
	}
	tx.g.mu.Unlock()
	tx.finish()

	for i, l := range listeners {
		l.AfterCommit(ctx, cs, states[i])
	}

	slog.Debug("memgraph transaction committed",
		"database", tx.g.name,
		"created", len(cs.created),
		"deleted", len(cs.deleted))
	return nil
}

func (tx *Tx) finish() {
	tx.done = true
	tx.g.writeMu.Unlock()
}

func (tx *Tx) changeSet() *changeSet {
	cs := &changeSet{deleted: make(map[string]bool, len(tx.deleted))}
	handle := func(id int64) graph.Node { return &Node{g: tx.g, tx: tx, id: id} }

	for _, id := range tx.created {
		cs.created = append(cs.created, handle(id))
	}
	for _, id := range tx.delOrd {
		n := handle(id)
		cs.deletedNodes = append(cs.deletedNodes, n)
		cs.deleted[n.ID()] = true
	}
	for _, c := range tx.assignedLabels {
		cs.assignedLabels = append(cs.assignedLabels, graph.LabelEntry{Node: handle(c.id), Label: c.label})
	}
	for _, c := range tx.removedLabels {
		cs.removedLabels = append(cs.removedLabels, graph.LabelEntry{Node: handle(c.id), Label: c.label})
	}
	for _, c := range tx.assignedProps {
		cs.assignedProps = append(cs.assignedProps, graph.PropertyEntry{Node: handle(c.id), Key: c.key, Value: c.value, Previous: c.previous})
	}
	for _, c := range tx.removedProps {
		cs.removedProps = append(cs.removedProps, graph.PropertyEntry{Node: handle(c.id), Key: c.key, Previous: c.previous})
	}
	return cs
}

type changeSet struct {
	created        []graph.Node
	deletedNodes   []graph.Node
	deleted        map[string]bool
	assignedLabels []graph.LabelEntry
	removedLabels  []graph.LabelEntry
	assignedProps  []graph.PropertyEntry
	removedProps   []graph.PropertyEntry
}

func (c *changeSet) CreatedNodes() []graph.Node                    { return c.created }
func (c *changeSet) DeletedNodes() []graph.Node                    { return c.deletedNodes }
func (c *changeSet) AssignedLabels() []graph.LabelEntry            { return c.assignedLabels }
func (c *changeSet) RemovedLabels() []graph.LabelEntry             { return c.removedLabels }
func (c *changeSet) AssignedNodeProperties() []graph.PropertyEntry { return c.assignedProps }
func (c *changeSet) RemovedNodeProperties() []graph.PropertyEntry  { return c.removedProps }

func (c *changeSet) IsDeleted(node graph.Node) bool {
	if node == nil {
		return false
	}
	return c.deleted[node.ID()]
}
