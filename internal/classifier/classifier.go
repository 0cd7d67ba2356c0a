// Package classifier turns the change set of one graph transaction into the
// deduplicated document actions that bring the search indices up to date.
package classifier

import (
	"github.com/syntrixbase/graphsync/internal/document"
	"github.com/syntrixbase/graphsync/internal/indexspec"
	"github.com/syntrixbase/graphsync/pkg/graph"
)

// Classifier maps change sets to document actions. It only reads the graph
// and performs no I/O.
type Classifier struct {
	mapping *indexspec.Mapping
	mapper  *document.Mapper
}

func New(mapping *indexspec.Mapping, mapper *document.Mapper) *Classifier {
	if mapping == nil {
		mapping = indexspec.Empty()
	}
	return &Classifier{mapping: mapping, mapper: mapper}
}

func (c *Classifier) Mapping() *indexspec.Mapping { return c.mapping }

func (c *Classifier) Mapper() *document.Mapper { return c.mapper }

// Classify returns the actions for tx. Change kinds are processed in the
// order created, deleted, assigned labels, removed labels, assigned
// properties, removed properties; a later action for a document replaces an
// earlier one.
func (c *Classifier) Classify(tx graph.ChangeSet) *document.PendingSet {
	set := document.NewPendingSet()
	if c.mapping.Len() == 0 {
		return set
	}

	for _, node := range tx.CreatedNodes() {
		if c.mapping.HasAny(node.Labels()) {
			c.IndexRequests(node, set)
		}
	}

	for _, node := range tx.DeletedNodes() {
		c.deleteEverywhere(node, set)
	}

	for _, e := range tx.AssignedLabels() {
		if !c.mapping.Has(e.Label) {
			continue
		}
		if tx.IsDeleted(e.Node) {
			c.deleteEverywhere(e.Node, set)
			continue
		}
		c.IndexRequests(e.Node, set)
	}

	for _, e := range tx.RemovedLabels() {
		for _, def := range c.mapping.Definitions(e.Label) {
			set.Put(c.mapper.Delete(e.Node, e.Label, def))
		}
	}

	for _, e := range tx.AssignedNodeProperties() {
		if c.mapping.HasAny(e.Node.Labels()) {
			c.IndexRequests(e.Node, set)
		}
	}

	for _, e := range tx.RemovedNodeProperties() {
		if tx.IsDeleted(e.Node) {
			continue
		}
		if c.mapping.HasAny(e.Node.Labels()) {
			c.IndexRequests(e.Node, set)
		}
	}

	return set
}

// IndexRequests puts an upsert or a delete for every definition of every
// indexed label the node carries.
func (c *Classifier) IndexRequests(node graph.Node, set *document.PendingSet) {
	for _, label := range node.Labels() {
		for _, def := range c.mapping.Definitions(label) {
			set.Put(c.mapper.Classify(node, label, def))
		}
	}
}

// deleteEverywhere removes the node from every configured index. The labels
// of a deleted node cannot be read.
func (c *Classifier) deleteEverywhere(node graph.Node, set *document.PendingSet) {
	for _, label := range c.mapping.Labels() {
		for _, def := range c.mapping.Definitions(label) {
			set.Put(c.mapper.Delete(node, label, def))
		}
	}
}
