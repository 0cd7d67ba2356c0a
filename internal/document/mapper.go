package document

import (
	"github.com/syntrixbase/graphsync/internal/indexspec"
	"github.com/syntrixbase/graphsync/internal/normalizer"
	"github.com/syntrixbase/graphsync/pkg/graph"
)

// Metadata fields added in front of the indexed properties.
const (
	FieldID     = "@id"
	FieldLabels = "@labels"
	FieldDB     = "@dbname"
)

// Options controls how documents are built.
type Options struct {
	// Scope is the database name. It prefixes document ids when set and is
	// the value of the @dbname field.
	Scope         string
	IncludeID     bool
	IncludeLabels bool
	IncludeDB     bool
	// TypeMapping uses the label as document type instead of "_doc".
	TypeMapping bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{IncludeID: true, IncludeLabels: true}
}

// Mapper turns nodes into documents and actions.
type Mapper struct {
	opts Options
}

func NewMapper(opts Options) *Mapper {
	return &Mapper{opts: opts}
}

func (m *Mapper) Options() Options { return m.opts }

// DocumentID returns the id of the node's documents. It is the same in every
// index the node feeds.
func (m *Mapper) DocumentID(node graph.Node) string {
	if m.opts.Scope != "" {
		return m.opts.Scope + "_" + node.ID()
	}
	return node.ID()
}

// Key returns the action key of the node's document in index.
func (m *Mapper) Key(node graph.Node, index string) Key {
	return Key{Scope: m.opts.Scope, Index: index, ID: m.DocumentID(node)}
}

// DocType returns the document type used for documents of label.
func (m *Mapper) DocType(label string) string {
	if m.opts.TypeMapping {
		return label
	}
	return DefaultDocType
}

// Build returns the document of node for def. Every declared property gets a
// field; properties the node does not carry are explicit nulls.
func (m *Mapper) Build(node graph.Node, def indexspec.Definition) *Body {
	body := NewBody()
	if m.opts.IncludeID {
		body.Set(FieldID, node.ID())
	}
	if m.opts.IncludeLabels {
		labels := node.Labels()
		if labels == nil {
			labels = []string{}
		}
		body.Set(FieldLabels, labels)
	}
	if m.opts.IncludeDB {
		body.Set(FieldDB, m.opts.Scope)
	}
	for _, prop := range def.Properties {
		if v, ok := node.Property(prop); ok {
			body.Set(prop, normalizer.Normalize(v))
		} else {
			body.Set(prop, nil)
		}
	}
	return body
}

// ShouldDelete reports whether the node carries none of the properties of
// def. Such a node is absent from the index.
func (m *Mapper) ShouldDelete(node graph.Node, def indexspec.Definition) bool {
	for _, prop := range def.Properties {
		if v, ok := node.Property(prop); ok && !v.IsNull() {
			return false
		}
	}
	return true
}

// Upsert returns the action writing node's document for def.
func (m *Mapper) Upsert(node graph.Node, label string, def indexspec.Definition) Action {
	return NewUpsert(m.Key(node, def.Index), m.DocType(label), m.Build(node, def))
}

// Delete returns the action removing node's document from def's index.
func (m *Mapper) Delete(node graph.Node, label string, def indexspec.Definition) Action {
	return NewDelete(m.Key(node, def.Index), m.DocType(label))
}

// Classify returns a Delete when the node carries none of def's properties
// and an Upsert otherwise.
func (m *Mapper) Classify(node graph.Node, label string, def indexspec.Definition) Action {
	if m.ShouldDelete(node, def) {
		return m.Delete(node, label, def)
	}
	return m.Upsert(node, label, def)
}
