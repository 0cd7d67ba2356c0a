package graph

import "context"

// Node is a read-only view of a graph node.
//
// For nodes deleted in the current transaction the host may no longer be able
// to answer Labels or Property reliably; callers must not depend on them.
type Node interface {
	// ID returns the string form of the node identity.
	ID() string

	// Labels returns the current label set.
	Labels() []string

	// HasProperty reports whether the node carries the property.
	HasProperty(name string) bool

	// Property returns the property value and whether it is present.
	Property(name string) (Value, bool)
}

// LabelEntry is a label assignment or removal.
type LabelEntry struct {
	Node  Node
	Label string
}

// PropertyEntry is a property assignment or removal.
type PropertyEntry struct {
	Node     Node
	Key      string
	Value    Value
	Previous Value
}

// ChangeSet is the set of changes of one transaction, as seen by the commit hook.
type ChangeSet interface {
	CreatedNodes() []Node
	DeletedNodes() []Node
	AssignedLabels() []LabelEntry
	RemovedLabels() []LabelEntry
	AssignedNodeProperties() []PropertyEntry
	RemovedNodeProperties() []PropertyEntry

	// IsDeleted reports whether node was deleted in this transaction.
	IsDeleted(node Node) bool
}

// NodeIterator iterates over nodes of a label scan.
type NodeIterator interface {
	// Next advances to the next node. Returns false when done.
	Next() bool
	// Node returns the current node.
	Node() Node
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases the iterator resources.
	Close() error
}

// Scanner provides label-scoped node scans for re-indexing.
type Scanner interface {
	// FindNodes returns a single-pass iterator over all nodes carrying label.
	FindNodes(ctx context.Context, label string) (NodeIterator, error)
}

// State is the value returned by BeforeCommit and handed back to
// AfterCommit or AfterRollback for the same transaction.
type State any

// TransactionListener is invoked by the host around every commit.
type TransactionListener interface {
	// BeforeCommit runs inside the committing transaction.
	// A returned error aborts the transaction.
	BeforeCommit(ctx context.Context, tx ChangeSet) (State, error)

	// AfterCommit runs once the transaction is durable.
	AfterCommit(ctx context.Context, tx ChangeSet, state State)

	// AfterRollback runs when the transaction was rolled back.
	AfterRollback(ctx context.Context, tx ChangeSet, state State)
}
