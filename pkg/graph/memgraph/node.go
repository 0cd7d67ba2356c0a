package memgraph

import (
	"slices"
	"strconv"

	"github.com/syntrixbase/graphsync/pkg/graph"
)

// Node is a handle on a node. Handles obtained from a transaction see the
// transaction's staged state until it finishes, committed state afterwards.
type Node struct {
	g  *Graph
	tx *Tx
	id int64
}

var _ graph.Node = (*Node)(nil)

func (n *Node) data() *nodeData {
	if n.tx != nil && !n.tx.done {
		return n.tx.lookup(n.id)
	}
	return n.g.committed(n.id)
}

// ID implements graph.Node.
func (n *Node) ID() string { return strconv.FormatInt(n.id, 10) }

// Labels implements graph.Node. A deleted node has no readable labels.
func (n *Node) Labels() []string {
	d := n.data()
	if d == nil {
		return nil
	}
	return slices.Clone(d.labels)
}

// HasProperty implements graph.Node.
func (n *Node) HasProperty(name string) bool {
	_, ok := n.Property(name)
	return ok
}

// Property implements graph.Node.
func (n *Node) Property(name string) (graph.Value, bool) {
	d := n.data()
	if d == nil {
		return graph.Null(), false
	}
	v, ok := d.props[name]
	return v, ok
}

// PropertyKeys returns property names in assignment order.
func (n *Node) PropertyKeys() []string {
	d := n.data()
	if d == nil {
		return nil
	}
	return slices.Clone(d.keys)
}

func (n *Node) writable() (*nodeData, error) {
	if n.tx == nil {
		return nil, ErrTxClosed
	}
	return n.tx.stage(n.id)
}

// SetProperty assigns a property. Assigning null removes it.
func (n *Node) SetProperty(key string, v graph.Value) error {
	if v.IsNull() {
		return n.RemoveProperty(key)
	}
	d, err := n.writable()
	if err != nil {
		return err
	}
	prev, existed := d.props[key]
	if !existed {
		d.keys = append(d.keys, key)
	}
	d.props[key] = v
	n.tx.assignedProps = append(n.tx.assignedProps, propChange{id: n.id, key: key, value: v, previous: prev})
	return nil
}

// RemoveProperty removes a property. Removing an absent property is a no-op.
func (n *Node) RemoveProperty(key string) error {
	d, err := n.writable()
	if err != nil {
		return err
	}
	prev, existed := d.props[key]
	if !existed {
		return nil
	}
	delete(d.props, key)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == key })
	n.tx.removedProps = append(n.tx.removedProps, propChange{id: n.id, key: key, previous: prev})
	return nil
}

// AddLabel assigns a label. Assigning a held label is a no-op.
func (n *Node) AddLabel(label string) error {
	d, err := n.writable()
	if err != nil {
		return err
	}
	if slices.Contains(d.labels, label) {
		return nil
	}
	d.labels = append(d.labels, label)
	n.tx.assignedLabels = append(n.tx.assignedLabels, labelChange{id: n.id, label: label})
	return nil
}

// RemoveLabel removes a label. Removing an absent label is a no-op.
func (n *Node) RemoveLabel(label string) error {
	d, err := n.writable()
	if err != nil {
		return err
	}
	if !slices.Contains(d.labels, label) {
		return nil
	}
	d.labels = slices.DeleteFunc(d.labels, func(l string) bool { return l == label })
	n.tx.removedLabels = append(n.tx.removedLabels, labelChange{id: n.id, label: label})
	return nil
}

// Delete deletes the node. Its labels and properties are reported as removed.
func (n *Node) Delete() error {
	d, err := n.writable()
	if err != nil {
		return err
	}
	for _, l := range d.labels {
		n.tx.removedLabels = append(n.tx.removedLabels, labelChange{id: n.id, label: l})
	}
	for _, k := range d.keys {
		n.tx.removedProps = append(n.tx.removedProps, propChange{id: n.id, key: k, previous: d.props[k]})
	}
	n.tx.view[n.id] = nil
	n.tx.deleted[n.id] = true
	n.tx.delOrd = append(n.tx.delOrd, n.id)
	return nil
}
