package indexspec

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// Builder assembles a Mapping programmatically. Unlike Parse it allows a
// label to feed several indices, one definition per index name.
type Builder struct {
	m   *Mapping
	err error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{m: Empty()}
}

// Add appends a definition under label.
func (b *Builder) Add(label, index string, properties ...string) *Builder {
	if b.err != nil {
		return b
	}
	for _, d := range b.m.defs[label] {
		if d.Index == index {
			b.err = &ParseError{Entry: index + ":" + label, Label: label, Err: ErrDuplicateIndexDefinition}
			return b
		}
	}
	if _, ok := b.m.defs[label]; !ok {
		b.m.labels = append(b.m.labels, label)
	}

	var props []string
	for _, p := range properties {
		if !slices.Contains(props, p) {
			props = append(props, p)
		}
	}
	b.m.defs[label] = append(b.m.defs[label], Definition{Index: index, Properties: props})
	return b
}

// Build returns the mapping, or the first error recorded by Add.
func (b *Builder) Build() (*Mapping, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := b.m
	b.m = Empty()
	return m, nil
}

// Holder publishes the current Mapping to concurrent readers. A mapping is
// only ever replaced as a whole.
type Holder struct {
	current atomic.Pointer[Mapping]
}

// NewHolder returns a holder publishing m. A nil m is stored as an empty mapping.
func NewHolder(m *Mapping) *Holder {
	h := &Holder{}
	h.Store(m)
	return h
}

// Load returns the current mapping. It never returns nil.
func (h *Holder) Load() *Mapping {
	if m := h.current.Load(); m != nil {
		return m
	}
	return Empty()
}

// Store replaces the current mapping.
func (h *Holder) Store(m *Mapping) {
	if m == nil {
		m = Empty()
	}
	h.current.Store(m)
}

// Reload parses spec and swaps it in. On error the current mapping is kept.
func (h *Holder) Reload(spec string) (*Mapping, error) {
	m, err := Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("reload index spec: %w", err)
	}
	h.Store(m)
	return m, nil
}
