// Package indexspec parses the index specification that maps graph labels to
// search indices and the properties indexed for each of them.
//
// The specification is a list of entries of the form
//
//	indexName:Label(prop1,prop2,...)
//
// separated by commas or newlines. Malformed entries are skipped; declaring
// the same label twice is an error.
package indexspec

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ErrDuplicateIndexDefinition is returned when a label is declared more than once.
var ErrDuplicateIndexDefinition = errors.New("duplicate index definition")

// ParseError describes a fatal problem in an index specification.
type ParseError struct {
	Entry string
	Label string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("index spec entry %q: label %q: %v", e.Entry, e.Label, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	// Index names may be a single letter: "a:Label(x),b:Label(y)" must parse
	// as two entries so the repeated label is reported, not skipped.
	entryPattern = regexp.MustCompile(`(?P<index>[a-z][a-z_-]*)\s*:\s*(?P<label>[A-Za-z0-9]+)\s*\((?P<props>[^)]+)\)`)
	propPattern  = regexp.MustCompile(`[A-Za-z0-9_]+`)
)

// Definition is one index fed by a label.
type Definition struct {
	Index      string
	Properties []string
}

// HasProperty reports whether the definition indexes the property.
func (d Definition) HasProperty(name string) bool {
	return slices.Contains(d.Properties, name)
}

func (d Definition) String() string {
	return d.Index + "(" + strings.Join(d.Properties, ",") + ")"
}

// Mapping maps labels to their index definitions. It is immutable once built.
type Mapping struct {
	labels []string
	defs   map[string][]Definition
}

// Empty returns a mapping with no labels.
func Empty() *Mapping {
	return &Mapping{defs: map[string][]Definition{}}
}

// Parse parses an index specification.
func Parse(spec string) (*Mapping, error) {
	m := Empty()
	if strings.TrimSpace(spec) == "" {
		return m, nil
	}

	for _, match := range entryPattern.FindAllStringSubmatch(spec, -1) {
		entry := match[0]
		index := match[entryPattern.SubexpIndex("index")]
		label := match[entryPattern.SubexpIndex("label")]

		props := uniqueProperties(match[entryPattern.SubexpIndex("props")])
		if len(props) == 0 {
			continue
		}

		if _, exists := m.defs[label]; exists {
			return nil, &ParseError{Entry: entry, Label: label, Err: ErrDuplicateIndexDefinition}
		}

		m.labels = append(m.labels, label)
		m.defs[label] = []Definition{{Index: index, Properties: props}}
	}

	return m, nil
}

// LoadFile parses an index specification stored in a file.
// Lines starting with '#' are ignored.
func LoadFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index spec file: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	return Parse(strings.Join(lines, "\n"))
}

func uniqueProperties(raw string) []string {
	var props []string
	for _, p := range propPattern.FindAllString(raw, -1) {
		if !slices.Contains(props, p) {
			props = append(props, p)
		}
	}
	return props
}

// Len returns the number of labels.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.labels)
}

// Labels returns the indexed labels in declaration order.
func (m *Mapping) Labels() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.labels)
}

// Has reports whether the label is indexed.
func (m *Mapping) Has(label string) bool {
	if m == nil {
		return false
	}
	_, ok := m.defs[label]
	return ok
}

// HasAny reports whether any of the labels is indexed.
func (m *Mapping) HasAny(labels []string) bool {
	for _, l := range labels {
		if m.Has(l) {
			return true
		}
	}
	return false
}

// Definitions returns the definitions of a label, or nil.
func (m *Mapping) Definitions(label string) []Definition {
	if m == nil {
		return nil
	}
	return m.defs[label]
}

// Indices returns the distinct index names in declaration order.
func (m *Mapping) Indices() []string {
	var out []string
	for _, l := range m.Labels() {
		for _, d := range m.defs[l] {
			if !slices.Contains(out, d.Index) {
				out = append(out, d.Index)
			}
		}
	}
	return out
}

// Equal reports whether both mappings declare the same labels, indices and
// property sets.
func (m *Mapping) Equal(other *Mapping) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, l := range m.Labels() {
		a, b := m.Definitions(l), other.Definitions(l)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Index != b[i].Index || !sameSet(a[i].Properties, b[i].Properties) {
				return false
			}
		}
	}
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, p := range a {
		if !slices.Contains(b, p) {
			return false
		}
	}
	return true
}

// String renders the mapping back into specification syntax.
func (m *Mapping) String() string {
	var parts []string
	for _, l := range m.Labels() {
		for _, d := range m.defs[l] {
			parts = append(parts, fmt.Sprintf("%s:%s(%s)", d.Index, l, strings.Join(d.Properties, ",")))
		}
	}
	return strings.Join(parts, ",")
}
