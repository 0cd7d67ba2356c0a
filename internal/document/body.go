package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field is a named document field.
type Field struct {
	Name  string
	Value any
}

// Body is a document body whose fields keep their insertion order, both in
// memory and when encoded as JSON.
type Body struct {
	fields []Field
	index  map[string]int
}

// NewBody returns an empty body.
func NewBody() *Body {
	return &Body{index: make(map[string]int)}
}

// Set assigns a field. Assigning an existing field keeps its position.
func (b *Body) Set(name string, value any) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[name]; ok {
		b.fields[i].Value = value
		return
	}
	b.index[name] = len(b.fields)
	b.fields = append(b.fields, Field{Name: name, Value: value})
}

// Get returns the value of a field and whether it is present. A field set to
// nil is present.
func (b *Body) Get(name string) (any, bool) {
	if b == nil {
		return nil, false
	}
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return b.fields[i].Value, true
}

func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return len(b.fields)
}

// Keys returns the field names in order.
func (b *Body) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, len(b.fields))
	for i, f := range b.fields {
		keys[i] = f.Name
	}
	return keys
}

// Fields returns a copy of the fields in order.
func (b *Body) Fields() []Field {
	if b == nil {
		return nil
	}
	out := make([]Field, len(b.fields))
	copy(out, b.fields)
	return out
}

// Map returns the fields as an unordered map.
func (b *Body) Map() map[string]any {
	m := make(map[string]any, b.Len())
	if b == nil {
		return m
	}
	for _, f := range b.fields {
		m[f.Name] = f.Value
	}
	return m
}

// MarshalJSON encodes the body as a JSON object in field order.
func (b *Body) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if b != nil {
		for i, f := range b.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			value, err := json.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its top-level
// fields. Numbers are decoded as json.Number.
func (b *Body) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("document body must be a JSON object")
	}

	out := NewBody()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		out.Set(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*b = *out
	return nil
}
