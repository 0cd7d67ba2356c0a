package indexspec

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse("department:Department(fullname,name),dnsrr:DnsRr(rr_all_value)")
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.ElementsMatch(t, []string{"Department", "DnsRr"}, m.Labels())

	defs := m.Definitions("Department")
	require.Len(t, defs, 1)
	assert.Equal(t, "department", defs[0].Index)
	assert.Equal(t, []string{"fullname", "name"}, defs[0].Properties)

	defs = m.Definitions("DnsRr")
	require.Len(t, defs, 1)
	assert.Equal(t, "dnsrr", defs[0].Index)
	assert.Equal(t, []string{"rr_all_value"}, defs[0].Properties)
}

func TestParse_Empty(t *testing.T) {
	for _, spec := range []string{"", "   ", "\n"} {
		m, err := Parse(spec)
		require.NoError(t, err)
		assert.Equal(t, 0, m.Len())
	}
}

func TestParse_DuplicateLabel(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"different index", "a:Label(x),b:Label(y)"},
		{"same index", "idx:Label(x),idx:Label(x)"},
		{"across lines", "aa:Label(x)\nbb:Other(y)\ncc:Label(z)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.spec)
			assert.Nil(t, m)
			require.ErrorIs(t, err, ErrDuplicateIndexDefinition)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "Label", perr.Label)
		})
	}
}

func TestParse_MalformedEntriesSkipped(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []string
	}{
		{"no parens", "index_name:Label", nil},
		{"label only", "Label", nil},
		{"no colon", "index_name Label(foo)", nil},
		{"unclosed paren", "index_name:Label(foo", nil},
		{"empty props", "index_name:Label()", nil},
		{"mixed", "index_name:Label,good_index:Good(foo)", []string{"Good"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Labels())
		})
	}
}

func TestParse_Whitespace(t *testing.T) {
	m, err := Parse("  my_index : MyLabel ( foo , hello )  ,\n other-idx:Other(bar)")
	require.NoError(t, err)
	assert.Equal(t, []string{"MyLabel", "Other"}, m.Labels())
	assert.Equal(t, []string{"foo", "hello"}, m.Definitions("MyLabel")[0].Properties)
	assert.Equal(t, "other-idx", m.Definitions("Other")[0].Index)
}

func TestParse_DuplicatePropertiesCollapse(t *testing.T) {
	m, err := Parse("idx:L(a,b,a,c,b)")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, m.Definitions("L")[0].Properties)
}

func TestParse_Deterministic(t *testing.T) {
	spec := "department:Department(fullname,name),dnsrr:DnsRr(rr_all_value),people:Person(first,last)"
	a, err := Parse(spec)
	require.NoError(t, err)
	b, err := Parse(spec)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())

	// Round trip through String.
	c, err := Parse(a.String())
	require.NoError(t, err)
	assert.True(t, a.Equal(c))
}

func TestMapping_Equal(t *testing.T) {
	a, _ := Parse("idx:L(a,b)")
	b, _ := Parse("idx:L(b,a)")
	c, _ := Parse("other:L(a,b)")
	d, _ := Parse("idx:L(a)")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(Empty()))
}

func TestMapping_Accessors(t *testing.T) {
	m, err := Parse("aa:A(x),bb:B(y),aa:C(z)")
	require.NoError(t, err)

	assert.True(t, m.Has("A"))
	assert.False(t, m.Has("Z"))
	assert.True(t, m.HasAny([]string{"Z", "B"}))
	assert.False(t, m.HasAny([]string{"Z"}))
	assert.Nil(t, m.Definitions("Z"))
	assert.Equal(t, []string{"aa", "bb"}, m.Indices())
	assert.True(t, m.Definitions("A")[0].HasProperty("x"))

	var nilMapping *Mapping
	assert.Equal(t, 0, nilMapping.Len())
	assert.False(t, nilMapping.Has("A"))
}

func TestBuilder(t *testing.T) {
	m, err := NewBuilder().
		Add("Person", "people", "name", "age").
		Add("Person", "names", "name").
		Add("City", "places", "name").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"Person", "City"}, m.Labels())
	require.Len(t, m.Definitions("Person"), 2)
	assert.Equal(t, "names", m.Definitions("Person")[1].Index)

	_, err = NewBuilder().Add("Person", "people", "a").Add("Person", "people", "b").Build()
	assert.ErrorIs(t, err, ErrDuplicateIndexDefinition)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index_spec.txt")
	content := "# people\npeople:Person(name,age)\n\n# places\nplaces:City(name)\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Person", "City"}, m.Labels())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestHolder(t *testing.T) {
	h := NewHolder(nil)
	assert.Equal(t, 0, h.Load().Len())

	m, err := h.Reload("idx:L(a)")
	require.NoError(t, err)
	assert.Same(t, m, h.Load())

	_, err = h.Reload("a:L(x),b:L(y)")
	require.ErrorIs(t, err, ErrDuplicateIndexDefinition)
	assert.Same(t, m, h.Load(), "failed reload keeps previous mapping")
}

func TestHolder_ConcurrentReload(t *testing.T) {
	specs := []string{
		"one:A(x),one:B(y)",
		"two:A(x),two:B(y),two:C(z)",
	}
	h := NewHolder(nil)
	_, err := h.Reload(specs[0])
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = h.Reload(specs[(i+j)%2])
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m := h.Load()
				// Every observed mapping is one of the two complete specs.
				if m.Len() == 2 {
					assert.Equal(t, "one", m.Definitions("A")[0].Index)
				} else {
					assert.Equal(t, 3, m.Len())
					assert.Equal(t, "two", m.Definitions("C")[0].Index)
				}
			}
		}()
	}
	wg.Wait()
}
