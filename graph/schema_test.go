package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Field{Name: "latest_user_message", Policy: PolicyReplace},
		Field{Name: "scope", Policy: PolicyReplace},
		Field{Name: "messages", Policy: PolicyAppend, Default: []any{}},
	)
	require.NoError(t, err)
	return s
}

func TestSchemaValidation(t *testing.T) {
	_, err := NewSchema(Field{Name: "", Policy: PolicyReplace})
	assert.Error(t, err)

	_, err = NewSchema(
		Field{Name: "x", Policy: PolicyReplace},
		Field{Name: "x", Policy: PolicyAppend},
	)
	assert.Error(t, err, "duplicate field names are a build defect")

	_, err = NewSchema(Field{Name: "x", Policy: Policy("merge")})
	assert.Error(t, err)
}

func TestMergeReplace(t *testing.T) {
	s := testSchema(t)
	st := s.Defaults()

	st, err := s.Merge(st, map[string]any{"scope": "weather agent"})
	require.NoError(t, err)
	assert.Equal(t, "weather agent", st["scope"])

	st, err = s.Merge(st, map[string]any{"scope": "trimmed scope"})
	require.NoError(t, err)
	assert.Equal(t, "trimmed scope", st["scope"])
}

func TestMergeAppendIsOrderedAndImmutable(t *testing.T) {
	s := testSchema(t)
	st := s.Defaults()

	first, err := s.Merge(st, map[string]any{"messages": "batch-1"})
	require.NoError(t, err)
	second, err := s.Merge(first, map[string]any{"messages": "batch-2"})
	require.NoError(t, err)

	assert.Equal(t, []any{"batch-1", "batch-2"}, second["messages"])
	// The earlier snapshot must be untouched by the later append.
	assert.Equal(t, []any{"batch-1"}, first["messages"])
}

func TestMergeRejectsUndeclaredField(t *testing.T) {
	s := testSchema(t)
	_, err := s.Merge(s.Defaults(), map[string]any{"unknown": 1})
	assert.Error(t, err)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	s := testSchema(t)
	st := s.Defaults()
	st["scope"] = "original"

	_, err := s.Merge(st, map[string]any{"scope": "changed"})
	require.NoError(t, err)
	assert.Equal(t, "original", st["scope"])
}

func TestDefaultsAreIsolated(t *testing.T) {
	s := testSchema(t)
	a := s.Defaults()
	b := s.Defaults()

	a2, err := s.Merge(a, map[string]any{"messages": "only-in-a"})
	require.NoError(t, err)
	assert.Len(t, a2["messages"], 1)
	assert.Empty(t, b["messages"])
}
