package graph

import (
	"encoding/json"
	"fmt"

	"github.com/loomlabs/loom/types"
)

// Policy defines how a field absorbs partial updates from nodes.
type Policy string

const (
	// PolicyReplace overwrites the current value with the update.
	PolicyReplace Policy = "replace"
	// PolicyAppend appends the update to an ordered sequence. The log is
	// append-only: prior entries are never reordered or mutated.
	PolicyAppend Policy = "append"
)

// Field declares a single named state field.
type Field struct {
	Name    string
	Policy  Policy
	Default any
}

// State is a thread's field map. Nodes receive a snapshot and must not
// retain it past their execution.
type State map[string]any

// Schema fixes the set of state fields and their merge policies. The merge
// policy belongs to the graph definition, not to individual nodes.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema creates a schema from the given field declarations.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, types.NewError(types.ErrValidationFailed, "schema field with empty name")
		}
		if _, dup := s.fields[f.Name]; dup {
			return nil, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("duplicate schema field: %s", f.Name))
		}
		switch f.Policy {
		case PolicyReplace, PolicyAppend:
		default:
			return nil, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("field %s has unknown policy %q", f.Name, f.Policy))
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)
	}
	return s, nil
}

// Fields returns the declared field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether the schema declares the field.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// PolicyOf returns the merge policy for a declared field.
func (s *Schema) PolicyOf(name string) (Policy, bool) {
	f, ok := s.fields[name]
	if !ok {
		return "", false
	}
	return f.Policy, true
}

// Defaults returns a fresh state populated with each field's default value.
func (s *Schema) Defaults() State {
	st := make(State, len(s.fields))
	for name, f := range s.fields {
		if f.Default != nil {
			st[name] = cloneValue(f.Default)
		}
	}
	return st
}

// Merge applies a partial update to state, field by field, honoring each
// field's policy. Unknown fields are rejected so a node cannot grow state
// outside the declared schema. The input state is not mutated.
func (s *Schema) Merge(st State, updates map[string]any) (State, error) {
	merged := st.Clone()
	for name, value := range updates {
		f, ok := s.fields[name]
		if !ok {
			return nil, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("update targets undeclared field: %s", name))
		}
		switch f.Policy {
		case PolicyReplace:
			merged[name] = value
		case PolicyAppend:
			seq, err := asSequence(merged[name])
			if err != nil {
				return nil, types.NewError(types.ErrValidationFailed,
					fmt.Sprintf("field %s is not appendable", name)).WithCause(err)
			}
			// A sequence update extends the log element by element; any
			// other value is appended as a single entry.
			if batch, ok := value.([]any); ok {
				merged[name] = append(seq, batch...)
			} else {
				merged[name] = append(seq, value)
			}
		}
	}
	return merged, nil
}

// Clone returns a deep copy of the state. State values must round-trip
// through JSON; that is also what makes them checkpointable.
func (st State) Clone() State {
	if st == nil {
		return State{}
	}
	out := make(State, len(st))
	for k, v := range st {
		out[k] = cloneValue(v)
	}
	return out
}

func asSequence(v any) ([]any, error) {
	if v == nil {
		return []any{}, nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("value is %T, want []any", v)
	}
	// Copy the backing array so appends never mutate a committed snapshot.
	out := make([]any, len(seq), len(seq)+1)
	copy(out, seq)
	return out, nil
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case nil, bool, string, int, int64, float64, json.RawMessage:
		return tv
	}
	raw, err := json.Marshal(v)
	if err != nil {
		// Non-serializable values cannot be checkpointed either; surface
		// the defect at merge time rather than at save time.
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
