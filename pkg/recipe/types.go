// Package recipe defines the declarative change-recipe document types and
// the catalog that loads them from disk.
package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind enumerates the four step operations.
type Kind string

const (
	KindQuery         Kind = "QUERY"
	KindGenerateDML   Kind = "GENERATE_DML"
	KindReturnSuccess Kind = "RETURN_SUCCESS"
	KindReturnError   Kind = "RETURN_ERROR"
)

// DMLType enumerates the statement types a GENERATE_DML step can emit.
type DMLType string

const (
	DMLUpdate DMLType = "UPDATE"
	DMLInsert DMLType = "INSERT"
	DMLDelete DMLType = "DELETE"
)

// Recipe is one declarative change recipe, identified by its work-order type.
// Loaded once at startup and read-only thereafter.
type Recipe struct {
	WorkOrderType    string `json:"work_order_type"`
	Description      string `json:"description"`
	Steps            []Step `json:"steps"`
	FinalSQLTemplate string `json:"final_sql_template,omitempty"` // documentation only
}

// Step is the universal step structure. Fields are populated based on Operation.
type Step struct {
	// Common fields
	Step      int  `json:"step"`
	Operation Kind `json:"operation"`

	// QUERY step
	Table        string   `json:"table,omitempty"`
	Where        string   `json:"where,omitempty"`
	OutputFields []string `json:"output_fields,omitempty"`
	OnSuccess    *Branch  `json:"on_success,omitempty"`
	OnFailure    *Branch  `json:"on_failure,omitempty"`

	// GENERATE_DML step
	Type DMLType `json:"type,omitempty"`
	// omitempty keeps these optional in the generated schema; omitzero is
	// what actually drops them on encode (struct values are never "empty").
	Set      FieldMap `json:"set,omitempty,omitzero"`
	Values   FieldMap `json:"values,omitempty,omitzero"`
	NextStep StepRef  `json:"next_step,omitempty,omitzero"`

	// RETURN_SUCCESS / RETURN_ERROR steps
	Message string `json:"message,omitempty"`
}

// Branch is a conditional or unconditional jump attached to a QUERY step.
// Without a condition it jumps to NextStep unconditionally; with one, a
// truthy predicate goes to NextStep and a falsy one to ElseStep.
type Branch struct {
	Condition string  `json:"condition,omitempty"`
	NextStep  StepRef `json:"next_step"`
	ElseStep  StepRef `json:"else_step,omitempty,omitzero"`
}

// EntryStep returns the lowest-numbered step, which is where execution begins.
func (r *Recipe) EntryStep() int {
	entry := 0
	for i, s := range r.Steps {
		if i == 0 || s.Step < entry {
			entry = s.Step
		}
	}
	return entry
}

// StepByNumber returns the step with the given number, or nil.
func (r *Recipe) StepByNumber(n int) *Step {
	for i := range r.Steps {
		if r.Steps[i].Step == n {
			return &r.Steps[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// StepRef
// ---------------------------------------------------------------------------

// StepRef is a step reference with three states: absent (fall through to the
// next sequential step), explicit JSON null (terminate the run), or a
// concrete step number.
type StepRef struct {
	Present bool
	Null    bool
	Step    int
}

// RefTo builds a reference to a concrete step number.
func RefTo(n int) StepRef { return StepRef{Present: true, Step: n} }

// RefEnd builds the explicit-null "end" reference.
func RefEnd() StepRef { return StepRef{Present: true, Null: true} }

func (r *StepRef) UnmarshalJSON(data []byte) error {
	r.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.Null = true
		return nil
	}
	if err := json.Unmarshal(data, &r.Step); err != nil {
		return fmt.Errorf("step reference must be an integer or null: %w", err)
	}
	return nil
}

func (r StepRef) MarshalJSON() ([]byte, error) {
	if !r.Present || r.Null {
		return []byte("null"), nil
	}
	return json.Marshal(r.Step)
}

// IsZero reports whether the reference was absent in the source document.
// Used by encoding/json omitzero so round-trips preserve absence.
func (r StepRef) IsZero() bool { return !r.Present }

// ---------------------------------------------------------------------------
// FieldMap
// ---------------------------------------------------------------------------

// FieldMap is a JSON object of column → value-template pairs whose key order
// is preserved. SET and INSERT maps render in source order so the emitted
// SQL and its parameter list are stable.
type FieldMap struct {
	keys   []string
	values map[string]string
}

// NewFieldMap builds a FieldMap from ordered (key, value) pairs.
func NewFieldMap(pairs ...[2]string) FieldMap {
	var m FieldMap
	for _, p := range pairs {
		m.put(p[0], p[1])
	}
	return m
}

func (m *FieldMap) put(key, val string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, dup := m.values[key]; !dup {
		m.keys = append(m.keys, key)
	}
	m.values[key] = val
}

// Len returns the number of entries.
func (m FieldMap) Len() int { return len(m.keys) }

// Keys returns the keys in source order.
func (m FieldMap) Keys() []string { return m.keys }

// Get returns the value template for a key.
func (m FieldMap) Get(key string) string { return m.values[key] }

// IsZero reports whether the map is empty, for omitzero.
func (m FieldMap) IsZero() bool { return len(m.keys) == 0 }

func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key := kt.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("field %q: value must be a string template: %w", key, err)
		}
		m.put(key, val)
	}
	_, err = dec.Token() // closing brace
	return err
}

func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
