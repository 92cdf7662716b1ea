package pgdao

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type modelFlags uint8

const (
	flagMutable modelFlags = 1 << iota
	flagCreated
	flagDeleted
)

// saveMode selects how much of a model's state is snapshotted at load
// time, per spec §4.4.
type saveMode int

const (
	saveNone saveMode = iota
	saveMutableFields
	saveAllFields
)

// Model is one identity-mapped entity instance (spec §3). It is owned by
// exactly one Store for its whole lifetime.
type Model struct {
	mu sync.RWMutex

	schema    *Schema
	id        string
	values    map[string]any
	originals map[string]any
	flags     modelFlags
}

func (m *Model) ID() string       { return m.id }
func (m *Model) Schema() *Schema  { return m.schema }
func (m *Model) IsMutable() bool  { return m.flags&flagMutable != 0 }
func (m *Model) IsCreated() bool  { return m.flags&flagCreated != 0 }
func (m *Model) IsDeleted() bool  { return m.flags&flagDeleted != 0 }

// Get returns the current value of field name.
func (m *Model) Get(name string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[name]
}

// Set assigns field name's current value. Readonly mutation is not
// rejected here — spec §3 enforces it at flush time, as a ModelError, so
// that "readonly" really means "immutable from the database's point of
// view", not "write-protected in memory".
func (m *Model) Set(name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schema.fieldByName(name); !ok {
		return newModelError("set", fmt.Errorf("unknown field %q on %s", name, m.schema.Name))
	}
	m.values[name] = value
	return nil
}

// HasChanged reports whether any non-readonly field differs from its
// last snapshot (spec §8 invariant 3).
func (m *Model) HasChanged() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasChanged()
}

func (m *Model) hasChanged() bool {
	if m.originals == nil {
		return false
	}
	for _, f := range m.schema.Fields {
		if f.Readonly {
			continue
		}
		if !fieldsEqual(f, m.values[f.Name], m.originals[f.Name]) {
			return true
		}
	}
	return false
}

func (m *Model) fieldChanged(f Field) bool {
	if m.originals == nil {
		return true
	}
	orig, ok := m.originals[f.Name]
	if !ok {
		return true
	}
	return !fieldsEqual(f, m.values[f.Name], orig)
}

// readonlyChanged reports whether a readonly field diverged from its
// snapshot — a violation either of the immutability contract (non-mutable
// model) or of the "readonly fields never change" contract (mutable
// model about to flush).
func (m *Model) readonlyChanged() bool {
	if m.originals == nil {
		return false
	}
	for _, f := range m.schema.Fields {
		if !f.Readonly {
			continue
		}
		orig, ok := m.originals[f.Name]
		if !ok {
			continue
		}
		if !fieldsEqual(f, m.values[f.Name], orig) {
			return true
		}
	}
	return false
}

// isDirty reports whether any field at all (readonly or not) diverged
// from the snapshot — used for the immutability check on non-mutable
// models at session close (spec §4.3 close step 1).
func (m *Model) isDirty() bool {
	return m.hasChanged() || m.readonlyChanged()
}

// infuse overwrites non-readonly fields with values from a freshly
// fetched row. Readonly fields must match the existing value exactly, or
// the reload fails (spec glossary "infuse").
func (m *Model) infuse(fresh map[string]any) error {
	for _, f := range m.schema.Fields {
		newVal, ok := fresh[f.Name]
		if !ok {
			continue
		}
		if f.Readonly {
			if !fieldsEqual(f, m.values[f.Name], newVal) {
				return newModelError("infuse", fmt.Errorf("readonly field %q mismatch reloading %s(%s)", f.Name, m.schema.Name, m.id))
			}
			continue
		}
		m.values[f.Name] = newVal
	}
	return nil
}

// snapshot re-baselines m.originals per mode.
func (m *Model) snapshot(mode saveMode) {
	switch mode {
	case saveNone:
		m.originals = nil
	case saveMutableFields:
		m.originals = cloneValues(m.schema, m.values, func(f Field) bool { return !f.Readonly })
	case saveAllFields:
		m.originals = cloneValues(m.schema, m.values, func(Field) bool { return true })
	}
}

func cloneValues(schema *Schema, values map[string]any, include func(Field) bool) map[string]any {
	out := make(map[string]any, len(values))
	for _, f := range schema.Fields {
		if !include(f) {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		out[f.Name] = cloneValue(f, v)
	}
	return out
}

func cloneValue(f Field, v any) any {
	if f.Handler != nil {
		return f.Handler.Clone(v)
	}
	switch f.Type {
	case FieldObject, FieldArray:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return v
		}
		return out
	default:
		return v
	}
}

// fieldsEqual implements the field equality rule of spec §3: strict
// equality for scalars and timestamps, deep equality for plain
// objects/arrays, or a custom handler's AreEqual when supplied.
func fieldsEqual(f Field, a, b any) bool {
	if f.Handler != nil {
		return f.Handler.AreEqual(a, b)
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok2 := b.(time.Time); ok2 {
			return ta.Equal(tb)
		}
	}
	switch f.Type {
	case FieldObject, FieldArray:
		return deepEqual(a, b)
	default:
		return a == b
	}
}

func deepEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}
