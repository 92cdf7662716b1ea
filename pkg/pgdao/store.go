package pgdao

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

type modelKey struct {
	typeName string
	id       string
}

// Store is the session-scoped identity map of spec §3/§4.4: it guarantees
// that any two loads of the same (type, id) during a session yield the
// same in-memory *Model.
type Store struct {
	session *Session
	models  map[modelKey]*Model
}

func newStore(s *Session) *Store {
	return &Store{session: s, models: make(map[modelKey]*Model)}
}

func (st *Store) get(schema *Schema, id string) (*Model, bool) {
	m, ok := st.models[modelKey{schema.Name, id}]
	return m, ok
}

func (st *Store) getAll(schema *Schema) []*Model {
	out := make([]*Model, 0)
	for k, m := range st.models {
		if k.typeName == schema.Name {
			out = append(out, m)
		}
	}
	return out
}

func (st *Store) saveMode(mutable bool) saveMode {
	if st.session.opts.VerifyImmutability {
		return saveAllFields
	}
	if mutable {
		return saveMutableFields
	}
	return saveNone
}

// load implements spec §4.4's row-load algorithm, invoked once per DataRow
// routed to a model sink.
func (st *Store) load(schema *Schema, mutable bool, fields []FieldDescriptor, raw []string) (*Model, error) {
	values, id, err := rowToValues(schema, fields, raw)
	if err != nil {
		return nil, err
	}

	key := modelKey{schema.Name, id}
	existing, ok := st.models[key]
	if !ok {
		m := &Model{schema: schema, id: id, values: values}
		if mutable {
			m.flags |= flagMutable
		}
		m.snapshot(st.saveMode(mutable))
		st.models[key] = m
		return m, nil
	}

	if existing.flags&flagDeleted != 0 {
		return nil, nil
	}

	if existing.flags&flagMutable != 0 {
		if existing.flags&flagCreated != 0 || existing.hasChanged() {
			return nil, newSessionError("load", fmt.Errorf("Cannot reload %s(%s): model has been modified", schema.Name, id))
		}
		if err := existing.infuse(values); err != nil {
			return nil, err
		}
	}

	if mutable {
		existing.flags |= flagMutable
		if existing.originals == nil {
			existing.snapshot(st.saveMode(true))
		}
	}
	return existing, nil
}

// loadSeed constructs a non-mutable model from caller-supplied seed
// values, for test fixtures (session.Load).
func (st *Store) loadSeed(schema *Schema, seed map[string]any) (*Model, error) {
	id, _ := seed["id"].(string)
	if id == "" {
		return nil, newModelError("load", fmt.Errorf("seed for %s must include an id", schema.Name))
	}
	key := modelKey{schema.Name, id}
	if _, ok := st.models[key]; ok {
		return nil, newModelError("load", fmt.Errorf("model %s(%s) is already present in the store", schema.Name, id))
	}
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		if v, ok := seed[f.Name]; ok {
			values[f.Name] = v
		}
	}
	values["id"] = id
	m := &Model{schema: schema, id: id, values: values}
	m.snapshot(st.saveMode(false))
	st.models[key] = m
	return m, nil
}

// create constructs a new, mutable|created model and inserts it into the
// store (spec §4.3 Session.create).
func (st *Store) create(schema *Schema, seed map[string]any, id string, now time.Time) *Model {
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		if v, ok := seed[f.Name]; ok {
			values[f.Name] = v
		}
	}
	values["id"] = id
	values["createdOn"] = now
	values["updatedOn"] = now
	m := &Model{schema: schema, id: id, values: values, flags: flagMutable | flagCreated}
	st.models[modelKey{schema.Name, id}] = m
	return m
}

// delete marks m deleted. m must be present in the store and mutable
// (spec §3 invariant "deleted ⇒ mutable").
func (st *Store) delete(m *Model) error {
	key := modelKey{m.schema.Name, m.id}
	if _, ok := st.models[key]; !ok {
		return newModelError("delete", fmt.Errorf("model %s(%s) is not present in the store", m.schema.Name, m.id))
	}
	if m.flags&flagMutable == 0 {
		return newModelError("delete", fmt.Errorf("model %s(%s) is not mutable", m.schema.Name, m.id))
	}
	m.flags |= flagDeleted
	return nil
}

// syncQueries synthesizes the INSERT/UPDATE/DELETE statements needed to
// persist every dirty model (spec §4.4), in a stable (type, id) order.
func (st *Store) syncQueries(now time.Time) ([]Query, []*Model, error) {
	keys := make([]modelKey, 0, len(st.models))
	for k := range st.models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].typeName != keys[j].typeName {
			return keys[i].typeName < keys[j].typeName
		}
		return keys[i].id < keys[j].id
	})

	var queries []Query
	var affected []*Model
	for _, k := range keys {
		m := st.models[k]
		switch {
		case m.flags&flagDeleted != 0:
			queries = append(queries, qDeleteModel(m))
			affected = append(affected, m)
		case m.flags&flagCreated != 0:
			m.values["updatedOn"] = now
			q, err := qInsertModel(m)
			if err != nil {
				return nil, nil, err
			}
			queries = append(queries, q)
			affected = append(affected, m)
		case m.flags&flagMutable != 0 && m.hasChanged():
			q, err := qUpdateModel(m, now)
			if err != nil {
				return nil, nil, err
			}
			queries = append(queries, q)
			affected = append(affected, m)
		}
	}
	return queries, affected, nil
}

// rebaseline re-baselines the store after a successful flush: deleted
// models are dropped, created models lose their created bit, and every
// surviving mutable model re-snapshots its originals.
func (st *Store) rebaseline(affected []*Model) {
	for _, m := range affected {
		key := modelKey{m.schema.Name, m.id}
		if m.flags&flagDeleted != 0 {
			delete(st.models, key)
			continue
		}
		m.flags &^= flagCreated
		m.snapshot(st.saveMode(m.flags&flagMutable != 0))
	}
}

// hasDirtyModels reports whether any model in the store has changed
// (non-readonly fields) or, for non-mutable models snapshotted under
// verifyImmutability, been mutated at all.
func (st *Store) hasDirtyModels() bool {
	for _, m := range st.models {
		if m.flags&flagMutable != 0 {
			if m.hasChanged() || m.flags&flagDeleted != 0 || m.flags&flagCreated != 0 {
				return true
			}
			continue
		}
		if m.isDirty() {
			return true
		}
	}
	return false
}

// rowToValues converts a DataRow's raw field strings into a schema-typed
// values map, keyed by logical field name (not column name).
func rowToValues(schema *Schema, fields []FieldDescriptor, raw []string) (map[string]any, string, error) {
	byName := make(map[string]string, len(fields))
	for i, f := range fields {
		if i < len(raw) {
			byName[f.Name] = raw[i]
		}
	}
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		text, ok := byName[f.Name]
		if !ok {
			continue
		}
		v, err := convertField(f, text)
		if err != nil {
			return nil, "", newParseError("load", fmt.Errorf("field %q: %w", f.Name, err))
		}
		values[f.Name] = v
	}
	id, _ := values["id"].(string)
	return values, id, nil
}

func convertField(f Field, text string) (any, error) {
	if f.Handler != nil {
		return f.Handler.Parse(text)
	}
	switch f.Type {
	case FieldString:
		return text, nil
	case FieldNumber:
		return strconv.ParseFloat(text, 64)
	case FieldBoolean:
		return text == "t" || text == "true", nil
	case FieldTimestamp, FieldDate:
		if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02 15:04:05.999999-07", text)
	case FieldObject, FieldArray:
		var v any
		err := json.Unmarshal([]byte(text), &v)
		return v, err
	default:
		return text, nil
	}
}
