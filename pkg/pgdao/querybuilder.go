package pgdao

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Op names a selector operator (spec §4.5).
type Op string

const (
	OpIn       Op = "in"
	OpNotIn    Op = "not"
	OpLTE      Op = "lte"
	OpContains Op = "contains"
)

// OpValue is a selector operator applied to one field's value, e.g.
// map[string]any{"status": pgdao.In("open", "pending")}.
type OpValue struct {
	Op    Op
	Value any
}

func In(values ...any) OpValue    { return OpValue{Op: OpIn, Value: values} }
func NotIn(values ...any) OpValue { return OpValue{Op: OpNotIn, Value: values} }
func LTE(v any) OpValue           { return OpValue{Op: OpLTE, Value: v} }
func Contains(v any) OpValue      { return OpValue{Op: OpContains, Value: v} }

// Selectors accepted by qSelectOneModel/qSelectAllModels:
//   - map[string]any               — ANDed equality (or OpValue operators)
//   - []map[string]any             — ORed AND-groups
//   - string                       — inlined verbatim into the WHERE clause
//
// buildWhere appends bound parameters to args and returns the WHERE body
// (without the "WHERE" keyword).
func buildWhere(schema *Schema, selector any, args *[]any) (string, error) {
	switch sel := selector.(type) {
	case string:
		return sel, nil
	case map[string]any:
		return buildAndClause(schema, sel, args)
	case []map[string]any:
		parts := make([]string, 0, len(sel))
		for _, m := range sel {
			clause, err := buildAndClause(schema, m, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+clause+")")
		}
		return strings.Join(parts, " OR "), nil
	default:
		return "", newModelError("selector", fmt.Errorf("unsupported selector type %T", selector))
	}
}

func buildAndClause(schema *Schema, m map[string]any, args *[]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		field, ok := schema.fieldByName(k)
		if !ok {
			return "", newModelError("selector", fmt.Errorf("unknown column %q", k))
		}
		v := m[k]
		if ov, ok := v.(OpValue); ok {
			clause, err := buildOpClause(field, ov, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
			continue
		}
		*args = append(*args, v)
		parts = append(parts, fmt.Sprintf("%s = $%d", field.Column, len(*args)))
	}
	return strings.Join(parts, " AND "), nil
}

func buildOpClause(field *Field, ov OpValue, args *[]any) (string, error) {
	switch ov.Op {
	case OpIn, OpNotIn:
		values, ok := ov.Value.([]any)
		if !ok {
			return "", newModelError("selector", errors.New("in/not operator requires a slice value"))
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			*args = append(*args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(*args))
		}
		verb := "IN"
		if ov.Op == OpNotIn {
			verb = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", field.Column, verb, strings.Join(placeholders, ", ")), nil
	case OpLTE:
		*args = append(*args, ov.Value)
		return fmt.Sprintf("%s <= $%d", field.Column, len(*args)), nil
	case OpContains:
		*args = append(*args, ov.Value)
		return fmt.Sprintf("%s @> $%d", field.Column, len(*args)), nil
	default:
		return "", newModelError("selector", fmt.Errorf("unsupported operator %q", ov.Op))
	}
}

func selectColumns(schema *Schema) string {
	parts := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		if f.Column == f.Name {
			parts[i] = f.Column
		} else {
			parts[i] = fmt.Sprintf(`%s AS "%s"`, f.Column, f.Name)
		}
	}
	return strings.Join(parts, ", ")
}

// qSelectOneModel builds a SELECT query with mask=single: an undefined
// selector is a model-error. The text carries no LIMIT clause; rows past
// the first are discarded by the mask=single sink.
func qSelectOneModel(schema *Schema, selector any, mutable bool) (Query, error) {
	if selector == nil {
		return Query{}, newModelError("qSelectOneModel", errors.New("selector is required"))
	}
	var args []any
	where, err := buildWhere(schema, selector, &args)
	if err != nil {
		return Query{}, err
	}
	text := fmt.Sprintf("SELECT %s FROM %s WHERE %s", selectColumns(schema), schema.Table, where)
	if mutable {
		text += " FOR UPDATE"
	}
	return Query{Text: text, Mask: MaskSingle, Handler: HandlerModel, Model: schema, Values: args}, nil
}

// qSelectAllModels builds a SELECT query (mask=list). A nil selector
// fetches every row.
func qSelectAllModels(schema *Schema, selector any, mutable bool) (Query, error) {
	var args []any
	var where string
	if selector != nil {
		w, err := buildWhere(schema, selector, &args)
		if err != nil {
			return Query{}, err
		}
		where = w
	}
	text := fmt.Sprintf("SELECT %s FROM %s", selectColumns(schema), schema.Table)
	if where != "" {
		text += " WHERE " + where
	}
	if mutable {
		text += " FOR UPDATE"
	}
	return Query{Text: text, Mask: MaskList, Handler: HandlerModel, Model: schema, Values: args}, nil
}

// qInsertModel synthesizes an INSERT for a newly-created model, applying
// the literalization-vs-binding rule of spec §4.4.
func qInsertModel(m *Model) (Query, error) {
	cols := make([]string, 0, len(m.schema.Fields))
	vals := make([]string, 0, len(m.schema.Fields))
	var bound []any
	for _, f := range m.schema.Fields {
		rendered, err := renderValue(f, m.values[f.Name], &bound)
		if err != nil {
			return Query{}, err
		}
		cols = append(cols, f.Column)
		vals = append(vals, rendered)
	}
	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.schema.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	return Query{Text: text, Values: bound}, nil
}

// qUpdateModel synthesizes an UPDATE for the changed non-readonly fields
// of a mutable model, bumping updatedOn to now. A readonly field that
// diverged from its snapshot is a model-error.
func qUpdateModel(m *Model, now time.Time) (Query, error) {
	if m.readonlyChanged() {
		return Query{}, newModelError("flush", fmt.Errorf("readonly field mutated on model %s(%s)", m.schema.Name, m.id))
	}
	m.values["updatedOn"] = now

	var sets []string
	var bound []any
	for _, f := range m.schema.Fields {
		if f.Readonly && f.Name != "updatedOn" {
			continue
		}
		if f.Name != "updatedOn" && !m.fieldChanged(f) {
			continue
		}
		rendered, err := renderValue(f, m.values[f.Name], &bound)
		if err != nil {
			return Query{}, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Column, rendered))
	}

	idField, _ := m.schema.fieldByName("id")
	idRendered, err := renderValue(*idField, m.id, &bound)
	if err != nil {
		return Query{}, err
	}
	text := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", m.schema.Table, strings.Join(sets, ", "), idRendered)
	return Query{Text: text, Values: bound}, nil
}

// qDeleteModel synthesizes a DELETE for a model marked deleted.
func qDeleteModel(m *Model) Query {
	var bound []any
	idField, _ := m.schema.fieldByName("id")
	idRendered, _ := renderValue(*idField, m.id, &bound)
	text := fmt.Sprintf("DELETE FROM %s WHERE id = %s", m.schema.Table, idRendered)
	return Query{Text: text, Values: bound}
}

// renderValue implements spec §4.4's literalization-vs-binding rule:
// custom-handler-serialized values and unsafe strings become a bound $N
// parameter; everything else (numbers, booleans, timestamps,
// arrays-of-scalars, safe strings) is rendered inline.
func renderValue(f Field, v any, bound *[]any) (string, error) {
	if f.Handler != nil {
		s, err := f.Handler.Serialize(v)
		if err != nil {
			return "", newModelError("serialize", err)
		}
		*bound = append(*bound, s)
		return fmt.Sprintf("$%d", len(*bound)), nil
	}
	if needsBinding(v) {
		*bound = append(*bound, v)
		return fmt.Sprintf("$%d", len(*bound)), nil
	}
	return sqlLiteral(v), nil
}
