package pgdao

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// FieldType tags the wire/Go representation of a model field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldBoolean
	FieldTimestamp
	FieldDate
	FieldObject
	FieldArray
)

// ObjectHandler customizes how an Object/Array field round-trips through
// the wire and how its equality/cloning is decided (spec §3).
type ObjectHandler interface {
	Parse(text string) (any, error)
	Serialize(value any) (string, error)
	Clone(value any) any
	AreEqual(a, b any) bool
}

// Field is one column of a Schema.
type Field struct {
	Name     string
	Column   string // derived from Name (camelCase -> snake_case) if empty
	Type     FieldType
	Readonly bool
	Handler  ObjectHandler // Object/Array only
}

// IDGenerator produces new row ids. Production code consults a database
// sequence within the same transaction as the subsequent INSERT (spec §9);
// see TypeIDGenerator for the generator this core ships.
type IDGenerator interface {
	GetNextID(s *Session) (string, error)
}

// Schema is a model type's declaration: table name, id generator, and
// field set (spec §3/§4.5). Construction is declarative and validated
// eagerly — there is no partial-schema state.
type Schema struct {
	Name   string // logical model type name; keys the identity map
	Table  string
	IDGen  IDGenerator
	Fields []Field

	fieldsByName   map[string]*Field
	fieldsByColumn map[string]*Field
}

// NewSchema validates and builds a Schema. All failures are fatal at
// schema-build time; none occur later at query time.
func NewSchema(name, table string, idGen IDGenerator, fields []Field) (*Schema, error) {
	if strings.TrimSpace(table) == "" {
		return nil, newModelError("schema", errors.New("table name must be a non-empty string"))
	}
	if idGen == nil {
		return nil, newModelError("schema", errors.New("id generator must expose GetNextID"))
	}
	if len(fields) == 0 {
		return nil, newModelError("schema", errors.New("schema has no fields"))
	}

	all := append(implicitFields(), append([]Field(nil), fields...)...)
	byName := make(map[string]*Field, len(all))
	byColumn := make(map[string]*Field, len(all))

	for i := range all {
		f := &all[i]
		if strings.TrimSpace(f.Name) == "" {
			return nil, newModelError("schema", errors.New("field name must be a non-empty string"))
		}
		if f.Handler != nil && f.Type != FieldObject && f.Type != FieldArray {
			return nil, newModelError("schema", fmt.Errorf("field %q: a custom handler is only valid for Object/Array fields", f.Name))
		}
		if f.Column == "" {
			f.Column = deriveColumn(f.Name)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, newModelError("schema", fmt.Errorf("duplicate field %q", f.Name))
		}
		byName[f.Name] = f
		byColumn[f.Column] = f
	}

	if name == "" {
		name = table
	}

	return &Schema{
		Name:           name,
		Table:          table,
		IDGen:          idGen,
		Fields:         all,
		fieldsByName:   byName,
		fieldsByColumn: byColumn,
	}, nil
}

func (s *Schema) fieldByName(name string) (*Field, bool) {
	f, ok := s.fieldsByName[name]
	return f, ok
}

func implicitFields() []Field {
	return []Field{
		{Name: "id", Column: "id", Type: FieldString, Readonly: true},
		{Name: "createdOn", Column: "created_on", Type: FieldTimestamp, Readonly: true},
		{Name: "updatedOn", Column: "updated_on", Type: FieldTimestamp, Readonly: true},
	}
}

// deriveColumn converts camelCase to snake_case; single-word identifiers
// pass through unchanged.
func deriveColumn(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
