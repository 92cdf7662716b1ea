package pgdao

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaRejectsEmptyTable(t *testing.T) {
	_, err := NewSchema("x", "", noopIDGen{}, []Field{{Name: "a", Type: FieldString}})
	assert.True(t, IsModelError(err))
}

func TestNewSchemaRejectsNilIDGen(t *testing.T) {
	_, err := NewSchema("x", "t", nil, []Field{{Name: "a", Type: FieldString}})
	assert.True(t, IsModelError(err))
}

func TestNewSchemaRejectsDuplicateField(t *testing.T) {
	_, err := NewSchema("x", "t", noopIDGen{}, []Field{
		{Name: "a", Type: FieldString},
		{Name: "a", Type: FieldNumber},
	})
	assert.True(t, IsModelError(err))
}

func TestNewSchemaRejectsHandlerOnScalarField(t *testing.T) {
	_, err := NewSchema("x", "t", noopIDGen{}, []Field{
		{Name: "a", Type: FieldString, Handler: failingHandlerForSchemaTest{}},
	})
	assert.True(t, IsModelError(err))
}

func TestNewSchemaIncludesImplicitFields(t *testing.T) {
	schema, err := NewSchema("x", "t", noopIDGen{}, []Field{{Name: "a", Type: FieldString}})
	require.NoError(t, err)
	_, ok := schema.fieldByName("id")
	assert.True(t, ok)
	_, ok = schema.fieldByName("createdOn")
	assert.True(t, ok)
	_, ok = schema.fieldByName("updatedOn")
	assert.True(t, ok)
}

func TestDeriveColumn(t *testing.T) {
	assert.Equal(t, "created_on", deriveColumn("createdOn"))
	assert.Equal(t, "username", deriveColumn("username"))
	assert.Equal(t, "user_profile_id", deriveColumn("userProfileId"))
}

type failingHandlerForSchemaTest struct{}

func (failingHandlerForSchemaTest) Parse(string) (any, error)        { return nil, nil }
func (failingHandlerForSchemaTest) Serialize(any) (string, error)    { return "", nil }
func (failingHandlerForSchemaTest) Clone(v any) any                  { return v }
func (failingHandlerForSchemaTest) AreEqual(a, b any) bool           { return a == b }
