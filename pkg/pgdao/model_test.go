package pgdao

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestModel(t *testing.T, mutable bool) *Model {
	t.Helper()
	schema := testSchema(t)
	m := &Model{
		schema: schema,
		id:     "1",
		values: map[string]any{
			"id": "1", "username": "Irakliy", "tags": []any{"test", "testing"},
		},
	}
	if mutable {
		m.flags |= flagMutable
	}
	m.snapshot(saveMutableFields)
	return m
}

func TestHasChangedIsFalseRightAfterSnapshot(t *testing.T) {
	m := buildTestModel(t, true)
	assert.False(t, m.HasChanged())
}

func TestHasChangedDetectsNonReadonlyMutation(t *testing.T) {
	m := buildTestModel(t, true)
	require.NoError(t, m.Set("username", "modified"))
	assert.True(t, m.HasChanged())
}

func TestReadonlyChangedIgnoresNonReadonlyMutation(t *testing.T) {
	m := buildTestModel(t, true)
	require.NoError(t, m.Set("username", "modified"))
	assert.False(t, m.readonlyChanged())
}

func TestReadonlyChangedDetectsIdMutation(t *testing.T) {
	m := buildTestModel(t, false)
	m.snapshot(saveAllFields)
	m.values["id"] = "2"
	assert.True(t, m.readonlyChanged())
	assert.True(t, m.isDirty())
}

func TestInfuseRejectsReadonlyMismatch(t *testing.T) {
	m := buildTestModel(t, true)
	err := m.infuse(map[string]any{"id": "2", "username": "fresh"})
	assert.True(t, IsModelError(err))
}

func TestInfuseOverwritesNonReadonlyFields(t *testing.T) {
	m := buildTestModel(t, true)
	require.NoError(t, m.infuse(map[string]any{"id": "1", "username": "fresh"}))
	assert.Equal(t, "fresh", m.Get("username"))
}

func TestSetUnknownFieldIsModelError(t *testing.T) {
	m := buildTestModel(t, true)
	err := m.Set("nope", 1)
	assert.True(t, IsModelError(err))
}

func TestFieldsEqualArrayDeepEquality(t *testing.T) {
	f := Field{Name: "tags", Type: FieldArray}
	assert.True(t, fieldsEqual(f, []any{"a", "b"}, []any{"a", "b"}))
	assert.False(t, fieldsEqual(f, []any{"a", "b"}, []any{"a", "c"}))
}
