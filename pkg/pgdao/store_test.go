package pgdao

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts SessionOptions) *Store {
	t.Helper()
	return newStore(&Session{opts: opts})
}

func TestStoreLoadIsIdentityMapped(t *testing.T) {
	store := newTestStore(t, SessionOptions{})
	schema := testSchema(t)
	fields := []FieldDescriptor{{Name: "id"}, {Name: "username"}}

	a, err := store.load(schema, false, fields, []string{"1", "Irakliy"})
	require.NoError(t, err)
	b, err := store.load(schema, false, fields, []string{"1", "Irakliy"})
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestStoreLoadRejectsReloadOfDirtyMutableModel(t *testing.T) {
	store := newTestStore(t, SessionOptions{})
	schema := testSchema(t)
	fields := []FieldDescriptor{{Name: "id"}, {Name: "username"}}

	m, err := store.load(schema, true, fields, []string{"1", "Irakliy"})
	require.NoError(t, err)
	require.NoError(t, m.Set("username", "modified"))

	_, err = store.load(schema, true, fields, []string{"1", "Irakliy"})
	require.Error(t, err)
	assert.True(t, IsSessionError(err))
	assert.Contains(t, err.Error(), "model has been modified")
}

func TestStoreCreateAndSyncQueriesProducesInsert(t *testing.T) {
	store := newTestStore(t, SessionOptions{})
	schema := testSchema(t)

	m := store.create(schema, map[string]any{"username": "new"}, "7", time.Now())
	assert.True(t, m.IsCreated())
	assert.True(t, m.IsMutable())

	queries, affected, err := store.syncQueries(time.Now())
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0].Text, "INSERT INTO tmp_users")
	require.Len(t, affected, 1)

	store.rebaseline(affected)
	assert.False(t, m.IsCreated())
	assert.False(t, m.HasChanged())
}

func TestStoreDeleteRequiresMutablePresentModel(t *testing.T) {
	store := newTestStore(t, SessionOptions{})
	schema := testSchema(t)
	fields := []FieldDescriptor{{Name: "id"}, {Name: "username"}}

	m, err := store.load(schema, false, fields, []string{"1", "Irakliy"})
	require.NoError(t, err)

	err = store.delete(m)
	assert.True(t, IsModelError(err))

	mutable, err := store.load(schema, true, fields, []string{"2", "Yason"})
	require.NoError(t, err)
	require.NoError(t, store.delete(mutable))
	assert.True(t, mutable.IsDeleted())
}

func TestStoreSyncQueriesIsEmptyWhenNothingChanged(t *testing.T) {
	store := newTestStore(t, SessionOptions{})
	schema := testSchema(t)
	fields := []FieldDescriptor{{Name: "id"}, {Name: "username"}}

	_, err := store.load(schema, true, fields, []string{"1", "Irakliy"})
	require.NoError(t, err)

	queries, affected, err := store.syncQueries(time.Now())
	require.NoError(t, err)
	assert.Empty(t, queries)
	assert.Empty(t, affected)
}
