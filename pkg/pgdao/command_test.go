package pgdao

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn replays a canned sequence of backend messages, for exercising
// command.submit without a live server.
type fakeConn struct {
	messages []pgproto3.BackendMessage
	cursor   int
	broken   bool
}

func (c *fakeConn) SimpleQuery(string) error  { return nil }
func (c *fakeConn) Parse(string) error        { return nil }
func (c *fakeConn) Bind([]any) error          { return nil }
func (c *fakeConn) DescribePortal() error     { return nil }
func (c *fakeConn) Execute() error            { return nil }
func (c *fakeConn) Flush() error              { return nil }
func (c *fakeConn) Sync() error               { return nil }
func (c *fakeConn) Close(context.Context) error { return nil }
func (c *fakeConn) Broken() bool              { return c.broken }
func (c *fakeConn) MarkBroken()               { c.broken = true }

func (c *fakeConn) Receive() (pgproto3.BackendMessage, error) {
	if c.cursor >= len(c.messages) {
		return &pgproto3.ReadyForQuery{}, nil
	}
	m := c.messages[c.cursor]
	c.cursor++
	return m, nil
}

func TestCommandSingleSelectDemultiplexesToSink(t *testing.T) {
	conn := &fakeConn{messages: []pgproto3.BackendMessage{
		&pgproto3.RowDescription{Fields: []pgproto3.FieldDescription{{Name: []byte("id")}, {Name: []byte("username")}}},
		&pgproto3.DataRow{Values: [][]byte{[]byte("1"), []byte("Irakliy")}},
		&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")},
		&pgproto3.ReadyForQuery{},
	}}

	cmd := newCommand(1)
	fut := newFuture[any]()
	sink := newObjectSink(fut, MaskSingle)
	require.NoError(t, cmd.add(Query{Text: "SELECT id, username FROM tmp_users WHERE id = 1", Mask: MaskSingle, Handler: HandlerObject}, sink))

	require.NoError(t, cmd.submit(conn, noopTracer{}, LogNever))

	v, err := fut.await(context.Background())
	require.NoError(t, err)
	row := v.(map[string]any)
	assert.Equal(t, "1", row["id"])
	assert.Equal(t, "Irakliy", row["username"])
}

func TestCommandErrorResponsePropagatesToSink(t *testing.T) {
	conn := &fakeConn{messages: []pgproto3.BackendMessage{
		&pgproto3.ErrorResponse{Message: "relation \"nope\" does not exist", Code: "42P01"},
		&pgproto3.ReadyForQuery{},
	}}

	cmd := newCommand(1)
	fut := newFuture[any]()
	sink := newEmptySink(fut)
	require.NoError(t, cmd.add(Query{Text: "SELECT * FROM nope", Mask: MaskNone}, sink))

	require.NoError(t, cmd.submit(conn, noopTracer{}, LogNever))

	_, err := fut.await(context.Background())
	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "42P01", qe.Code)
}

func TestParseCommandTag(t *testing.T) {
	tag, rows := parseCommandTag("SELECT 3")
	assert.Equal(t, "SELECT", tag)
	assert.Equal(t, int64(3), rows)

	tag, rows = parseCommandTag("INSERT 0 1")
	assert.Equal(t, "INSERT", tag)
	assert.Equal(t, int64(1), rows)

	tag, rows = parseCommandTag("BEGIN")
	assert.Equal(t, "BEGIN", tag)
	assert.Equal(t, int64(0), rows)
}

func TestCommandAddRejectsMixedParameterizedQueries(t *testing.T) {
	cmd := newCommand(1)
	fut1 := newFuture[any]()
	fut2 := newFuture[any]()
	require.NoError(t, cmd.add(Query{Text: "SELECT 1", Values: []any{"x"}, Mask: MaskSingle, Handler: HandlerObject}, newObjectSink(fut1, MaskSingle)))
	err := cmd.add(Query{Text: "SELECT 2", Mask: MaskNone}, newEmptySink(fut2))
	assert.True(t, IsQueryError(err))
}
