package pgdao

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
)

// command aggregates the queries that will be transmitted together in a
// single protocol round-trip (spec §3/§4.2).
type command struct {
	id            int64
	text          strings.Builder
	values        []any
	parameterized bool
	queries       []Query
	sinks         []resultSink
	cursor        int
	submittedAt   time.Time
	canceled      error
}

func newCommand(id int64) *command {
	return &command{id: id}
}

// add appends one query + its sink to the command, normalizing query text
// per spec §4.2. Invariant: a command holds either one parameterized query
// or any number of non-parameterized queries, never both.
func (c *command) add(q Query, sink resultSink) error {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return newQueryError("add", errors.New("query text must be a non-empty string"))
	}
	if !strings.HasSuffix(text, ";") {
		text += ";"
	}

	if q.isParameterized() {
		if len(c.queries) > 0 {
			return newQueryError("add", errors.New("a parameterized query must be the sole query in its command"))
		}
		c.parameterized = true
		c.values = q.Values
	} else if c.parameterized {
		return newQueryError("add", errors.New("cannot append a non-parameterized query to a parameterized command"))
	}

	c.text.WriteString(text)
	c.queries = append(c.queries, q)
	c.sinks = append(c.sinks, sink)
	return nil
}

func (c *command) empty() bool { return len(c.queries) == 0 }

// abort resolves every sink with err. The session calls it on a command
// whose submit failed and on every command still queued behind that one.
func (c *command) abort(err error) {
	for _, s := range c.sinks {
		s.end(err)
	}
}

// submit drives conn through this command's protocol exchange and
// demultiplexes the resulting messages onto this command's sinks.
func (c *command) submit(conn protoConn, tr Tracer, logMode QueryLogMode) error {
	c.submittedAt = time.Now()

	if c.parameterized {
		if err := conn.Parse(c.text.String()); err != nil {
			conn.MarkBroken()
			return newConnectionError("parse", err)
		}
		if err := conn.Bind(c.values); err != nil {
			conn.MarkBroken()
			return newConnectionError("bind", err)
		}
		if err := conn.DescribePortal(); err != nil {
			conn.MarkBroken()
			return newConnectionError("describe", err)
		}
		if err := conn.Execute(); err != nil {
			conn.MarkBroken()
			return newConnectionError("execute", err)
		}
		if err := conn.Flush(); err != nil {
			conn.MarkBroken()
			return newConnectionError("flush", err)
		}
	} else {
		if err := conn.SimpleQuery(c.text.String()); err != nil {
			conn.MarkBroken()
			return newConnectionError("query", err)
		}
	}

	return c.runMessageLoop(conn, tr, logMode)
}

func (c *command) runMessageLoop(conn protoConn, tr Tracer, logMode QueryLogMode) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			conn.MarkBroken()
			return newConnectionError("receive", err)
		}

		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			if c.cursor >= len(c.sinks) {
				c.canceled = newQueryError("command", errors.New("a query cannot contain multiple statements"))
				continue
			}
			c.sinks[c.cursor].addFields(convertFields(m.Fields))

		case *pgproto3.DataRow:
			if c.canceled != nil || c.cursor >= len(c.sinks) {
				continue
			}
			raw := make([]string, len(m.Values))
			for i, v := range m.Values {
				if v != nil {
					raw[i] = string(v)
				}
			}
			if err := c.sinks[c.cursor].addRow(raw); err != nil {
				c.canceled = domainOrParseError(err)
			}

		case *pgproto3.CommandComplete:
			tag, rows := parseCommandTag(string(m.CommandTag))
			if c.cursor < len(c.sinks) {
				c.sinks[c.cursor].complete(tag, rows)
				c.cursor++
			}
			if c.parameterized {
				if err := conn.Sync(); err != nil {
					conn.MarkBroken()
					return newConnectionError("sync", err)
				}
			}

		case *pgproto3.EmptyQueryResponse:
			if c.parameterized {
				if err := conn.Sync(); err != nil {
					conn.MarkBroken()
					return newConnectionError("sync", err)
				}
			}

		case *pgproto3.ErrorResponse:
			c.canceled = &QueryError{
				daoError: daoError{Op: "query", Err: errors.New(m.Message)},
				Code:     m.Code,
			}
			conn.MarkBroken()
			if c.parameterized {
				if err := conn.Sync(); err != nil {
					return newConnectionError("sync", err)
				}
			}

		case *pgproto3.PortalSuspended, *pgproto3.CopyInResponse, *pgproto3.CopyOutResponse, *pgproto3.CopyData:
			c.canceled = newQueryError("command", fmt.Errorf("unsupported protocol message %T", m))

		case *pgproto3.ReadyForQuery:
			success := c.canceled == nil
			for i, s := range c.sinks {
				s.end(c.canceled)
				if tr != nil {
					emitTrace(tr, c, i, logMode, success)
				}
			}
			return nil

		default:
			// ParseComplete, BindComplete, ParameterDescription, NoData: no
			// action required.
		}
	}
}

func emitTrace(tr Tracer, c *command, i int, logMode QueryLogMode, success bool) {
	q := c.queries[i]
	includeText := logMode == LogAlways || (logMode == LogOnError && !success)
	ev := TraceEvent{
		Source:     "pgdao",
		Name:       q.Name,
		DurationMs: time.Since(c.submittedAt).Milliseconds(),
		Success:    success,
		CommandID:  c.id,
		RowCount:   c.sinks[i].rowCount(),
	}
	if includeText {
		ev.Text = q.Text
	}
	tr.Trace(ev)
}

func convertFields(fs []pgproto3.FieldDescription) []FieldDescriptor {
	out := make([]FieldDescriptor, len(fs))
	for i, f := range fs {
		out[i] = FieldDescriptor{Name: string(f.Name), DataTypeID: uint32(f.DataTypeOID)}
	}
	return out
}

// domainOrParseError keeps an already-typed domain error as-is and wraps
// anything else as a ParseError (spec §7 propagation policy).
func domainOrParseError(err error) error {
	switch err.(type) {
	case *ConnectionError, *SessionError, *QueryError, *ParseError, *ModelError:
		return err
	default:
		return newParseError("addRow", err)
	}
}

var commandTagPattern = regexp.MustCompile(`^([A-Za-z]+)(?: (\d+))?(?: (\d+))?`)

// parseCommandTag extracts the tag name and rows-affected from a
// CommandComplete tag (e.g. "SELECT 3", "INSERT 0 1"): the last numeric
// group is rows-affected if present, else the first, else 0.
func parseCommandTag(s string) (string, int64) {
	m := commandTagPattern.FindStringSubmatch(s)
	if m == nil {
		return s, 0
	}
	tag := m[1]
	var rows int64
	switch {
	case m[3] != "":
		rows, _ = strconv.ParseInt(m[3], 10, 64)
	case m[2] != "":
		rows, _ = strconv.ParseInt(m[2], 10, 64)
	}
	return tag, rows
}
