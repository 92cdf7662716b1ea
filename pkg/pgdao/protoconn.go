package pgdao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// protoConn is the minimal capability set pgdao requires from the
// underlying protocol library (spec §6): simple query mode, the extended
// protocol staging calls, and a raw backend-message stream. Any conforming
// transport can plug in; pgxConn below is the production implementation
// over *pgx.Conn.
type protoConn interface {
	SimpleQuery(text string) error
	Parse(text string) error
	Bind(values []any) error
	DescribePortal() error
	Execute() error
	Flush() error
	Sync() error
	Receive() (pgproto3.BackendMessage, error)
	Close(ctx context.Context) error
	Broken() bool
	MarkBroken()
}

// pgxConn drives the extended protocol directly through pgconn's frontend
// escape hatch, matching spec.md's explicit Parse/Bind/Describe/Execute/
// Flush/Sync sequence rather than going through pgx's own higher-level
// Query/Exec, which would demultiplex rows before pgdao's own command
// pipeline gets a chance to.
type pgxConn struct {
	conn   *pgx.Conn
	pg     *pgconn.PgConn
	broken bool
}

func dialConn(ctx context.Context, settings ConnectionSettings) (*pgxConn, error) {
	cfg, err := pgx.ParseConfig(dsn(settings))
	if err != nil {
		return nil, newConnectionError("dial", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, newConnectionError("dial", err)
	}
	return &pgxConn{conn: conn, pg: conn.PgConn()}, nil
}

func dsn(s ConnectionSettings) string {
	mode := "disable"
	if s.TLS {
		mode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", s.User, s.Password, s.Host, s.Port, s.Database, mode)
}

func (c *pgxConn) frontend() *pgproto3.Frontend { return c.pg.Frontend() }

func (c *pgxConn) SimpleQuery(text string) error {
	c.frontend().Send(&pgproto3.Query{String: text})
	return c.frontend().Flush()
}

func (c *pgxConn) Parse(text string) error {
	c.frontend().Send(&pgproto3.Parse{Query: text})
	return nil
}

func (c *pgxConn) Bind(values []any) error {
	params := make([][]byte, len(values))
	for i, v := range values {
		prepared, err := prepareValue(v)
		if err != nil {
			return err
		}
		if prepared == nil {
			params[i] = nil
			continue
		}
		if b, ok := prepared.([]byte); ok {
			params[i] = b
			continue
		}
		params[i] = []byte(fmt.Sprint(prepared))
	}
	c.frontend().Send(&pgproto3.Bind{Parameters: params})
	return nil
}

func (c *pgxConn) DescribePortal() error {
	c.frontend().Send(&pgproto3.Describe{ObjectType: 'P'})
	return nil
}

func (c *pgxConn) Execute() error {
	c.frontend().Send(&pgproto3.Execute{})
	return nil
}

func (c *pgxConn) Flush() error {
	c.frontend().Send(&pgproto3.Flush{})
	return c.frontend().Flush()
}

func (c *pgxConn) Sync() error {
	c.frontend().Send(&pgproto3.Sync{})
	return c.frontend().Flush()
}

func (c *pgxConn) Receive() (pgproto3.BackendMessage, error) {
	return c.frontend().Receive()
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func (c *pgxConn) Broken() bool { return c.broken }
func (c *pgxConn) MarkBroken()  { c.broken = true }
