package pgdao

import "time"

// ConnectionSettings describes how to reach a single Postgres database.
// Immutable once built; share one ConnectionSettings across a whole Pool.
type ConnectionSettings struct {
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string
	Database string
}

// PoolOptions bounds the shape of a Pool.
type PoolOptions struct {
	// MaxSize is the upper bound on concurrently live clients.
	MaxSize int
	// IdleTimeout is how long a free client may sit idle before the
	// reaper closes it.
	IdleTimeout time.Duration
	// ReapInterval is the wake-up period of the idle reaper.
	ReapInterval time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxSize <= 0 {
		o.MaxSize = 10
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 5 * time.Second
	}
	return o
}

// PoolState is an observable snapshot of a Pool.
type PoolState struct {
	// Size is the number of clients currently alive (idle + leased).
	Size int
	// Idle is the number of clients currently free.
	Idle int
}

// QueryLogMode controls how much of a query's text is attached to its
// trace event.
type QueryLogMode int

const (
	// LogNever never attaches query text to a trace event.
	LogNever QueryLogMode = iota
	// LogOnError attaches query text only when the query failed.
	LogOnError
	// LogAlways always attaches query text.
	LogAlways
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Readonly forbids mutation-producing operations and opens the
	// session's transaction with BEGIN READ ONLY.
	Readonly bool
	// VerifyImmutability, when true, snapshots originals for every loaded
	// entity (not just mutable ones) so an accidental mutation of a
	// non-mutable model is detectable at close.
	VerifyImmutability bool
	// LogQueryText controls trace payload verbosity.
	LogQueryText QueryLogMode
}

// ResultMask describes the shape of a query's expected result.
type ResultMask int

const (
	// MaskNone means the query produces no usable result (no-result query).
	MaskNone ResultMask = iota
	// MaskSingle means only the first row matters.
	MaskSingle
	// MaskList means every row matters, as a slice.
	MaskList
)

// RowHandler selects how DataRow messages are converted into values.
type RowHandler int

const (
	// HandlerNone applies when Mask is MaskNone; no rows are materialized.
	HandlerNone RowHandler = iota
	// HandlerObject turns each row into a map keyed by column name.
	HandlerObject
	// HandlerArray turns each row into a positional slice.
	HandlerArray
	// HandlerCustom invokes a caller-supplied per-row parser.
	HandlerCustom
	// HandlerModel hands rows to the session's store to produce
	// identity-mapped entities of a given Schema.
	HandlerModel
)

// CustomRowParser converts one row's raw field strings into a value, given
// the row's field descriptors.
type CustomRowParser func(raw []string, fields []FieldDescriptor) (any, error)

// FieldDescriptor names one column of a result set, as reported by the
// server's RowDescription message.
type FieldDescriptor struct {
	Name       string
	DataTypeID uint32
}

// Query is the semantic record describing one statement to run.
type Query struct {
	// Text is the SQL text. Non-empty; ";" is appended automatically if
	// missing.
	Text string
	// Name optionally names the query, for tracing.
	Name string
	// Mask is the expected result shape. Zero value (MaskNone) marks a
	// no-result query.
	Mask ResultMask
	// Handler selects how rows become values. Required unless Mask is
	// MaskNone.
	Handler RowHandler
	// Parse is used when Handler is HandlerCustom.
	Parse CustomRowParser
	// Model is used when Handler is HandlerModel.
	Model *Schema
	// Values are positional parameters. A non-nil/non-empty Values makes
	// this a parameterized query, which must run in its own command.
	Values []any
}

func (q Query) isParameterized() bool { return len(q.Values) > 0 }

// TraceEvent is the logger contract: one event per query, delivered on
// terminal resolution.
type TraceEvent struct {
	Source     string
	Name       string
	Text       string // present iff the session's LogQueryText rule says so
	DurationMs int64
	Success    bool
	CommandID  int64
	RowCount   int64
}

// Tracer receives one TraceEvent per query.
type Tracer interface {
	Trace(TraceEvent)
}
