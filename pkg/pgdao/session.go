package pgdao

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type sessionState int32

const (
	sessionOpen sessionState = iota
	sessionClosed
)

// Session is one transactional unit of work over a leased client (spec
// §4.3): every Session owns exactly one protoConn for its whole lifetime
// and wraps it in a single BEGIN/COMMIT-or-ROLLBACK.
//
// Queries enqueued through Execute/FetchOne/.../GetAll do not block the
// caller until the command actually travels the wire: they append to the
// tail of the session's command queue and wake the session's drain
// goroutine, which submits whatever has accumulated at its next receive —
// the Go analogue of spec.md §5's "next cooperative scheduling point".
// Concurrent callers that enqueue non-parameterized queries before the
// drain goroutine wakes are coalesced into the same command (one wire
// round-trip, same as same-tick async calls in the source model); a
// parameterized query always gets a command of its own.
type Session struct {
	pool   *Pool
	conn   protoConn
	store  *Store
	opts   SessionOptions
	tracer Tracer

	mu        sync.Mutex
	queue     []*command
	nextCmdID int64
	state     sessionState

	wake chan struct{}
	done chan struct{}
}

// Open leases a client from pool and opens a transaction against it,
// BEGIN READ ONLY or BEGIN READ WRITE according to opts.Readonly. tracer
// may be nil, in which case events are discarded.
func Open(ctx context.Context, pool *Pool, opts SessionOptions, tracer Tracer) (*Session, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = noopTracer{}
	}

	s := &Session{
		pool:   pool,
		conn:   conn,
		opts:   opts,
		tracer: tracer,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.store = newStore(s)
	go s.drainLoop()

	beginText := "BEGIN READ WRITE"
	if opts.Readonly {
		beginText = "BEGIN READ ONLY"
	}
	if _, err := s.runNoResult(ctx, beginText); err != nil {
		s.teardown(err)
		return nil, err
	}
	return s, nil
}

// Store exposes the session's identity map, for callers that build their
// own queries against qSelectOneModel/qSelectAllModels.
func (s *Session) Store() *Store { return s.store }

func (s *Session) drainLoop() {
	for {
		select {
		case <-s.wake:
			s.drainOnce()
		case <-s.done:
			return
		}
	}
}

// drainOnce submits every command queued so far, one at a time and in
// FIFO order, since the session's single connection can only service one
// command's worth of request/response traffic at once. A submit failure
// marks the connection broken (command.submit's job) and aborts every
// command still waiting behind it with the same error.
func (s *Session) drainOnce() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		cmd := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if cmd.empty() {
			continue
		}
		if err := cmd.submit(s.conn, s.tracer, s.opts.LogQueryText); err != nil {
			cmd.abort(err)
			s.abortQueued(err)
			return
		}
	}
}

func (s *Session) abortQueued(err error) {
	s.mu.Lock()
	rest := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, cmd := range rest {
		cmd.abort(err)
	}
}

// enqueue appends q+sink to the session's command queue and nudges the
// drain goroutine; it never blocks on the wire. A parameterized query
// always starts a new command (it needs its own Parse/Bind/Execute
// cycle); a non-parameterized query joins the queue's tail command if
// that tail is itself non-parameterized, otherwise it opens a new one.
// This keeps every command satisfying command.add's one-parameterized-
// query-or-any-number-of-plain-queries invariant by construction, rather
// than discovering a violation only at add time.
func (s *Session) enqueue(q Query, sink resultSink) error {
	s.mu.Lock()
	if s.state == sessionClosed {
		s.mu.Unlock()
		return newSessionError("execute", errors.New("session is closed"))
	}

	var tail *command
	if n := len(s.queue); n > 0 {
		tail = s.queue[n-1]
	}
	if tail == nil || q.isParameterized() || tail.parameterized {
		s.nextCmdID++
		tail = newCommand(s.nextCmdID)
		s.queue = append(s.queue, tail)
	}
	err := tail.add(q, sink)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) buildSink(q Query) (*future[any], resultSink, error) {
	fut := newFuture[any]()
	switch {
	case q.Mask == MaskNone:
		return fut, newEmptySink(fut), nil
	case q.Handler == HandlerObject:
		return fut, newObjectSink(fut, q.Mask), nil
	case q.Handler == HandlerArray:
		return fut, newArraySink(fut, q.Mask), nil
	case q.Handler == HandlerCustom:
		if q.Parse == nil {
			return nil, nil, newQueryError("execute", errors.New("HandlerCustom requires Parse"))
		}
		return fut, newCustomSink(fut, q.Mask, q.Parse), nil
	case q.Handler == HandlerModel:
		if q.Model == nil {
			return nil, nil, newQueryError("execute", errors.New("HandlerModel requires Model"))
		}
		return fut, newModelSink(fut, q.Mask, s.modelLoader(q.Model, false)), nil
	default:
		return nil, nil, newQueryError("execute", fmt.Errorf("unsupported row handler %d for mask %d", q.Handler, q.Mask))
	}
}

func (s *Session) modelLoader(schema *Schema, mutable bool) modelLoader {
	return func(fields []FieldDescriptor, raw []string) (any, error) {
		m, err := s.store.load(schema, mutable, fields, raw)
		if m == nil {
			return nil, err
		}
		return m, err
	}
}

func (s *Session) runNoResult(ctx context.Context, sql string) (any, error) {
	return s.Execute(ctx, Query{Text: sql, Mask: MaskNone})
}

// Execute runs q and waits for its result, shaped by q.Mask and q.Handler:
// nil for a no-result query or a mask=single query with no row, the first
// row for mask=single, a slice of rows for mask=list.
func (s *Session) Execute(ctx context.Context, q Query) (any, error) {
	fut, sink, err := s.buildSink(q)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(q, sink); err != nil {
		return nil, err
	}
	return fut.await(ctx)
}

// FetchOne runs q (Handler must be HandlerObject, Mask MaskSingle) and
// returns the first row as a map, or nil if there were no rows.
func (s *Session) FetchOne(ctx context.Context, q Query) (map[string]any, error) {
	v, err := s.Execute(ctx, q)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// FetchAll runs q (Handler must be HandlerObject, Mask MaskList) and
// returns every row as a slice of maps.
func (s *Session) FetchAll(ctx context.Context, q Query) ([]map[string]any, error) {
	v, err := s.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	return v.([]map[string]any), nil
}

// GetOne loads at most one Schema-shaped model matching selector (spec
// §4.4). mutable controls both whether the row is locked FOR UPDATE and
// whether the resulting model is eligible for Flush.
func (s *Session) GetOne(ctx context.Context, schema *Schema, selector any, mutable bool) (*Model, error) {
	q, err := qSelectOneModel(schema, selector, mutable)
	if err != nil {
		return nil, err
	}
	fut := newFuture[any]()
	sink := newModelSink(fut, MaskSingle, s.modelLoader(schema, mutable))
	if err := s.enqueue(q, sink); err != nil {
		return nil, err
	}
	v, err := fut.await(ctx)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*Model), nil
}

// GetAll loads every Schema-shaped model matching selector. A nil
// selector fetches the whole table.
func (s *Session) GetAll(ctx context.Context, schema *Schema, selector any, mutable bool) ([]*Model, error) {
	q, err := qSelectAllModels(schema, selector, mutable)
	if err != nil {
		return nil, err
	}
	fut := newFuture[any]()
	sink := newModelSink(fut, MaskList, s.modelLoader(schema, mutable))
	if err := s.enqueue(q, sink); err != nil {
		return nil, err
	}
	v, err := fut.await(ctx)
	if err != nil {
		return nil, err
	}
	rows := v.([]any)
	out := make([]*Model, len(rows))
	for i, r := range rows {
		out[i] = r.(*Model)
	}
	return out, nil
}

// Create stamps a new id via schema.IDGen and registers a mutable|created
// model in the store. The INSERT is deferred to Flush.
func (s *Session) Create(ctx context.Context, schema *Schema, seed map[string]any) (*Model, error) {
	if s.opts.Readonly {
		return nil, newSessionError("create", errors.New("session is read-only"))
	}
	id, err := schema.IDGen.GetNextID(s)
	if err != nil {
		return nil, err
	}
	return s.store.create(schema, seed, id, time.Now()), nil
}

// Delete marks m deleted; the DELETE is deferred to Flush.
func (s *Session) Delete(ctx context.Context, m *Model) error {
	if s.opts.Readonly {
		return newSessionError("delete", errors.New("session is read-only"))
	}
	return s.store.delete(m)
}

// Load registers a non-mutable fixture model directly from seed values,
// bypassing the wire entirely; used by callers (and tests) that already
// hold a known row's values.
func (s *Session) Load(ctx context.Context, schema *Schema, seed map[string]any) (*Model, error) {
	return s.store.loadSeed(schema, seed)
}

// Flush synthesizes and runs the INSERT/UPDATE/DELETE statements for
// every dirty model in the store, fanning them out concurrently
// (mirroring the Promise.all semantics of spec.md §5's batch writes) and
// re-baselining the store once every statement has completed.
func (s *Session) Flush(ctx context.Context) error {
	if s.opts.Readonly {
		return newSessionError("flush", errors.New("cannot flush a read-only session"))
	}
	queries, affected, err := s.store.syncQueries(time.Now())
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			_, err := s.Execute(gctx, q)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.store.rebaseline(affected)
	return nil
}

// Close ends the session's transaction: COMMIT if commit is true, ROLLBACK
// otherwise, then releases the leased client back to the pool (spec §4.3
// close steps 1-3). Committing flushes any dirty models first, same as an
// explicit Flush call — callers aren't required to flush before closing.
// A read-only session with any divergent model — even one that was never
// flushable — is rejected, since that divergence could only mean a caller
// mutated a model it had no business mutating.
func (s *Session) Close(ctx context.Context, commit bool) error {
	s.mu.Lock()
	if s.state == sessionClosed {
		s.mu.Unlock()
		return newSessionError("close", errors.New("session is already closed"))
	}
	s.mu.Unlock()

	if s.opts.Readonly && s.store.hasDirtyModels() {
		s.teardown(nil)
		return newSessionError("close", errors.New("read-only session has mutated models"))
	}

	if commit && !s.opts.Readonly {
		if err := s.Flush(ctx); err != nil {
			s.teardown(err)
			return newSessionError("close", fmt.Errorf("flush before commit: %w", err))
		}
	}

	action := "ROLLBACK"
	if commit {
		action = "COMMIT"
	}
	_, execErr := s.Execute(ctx, Query{Text: action, Mask: MaskNone})
	s.teardown(execErr)
	return execErr
}

// teardown stops the drain goroutine and releases the leased client,
// marking it broken if releaseErr is non-nil or the connection itself
// observed a protocol failure.
func (s *Session) teardown(releaseErr error) {
	s.mu.Lock()
	if s.state == sessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = sessionClosed
	s.mu.Unlock()

	close(s.done)
	s.pool.Release(s.conn, releaseErr)
}
