package pgdao

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errPoolClosed = errors.New("pool is closed")

// pooledClient is an idle client sitting in the pool's FIFO, tagged with
// when it became idle so the reaper can age it out.
type pooledClient struct {
	conn      protoConn
	idleSince time.Time
}

// acquireResult is delivered to a waiter once a client becomes available.
type acquireResult struct {
	client protoConn
	err    error
}

// Pool is the bounded set of live protocol clients described by spec §4.1.
// Grounded on the pre-pgxpool jackc/pgx pool (which also wraps *pgx.Conn
// directly rather than delegating to puddle's generic resource pool) and on
// the waiter-queue/idle-reaper shape of the db-bouncer pool package — see
// SPEC_FULL.md §4.1.
type Pool struct {
	mu       sync.Mutex
	settings ConnectionSettings
	opts     PoolOptions

	idle    []*pooledClient
	waiters []chan acquireResult
	size    int
	closed  bool
	closeCh chan struct{}

	dial func(ctx context.Context, s ConnectionSettings) (protoConn, error)
}

// NewPool builds a Pool against settings, bounded by opts, and starts its
// idle reaper.
func NewPool(settings ConnectionSettings, opts PoolOptions) *Pool {
	p := &Pool{
		settings: settings,
		opts:     opts.withDefaults(),
		closeCh:  make(chan struct{}),
		dial: func(ctx context.Context, s ConnectionSettings) (protoConn, error) {
			return dialConn(ctx, s)
		},
	}
	go p.reapLoop()
	return p
}

// Acquire resolves with an existing idle client if any; otherwise creates a
// new one (up to MaxSize) by connecting; otherwise waits for a release.
func (p *Pool) Acquire(ctx context.Context) (protoConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, newConnectionError("acquire", errPoolClosed)
	}

	if len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		return c.conn, nil
	}

	if p.size < p.opts.MaxSize {
		p.size++
		p.mu.Unlock()
		conn, err := p.dial(ctx, p.settings)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return nil, newConnectionError("acquire", err)
		}
		return conn, nil
	}

	ch := make(chan acquireResult, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, newConnectionError("acquire", res.err)
		}
		return res.client, nil
	case <-ctx.Done():
		return nil, newConnectionError("acquire", ctx.Err())
	case <-p.closeCh:
		return nil, newConnectionError("acquire", errPoolClosed)
	}
}

// Release returns client to the pool, or discards it (dialing a
// replacement for the oldest waiter, if any) when err is non-nil.
func (p *Pool) Release(client protoConn, err error) {
	p.mu.Lock()

	if p.closed {
		p.size--
		p.mu.Unlock()
		go client.Close(context.Background())
		return
	}

	if err != nil || client.Broken() {
		p.size--
		var waiter chan acquireResult
		if len(p.waiters) > 0 {
			waiter = p.waiters[0]
			p.waiters = p.waiters[1:]
		}
		p.mu.Unlock()
		go client.Close(context.Background())
		if waiter != nil {
			p.replaceForWaiter(waiter)
		}
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w <- acquireResult{client: client}
		return
	}

	p.idle = append(p.idle, &pooledClient{conn: client, idleSince: time.Now()})
	p.mu.Unlock()
}

// replaceForWaiter dials a fresh client to satisfy a waiter left stranded
// when the client it would otherwise have received was discarded.
func (p *Pool) replaceForWaiter(waiter chan acquireResult) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		waiter <- acquireResult{err: errPoolClosed}
		return
	}
	p.size++
	p.mu.Unlock()

	conn, err := p.dial(context.Background(), p.settings)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		waiter <- acquireResult{err: err}
		return
	}
	waiter <- acquireResult{client: conn}
}

// State returns an observable snapshot of the pool.
func (p *Pool) State() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolState{Size: p.size, Idle: len(p.idle)}
}

// Close disconnects every idle client and fails subsequent Acquire calls.
// In-flight leases are unaffected; their eventual Release will close the
// client directly since the pool is already closed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	close(p.closeCh)
	for _, w := range waiters {
		w <- acquireResult{err: errPoolClosed}
	}
	for _, c := range idle {
		c.conn.Close(context.Background())
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapOnce()
		case <-p.closeCh:
			return
		}
	}
}

// reapOnce closes idle clients older than IdleTimeout, unless a waiter is
// currently starving — reaping then would only make the wait longer.
func (p *Pool) reapOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) > 0 {
		return
	}
	cutoff := time.Now().Add(-p.opts.IdleTimeout)
	kept := p.idle[:0]
	for _, c := range p.idle {
		if c.idleSince.Before(cutoff) {
			p.size--
			go c.conn.Close(context.Background())
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
}
