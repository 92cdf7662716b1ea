package pgdao

import "context"

// future is a single-resolution, channel-backed promise, the Go analogue of
// the JS promises spec §5 describes sinks as resolving. Grounded on the
// buffered-channel result pattern the corpus uses for its event streams
// (pkg/dcb/channel_eventstore.go).
type future[T any] struct {
	ch chan futureResult[T]
}

type futureResult[T any] struct {
	val T
	err error
}

func newFuture[T any]() *future[T] {
	return &future[T]{ch: make(chan futureResult[T], 1)}
}

func (f *future[T]) resolve(v T) {
	select {
	case f.ch <- futureResult[T]{val: v}:
	default:
	}
}

func (f *future[T]) reject(err error) {
	select {
	case f.ch <- futureResult[T]{err: err}:
	default:
	}
}

func (f *future[T]) await(ctx context.Context) (T, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
