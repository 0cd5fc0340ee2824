package tally

import (
	"context"
	"fmt"
)

// Engine turns a query description into rows.
// *SQLEngine and *SoyEngine implement it; tests substitute scripted engines.
type Engine interface {
	Rows(ctx context.Context, q Query) (Rows, error)
}

// Rows iterates over query results. *sqlx.Rows satisfies it.
type Rows interface {
	Next() bool
	StructScan(dest any) error
	Err() error
	Close() error
}

// Stream is a push-based, single-use sequence of decoded rows.
// Hooks are registered before Prepare and invoked from one goroutine in order:
// Drain for every row, then exactly one of Catch or Finally.
type Stream[R any] struct {
	engine  Engine
	query   Query
	onValue func(R)
	onError func(error)
	onDone  func()
}

func newStream[R any](engine Engine, q Query) *Stream[R] {
	return &Stream[R]{engine: engine, query: q}
}

// Drain registers the per-row hook.
func (s *Stream[R]) Drain(fn func(R)) *Stream[R] {
	s.onValue = fn
	return s
}

// Catch registers the error hook. It fires instead of Finally.
func (s *Stream[R]) Catch(fn func(error)) *Stream[R] {
	s.onError = fn
	return s
}

// Finally registers the completion hook. It fires only when the stream ends without error.
func (s *Stream[R]) Finally(fn func()) *Stream[R] {
	s.onDone = fn
	return s
}

// Prepare issues the query and drains it in the background.
// The returned future resolves once the query has been issued, and fails if issuing failed.
func (s *Stream[R]) Prepare(ctx context.Context) *Future[struct{}] {
	issued := NewPromise[struct{}]()
	go s.run(ctx, issued)
	return issued.Future()
}

func (s *Stream[R]) run(ctx context.Context, issued Promise[struct{}]) {
	rows, err := s.engine.Rows(ctx, s.query)
	if err != nil {
		s.fail(err)
		issued.Fail(err)
		return
	}
	defer rows.Close()
	issued.Succeed(struct{}{})

	for rows.Next() {
		var row R
		if err := rows.StructScan(&row); err != nil {
			s.fail(fmt.Errorf("%w: %w", ErrDecode, err))
			return
		}
		if s.onValue != nil {
			s.onValue(row)
		}
	}
	if err := rows.Err(); err != nil {
		s.fail(err)
		return
	}
	if s.onDone != nil {
		s.onDone()
	}
}

func (s *Stream[R]) fail(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
