// Package testing provides test utilities and helpers for tally users.
// These utilities help users test their own tally-based applications
// without a database.
package testing

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jmoiron/sqlx/reflectx"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/tally"
)

// Script describes what a StaticEngine returns for one Rows call.
type Script struct {
	// Values are emitted in order as aggregate rows.
	Values []any
	// OpenErr fails the Rows call itself.
	OpenErr error
	// ErrAfter, when set, is reported by Err once all Values were emitted.
	ErrAfter error
}

// StaticEngine is a scripted tally.Engine. Each Rows call consumes the next
// script; once scripts run out the last one is repeated.
// Thread-safe for concurrent use.
type StaticEngine struct {
	scripts []Script
	capture *QueryCapture
	calls   int
	mu      sync.Mutex
}

// NewStaticEngine creates an engine that plays back the given scripts.
func NewStaticEngine(scripts ...Script) *StaticEngine {
	return &StaticEngine{
		scripts: scripts,
		capture: NewQueryCapture(),
	}
}

// Returning is shorthand for an engine emitting the given values once per call.
func Returning(values ...any) *StaticEngine {
	return NewStaticEngine(Script{Values: values})
}

// Failing is shorthand for an engine whose stream fails with err before any row.
func Failing(err error) *StaticEngine {
	return NewStaticEngine(Script{ErrAfter: err})
}

// Captured returns the queries this engine has received.
func (e *StaticEngine) Captured() *QueryCapture {
	return e.capture
}

// Rows implements tally.Engine.
func (e *StaticEngine) Rows(_ context.Context, q tally.Query) (tally.Rows, error) {
	e.mu.Lock()
	var s Script
	if len(e.scripts) > 0 {
		i := e.calls
		if i >= len(e.scripts) {
			i = len(e.scripts) - 1
		}
		s = e.scripts[i]
	}
	e.calls++
	e.mu.Unlock()

	e.capture.CaptureQuery(q)

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &staticRows{
		values: s.Values,
		err:    s.ErrAfter,
		pos:    -1,
		mapper: reflectx.NewMapper("db"),
	}, nil
}

type staticRows struct {
	values []any
	err    error
	pos    int
	mapper *reflectx.Mapper
	closed bool
}

func (r *staticRows) Next() bool {
	if r.closed || r.pos+1 >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *staticRows) StructScan(dest any) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("StructScan needs a non-nil struct pointer, got %T", dest)
	}
	fi := r.mapper.TypeMap(v.Elem().Type()).GetByPath(tally.AggregateColumn)
	if fi == nil {
		return fmt.Errorf("%T has no %q column", dest, tally.AggregateColumn)
	}
	field := reflectx.FieldByIndexes(v.Elem(), fi.Index)
	src := reflect.ValueOf(r.values[r.pos])
	if !src.IsValid() {
		return fmt.Errorf("converting NULL to %s is unsupported", field.Type())
	}
	if !src.Type().ConvertibleTo(field.Type()) {
		return fmt.Errorf("cannot convert %s into %s", src.Type(), field.Type())
	}
	field.Set(src.Convert(field.Type()))
	return nil
}

func (r *staticRows) Err() error {
	return r.err
}

func (r *staticRows) Close() error {
	r.closed = true
	return nil
}

// CapturedQuery represents a query snapshot received by an engine.
type CapturedQuery struct {
	Query     tally.Query
	Timestamp time.Time
}

// QueryCapture captures queries for testing and verification.
// Thread-safe for concurrent capture.
type QueryCapture struct {
	queries []CapturedQuery
	mu      sync.Mutex
}

// NewQueryCapture creates a new QueryCapture instance.
func NewQueryCapture() *QueryCapture {
	return &QueryCapture{
		queries: make([]CapturedQuery, 0),
	}
}

// CaptureQuery adds a query to the capture.
func (qc *QueryCapture) CaptureQuery(q tally.Query) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.queries = append(qc.queries, CapturedQuery{
		Query:     q,
		Timestamp: time.Now(),
	})
}

// Queries returns a copy of all captured queries.
func (qc *QueryCapture) Queries() []CapturedQuery {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	result := make([]CapturedQuery, len(qc.queries))
	copy(result, qc.queries)
	return result
}

// Count returns the number of captured queries.
func (qc *QueryCapture) Count() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return len(qc.queries)
}

// Reset clears all captured queries.
func (qc *QueryCapture) Reset() {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.queries = qc.queries[:0]
}

// Last returns the most recently captured query, or nil if none.
func (qc *QueryCapture) Last() *CapturedQuery {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if len(qc.queries) == 0 {
		return nil
	}
	q := qc.queries[len(qc.queries)-1]
	return &q
}

// ByEntity returns all captured queries for a specific entity.
func (qc *QueryCapture) ByEntity(entity string) []CapturedQuery {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	result := make([]CapturedQuery, 0)
	for _, q := range qc.queries {
		if q.Query.Entity == entity {
			result = append(result, q)
		}
	}
	return result
}

// AggregateEvent represents a captured aggregate lifecycle event.
type AggregateEvent struct {
	Signal    string
	Entity    string
	Method    string
	Field     string
	Error     string
	Timestamp time.Time
}

// AggregateEventCapture captures aggregate lifecycle events.
// Thread-safe for concurrent capture.
type AggregateEventCapture struct {
	events []AggregateEvent
	mu     sync.Mutex
}

// NewAggregateEventCapture creates a new AggregateEventCapture instance.
func NewAggregateEventCapture() *AggregateEventCapture {
	return &AggregateEventCapture{
		events: make([]AggregateEvent, 0),
	}
}

// Handler returns an EventCallback that captures aggregate events.
func (ec *AggregateEventCapture) Handler() capitan.EventCallback {
	return func(_ context.Context, e *capitan.Event) {
		var name string
		switch e.Signal() {
		case tally.AggregateIssued:
			name = "issued"
		case tally.AggregateResolved:
			name = "resolved"
		case tally.AggregateFailed:
			name = "failed"
		case tally.AggregateNoResult:
			name = "no_result"
		default:
			return
		}

		entity, _ := tally.KeyEntity.From(e)
		method, _ := tally.KeyMethod.From(e)
		field, _ := tally.KeyField.From(e)
		errMsg, _ := tally.KeyError.From(e)

		ec.mu.Lock()
		defer ec.mu.Unlock()
		ec.events = append(ec.events, AggregateEvent{
			Signal:    name,
			Entity:    entity,
			Method:    method,
			Field:     field,
			Error:     errMsg,
			Timestamp: time.Now(),
		})
	}
}

// Events returns a copy of all captured events.
func (ec *AggregateEventCapture) Events() []AggregateEvent {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	result := make([]AggregateEvent, len(ec.events))
	copy(result, ec.events)
	return result
}

// BySignal returns captured events with the given short signal name
// ("issued", "resolved", "failed", "no_result").
func (ec *AggregateEventCapture) BySignal(name string) []AggregateEvent {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	result := make([]AggregateEvent, 0)
	for _, e := range ec.events {
		if e.Signal == name {
			result = append(result, e)
		}
	}
	return result
}

// Count returns the number of captured events.
func (ec *AggregateEventCapture) Count() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.events)
}

// Reset clears all captured events.
func (ec *AggregateEventCapture) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.events = ec.events[:0]
}

// WaitForCount blocks until the capture has at least n events or timeout occurs.
func (ec *AggregateEventCapture) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ec.Count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
