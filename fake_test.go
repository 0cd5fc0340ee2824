package tally

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// fakeEngine plays back fixed rows and records the queries it receives.
type fakeEngine struct {
	values  []any
	openErr error
	rowsErr error

	mu      sync.Mutex
	queries []Query
}

func (e *fakeEngine) Rows(_ context.Context, q Query) (Rows, error) {
	e.mu.Lock()
	e.queries = append(e.queries, q)
	e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	return &fakeRows{values: e.values, err: e.rowsErr, pos: -1}, nil
}

func (e *fakeEngine) received() []Query {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Query(nil), e.queries...)
}

type fakeRows struct {
	values []any
	err    error
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.pos+1 >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) StructScan(dest any) error {
	field, err := aggregateField(defaultMapper(), dest)
	if err != nil {
		return err
	}
	src := reflect.ValueOf(r.values[r.pos])
	if !src.IsValid() || !src.Type().ConvertibleTo(field.Type()) {
		return fmt.Errorf("cannot scan %v into %s", r.values[r.pos], field.Type())
	}
	field.Set(src.Convert(field.Type()))
	return nil
}

func (r *fakeRows) Err() error   { return r.err }
func (r *fakeRows) Close() error { r.closed = true; return nil }

// Order is a test model.
type Order struct {
	ID       int64   `db:"id" type:"bigint" constraints:"primarykey"`
	Status   string  `db:"status" type:"text"`
	Total    float64 `db:"total" type:"numeric"`
	Quantity int     `db:"quantity" type:"integer"`
	Note     string  `db:"-"`
}

func orderTotal() Field[Order, float64] {
	return Path(func(o *Order) *float64 { return &o.Total })
}

func newOrders(t interface{ Fatalf(string, ...any) }, e Engine) *QueryBuilder[Order] {
	qb, err := New[Order](e, "orders")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return qb
}
