// Package tally computes scalar aggregates over a query's result set.
//
// A QueryBuilder accumulates filters and aggregate directives on a mutable Query.
// Each aggregate call issues the query through an Engine, drains the resulting row
// stream, and resolves a single-result Future with exactly one decoded value or error.
//
// # Quick Start
//
// Define your model with db tags:
//
//	type Order struct {
//	    ID     int64   `db:"id" type:"bigint" constraints:"primarykey"`
//	    Status string  `db:"status" type:"text"`
//	    Total  float64 `db:"total" type:"numeric"`
//	}
//
// Create a builder over an engine:
//
//	engine := tally.NewSQLEngine(db, "postgres")
//	qb, err := tally.New[Order](engine, "orders")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Filter and aggregate:
//
//	tally.Where(qb, tally.Path(func(o *Order) *string { return &o.Status }), tally.OpEq, "paid")
//	total, err := tally.Sum(qb, tally.Path(func(o *Order) *float64 { return &o.Total })).Wait(ctx)
//
// Every aggregate call forces the query's action to read and appends its directive.
// Directives accumulate on the same builder; use a fresh builder per aggregate.
package tally

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx/reflectx"
	"github.com/zoobzio/capitan"
)

// QueryBuilder builds and runs aggregate queries for model M.
// A builder is owned by one caller at a time and is not safe for concurrent use.
type QueryBuilder[M any] struct {
	engine Engine
	mapper *reflectx.Mapper
	query  *Query
	ctx    context.Context
	err    error
}

// New creates a QueryBuilder for model M over the given engine and entity (table) name.
func New[M any](engine Engine, entity string) (*QueryBuilder[M], error) {
	if engine == nil {
		return nil, errors.New("tally: engine is required")
	}
	if entity == "" {
		return nil, errors.New("tally: entity name is required")
	}
	if t := reflect.TypeOf((*M)(nil)).Elem(); t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tally: model must be a struct, got %s", t.Kind())
	}

	qb := &QueryBuilder[M]{
		engine: engine,
		mapper: defaultMapper(),
		query: &Query{
			Action: ActionRead,
			Entity: entity,
		},
	}

	capitan.Emit(context.Background(), BuilderCreated,
		KeyEntity.Field(entity))

	return qb, nil
}

// Entity returns the entity name this builder targets.
func (qb *QueryBuilder[M]) Entity() string {
	return qb.query.Entity
}

// SetMapper replaces the field mapper used to resolve Path and Column references.
func (qb *QueryBuilder[M]) SetMapper(m *reflectx.Mapper) {
	if m != nil {
		qb.mapper = m
	}
}

// SetAction overrides the query's action.
// Aggregate calls force it back to ActionRead.
func (qb *QueryBuilder[M]) SetAction(a Action) *QueryBuilder[M] {
	qb.query.Action = a
	return qb
}

// WithContext sets the context queries are issued with. The context reaches the
// engine; the builder itself never cancels a running stream.
func (qb *QueryBuilder[M]) WithContext(ctx context.Context) *QueryBuilder[M] {
	qb.ctx = ctx
	return qb
}

func (qb *QueryBuilder[M]) issueContext() context.Context {
	if qb.ctx == nil {
		return context.Background()
	}
	return qb.ctx
}

// Query returns a snapshot of the query as it currently stands.
func (qb *QueryBuilder[M]) Query() Query {
	return qb.query.clone()
}

// Err returns the first error recorded while building, if any.
func (qb *QueryBuilder[M]) Err() error {
	return qb.err
}

func (qb *QueryBuilder[M]) record(err error) {
	if qb.err == nil {
		qb.err = err
	}
}

// Where appends a filter on field. Resolution and operator errors are recorded on
// the builder and surface through the next aggregate's future.
// IN filters go through WhereIn.
func Where[M any, T any](qb *QueryBuilder[M], field Field[M, T], op Operator, value T) *QueryBuilder[M] {
	if !op.Valid() || op == OpIn {
		qb.record(fmt.Errorf("%w: %q", ErrInvalidOperator, op))
		return qb
	}
	return qb.filter(field.resolve, op, value)
}

// WhereIn appends an IN filter matching any of values.
func WhereIn[M any, T any](qb *QueryBuilder[M], field Field[M, T], values []T) *QueryBuilder[M] {
	if len(values) == 0 {
		qb.record(fmt.Errorf("%w: IN needs at least one value", ErrInvalidOperator))
		return qb
	}
	return qb.filter(field.resolve, OpIn, values)
}

func (qb *QueryBuilder[M]) filter(resolve func(string, *reflectx.Mapper) (QueryField, bool), op Operator, value any) *QueryBuilder[M] {
	qf, ok := resolve(qb.query.Entity, qb.mapper)
	if !ok {
		qb.record(fmt.Errorf("%w on %s", ErrUnresolvedField, qb.query.Entity))
		return qb
	}
	qb.query.Filters = append(qb.query.Filters, Filter{
		Field:    qf,
		Operator: op,
		Value:    value,
	})
	return qb
}

// WhereString decodes raw into the field's type before filtering on it.
// It is meant for values taken from route or path components.
func WhereString[M any, T StringDecodable](qb *QueryBuilder[M], field Field[M, T], op Operator, raw string) *QueryBuilder[M] {
	v, ok := ParseString[T](raw)
	if !ok {
		qb.record(fmt.Errorf("%w: %q is not a valid %s", ErrParse, raw, reflect.TypeOf(v)))
		return qb
	}
	return Where(qb, field, op, v)
}
