package tally

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// AggregateColumn is the column name engines must give the computed aggregate.
const AggregateColumn = "tally_aggregate"

type methodKind int

const (
	kindCount methodKind = iota
	kindSum
	kindAverage
	kindMin
	kindMax
	kindCustom
)

// AggregateMethod selects the aggregation to compute.
// The zero value is MethodCount.
type AggregateMethod struct {
	kind   methodKind
	custom string
}

// Built-in aggregate methods.
var (
	MethodCount   = AggregateMethod{kind: kindCount}
	MethodSum     = AggregateMethod{kind: kindSum}
	MethodAverage = AggregateMethod{kind: kindAverage}
	MethodMin     = AggregateMethod{kind: kindMin}
	MethodMax     = AggregateMethod{kind: kindMax}
)

// Custom returns a driver-specific aggregate method. The name is passed through unvalidated.
func Custom(name string) AggregateMethod {
	return AggregateMethod{kind: kindCustom, custom: name}
}

// IsCustom reports whether m is a driver-specific method.
func (m AggregateMethod) IsCustom() bool {
	return m.kind == kindCustom
}

// Name returns the SQL function name for m. Custom names are returned verbatim.
func (m AggregateMethod) Name() string {
	switch m.kind {
	case kindSum:
		return "SUM"
	case kindAverage:
		return "AVG"
	case kindMin:
		return "MIN"
	case kindMax:
		return "MAX"
	case kindCustom:
		return m.custom
	}
	return "COUNT"
}

func (m AggregateMethod) String() string {
	return m.Name()
}

// QueryAggregate is an aggregate directive appended to a query.
// A nil Field applies the method to the whole row.
type QueryAggregate struct {
	Field  *QueryField
	Method AggregateMethod
}

// aggregateResult is the row shape engines return: one column named AggregateColumn.
type aggregateResult[D any] struct {
	Value D `db:"tally_aggregate"`
}

// Count returns the number of rows matching the query.
func (qb *QueryBuilder[M]) Count() *Future[int64] {
	return Execute[int64](qb, QueryAggregate{Method: MethodCount})
}

// Sum returns the sum of field.
func Sum[M any, T StringDecodable](qb *QueryBuilder[M], field Field[M, T]) *Future[float64] {
	return Aggregate[float64](qb, MethodSum, field)
}

// Average returns the average of field.
func Average[M any, T StringDecodable](qb *QueryBuilder[M], field Field[M, T]) *Future[float64] {
	return Aggregate[float64](qb, MethodAverage, field)
}

// Min returns the minimum of field.
func Min[M any, T StringDecodable](qb *QueryBuilder[M], field Field[M, T]) *Future[float64] {
	return Aggregate[float64](qb, MethodMin, field)
}

// Max returns the maximum of field.
func Max[M any, T StringDecodable](qb *QueryBuilder[M], field Field[M, T]) *Future[float64] {
	return Aggregate[float64](qb, MethodMax, field)
}

// Aggregate applies method to field and decodes the result as D.
func Aggregate[D any, M any, T StringDecodable](qb *QueryBuilder[M], method AggregateMethod, field Field[M, T]) *Future[D] {
	qf, ok := field.resolve(qb.query.Entity, qb.mapper)
	if !ok {
		return Failed[D](ErrUnresolvedField)
	}
	return Execute[D](qb, QueryAggregate{Field: &qf, Method: method})
}

// Execute appends agg to the builder's query, forces a read, and runs it.
// The returned future resolves after the query has been issued and a single result,
// or its absence, has been determined.
func Execute[D any, M any](qb *QueryBuilder[M], agg QueryAggregate) *Future[D] {
	if qb.err != nil {
		return Failed[D](qb.err)
	}

	qb.query.Action = ActionRead
	qb.query.Aggregates = append(qb.query.Aggregates, agg)

	ctx := qb.issueContext()
	c := newCollector[D](qb.query.Entity, agg)

	stream := newStream[aggregateResult[D]](qb.engine, qb.query.clone())
	stream.Drain(func(row aggregateResult[D]) {
		c.value(row.Value)
	}).Catch(func(err error) {
		c.fail(err)
	}).Finally(func() {
		c.complete()
	})

	capitan.Emit(ctx, AggregateIssued,
		KeyEntity.Field(qb.query.Entity),
		KeyMethod.Field(agg.Method.Name()),
		KeyField.Field(c.fieldName()),
		KeyAction.Field(qb.query.Action.String()))

	return Then(stream.Prepare(ctx), func(struct{}) *Future[D] {
		return c.promise.Future()
	})
}

type collectorState int

const (
	statePending collectorState = iota
	stateValued
	stateDone
)

// collector folds stream events into one promise resolution.
// Hooks arrive sequentially from the stream goroutine.
type collector[D any] struct {
	promise Promise[D]
	state   collectorState
	result  D
	entity  string
	agg     QueryAggregate
	start   time.Time
}

func newCollector[D any](entity string, agg QueryAggregate) *collector[D] {
	return &collector[D]{
		promise: NewPromise[D](),
		entity:  entity,
		agg:     agg,
		start:   time.Now(),
	}
}

func (c *collector[D]) value(v D) {
	if c.state == stateDone {
		return
	}
	c.result = v
	c.state = stateValued
}

func (c *collector[D]) fail(err error) {
	if c.state == stateDone {
		return
	}
	c.state = stateDone
	c.promise.Fail(err)
	capitan.Emit(context.Background(), AggregateFailed,
		KeyEntity.Field(c.entity),
		KeyMethod.Field(c.agg.Method.Name()),
		KeyField.Field(c.fieldName()),
		KeyError.Field(err.Error()),
		KeyDuration.Field(time.Since(c.start)))
}

func (c *collector[D]) complete() {
	switch c.state {
	case stateValued:
		c.state = stateDone
		c.promise.Succeed(c.result)
		capitan.Emit(context.Background(), AggregateResolved,
			KeyEntity.Field(c.entity),
			KeyMethod.Field(c.agg.Method.Name()),
			KeyField.Field(c.fieldName()),
			KeyDuration.Field(time.Since(c.start)))
	case statePending:
		c.state = stateDone
		c.promise.Fail(ErrNoResult)
		capitan.Emit(context.Background(), AggregateNoResult,
			KeyEntity.Field(c.entity),
			KeyMethod.Field(c.agg.Method.Name()),
			KeyField.Field(c.fieldName()),
			KeyDuration.Field(time.Since(c.start)))
	}
}

func (c *collector[D]) fieldName() string {
	if c.agg.Field == nil {
		return "*"
	}
	return c.agg.Field.Name
}
