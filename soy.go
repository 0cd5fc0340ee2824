package tally

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/zoobzio/astql"
	"github.com/zoobzio/soy"
)

// SoyEngine runs the built-in aggregate methods through soy's aggregate builders.
// Custom methods and IN filters are not expressible and fail with ErrUnsupported.
type SoyEngine[M any] struct {
	soy    *soy.Soy[M]
	mapper *reflectx.Mapper
}

// NewSoyEngine creates a SoyEngine for model M with the given database connection, table name, and renderer.
//
// The db parameter accepts sqlx.ExtContext, which is satisfied by both *sqlx.DB and *sqlx.Tx.
func NewSoyEngine[M any](db sqlx.ExtContext, tableName string, renderer astql.Renderer) (*SoyEngine[M], error) {
	s, err := soy.New[M](db, tableName, renderer)
	if err != nil {
		return nil, fmt.Errorf("tally: failed to create soy instance: %w", err)
	}
	return &SoyEngine[M]{
		soy:    s,
		mapper: defaultMapper(),
	}, nil
}

// Soy returns the underlying soy instance for advanced usage.
func (e *SoyEngine[M]) Soy() *soy.Soy[M] {
	return e.soy
}

// Render renders q to SQL for inspection or debugging.
func (e *SoyEngine[M]) Render(q Query) (string, error) {
	agg, _, err := e.build(q)
	if err != nil {
		return "", err
	}
	result, err := agg.Render()
	if err != nil {
		return "", err
	}
	return result.SQL, nil
}

// Rows executes q and yields its scalar result as a single row.
func (e *SoyEngine[M]) Rows(ctx context.Context, q Query) (Rows, error) {
	agg, params, err := e.build(q)
	if err != nil {
		return nil, err
	}
	v, err := agg.Exec(ctx, params)
	if err != nil {
		return nil, err
	}
	return &scalarRows{value: v, mapper: e.mapper}, nil
}

func (e *SoyEngine[M]) build(q Query) (*soy.Aggregate[M], map[string]any, error) {
	if q.Action != ActionRead {
		return nil, nil, fmt.Errorf("%w: %s action", ErrUnsupported, q.Action)
	}
	if q.Entity != e.soy.TableName() {
		return nil, nil, fmt.Errorf("%w: entity %q, engine table %q", ErrUnsupported, q.Entity, e.soy.TableName())
	}
	switch len(q.Aggregates) {
	case 0:
		return nil, nil, fmt.Errorf("%w: no aggregate", ErrUnsupported)
	case 1:
	default:
		return nil, nil, fmt.Errorf("%w: %d", ErrMultipleAggregates, len(q.Aggregates))
	}
	a := q.Aggregates[0]

	field := ""
	if a.Field != nil {
		field = a.Field.Name
	}

	var agg *soy.Aggregate[M]
	switch a.Method.kind {
	case kindCount:
		agg = e.soy.Count()
	case kindSum:
		agg = e.soy.Sum(field)
	case kindAverage:
		agg = e.soy.Avg(field)
	case kindMin:
		agg = e.soy.Min(field)
	case kindMax:
		agg = e.soy.Max(field)
	default:
		return nil, nil, fmt.Errorf("%w: custom method %q", ErrUnsupported, a.Method.Name())
	}

	params := make(map[string]any, len(q.Filters))
	for i, f := range q.Filters {
		if f.Operator == OpIn || !f.Operator.Valid() {
			return nil, nil, fmt.Errorf("%w: operator %q", ErrUnsupported, f.Operator)
		}
		param := "p" + strconv.Itoa(i)
		agg = agg.Where(f.Field.Name, string(f.Operator), param)
		params[param] = f.Value
	}
	return agg, params, nil
}

// scalarRows presents one float64 as a single-row result.
type scalarRows struct {
	value  float64
	mapper *reflectx.Mapper
	read   bool
	err    error
}

func (r *scalarRows) Next() bool {
	if r.read {
		return false
	}
	r.read = true
	return true
}

func (r *scalarRows) StructScan(dest any) error {
	field, err := aggregateField(r.mapper, dest)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Ptr {
		field.Set(reflect.New(field.Type().Elem()))
		field = field.Elem()
	}
	v := r.value
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if math.Trunc(v) != v || v < math.MinInt64 || v >= math.MaxInt64 || field.OverflowInt(int64(v)) {
			return fmt.Errorf("tally: %v does not fit %s", v, field.Type())
		}
		field.SetInt(int64(v))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if math.Trunc(v) != v || v < 0 || v >= math.MaxUint64 || field.OverflowUint(uint64(v)) {
			return fmt.Errorf("tally: %v does not fit %s", v, field.Type())
		}
		field.SetUint(uint64(v))
		return nil
	case reflect.Float32:
		if field.OverflowFloat(v) {
			return fmt.Errorf("tally: %v does not fit %s", v, field.Type())
		}
		field.SetFloat(v)
		return nil
	case reflect.Float64:
		field.SetFloat(v)
		return nil
	}
	return fmt.Errorf("tally: cannot convert float64 into %s", field.Type())
}

func (r *scalarRows) Err() error   { return r.err }
func (r *scalarRows) Close() error { return nil }
