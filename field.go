package tally

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx/reflectx"
)

// Field is a strongly-typed reference to a property of model M holding values of type T.
// Build one with Path or Column.
type Field[M any, T any] struct {
	accessor func(*M) *T
	column   string
}

// Path references a field through an accessor:
//
//	tally.Path(func(u *User) *float64 { return &u.Balance })
//
// The accessor is called once on a zero M and must return the address of one of its fields.
func Path[M any, T any](accessor func(*M) *T) Field[M, T] {
	return Field[M, T]{accessor: accessor}
}

// Column references a field by its column name.
func Column[M any, T any](name string) Field[M, T] {
	return Field[M, T]{column: name}
}

func (f Field[M, T]) resolve(entity string, mapper *reflectx.Mapper) (QueryField, bool) {
	t := reflect.TypeOf((*M)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return QueryField{}, false
	}
	if f.accessor != nil {
		return f.resolveAccessor(entity, mapper)
	}
	if f.column == "" {
		return QueryField{}, false
	}
	fi := mapper.TypeMap(t).GetByPath(f.column)
	if fi == nil {
		return QueryField{}, false
	}
	return QueryField{Entity: entity, Name: fi.Path}, true
}

func (f Field[M, T]) resolveAccessor(entity string, mapper *reflectx.Mapper) (QueryField, bool) {
	var model M
	root := reflect.ValueOf(&model).Elem()
	target, ok := callAccessor(f.accessor, &model)
	if !ok || target == nil {
		return QueryField{}, false
	}
	addr := reflect.ValueOf(target).Pointer()
	want := reflect.TypeOf((*T)(nil)).Elem()

	// A struct's first field shares its address, so match on type as well.
	for _, fi := range mapper.TypeMap(root.Type()).Index {
		if fi == nil || fi.Name == "" {
			continue
		}
		fv, reachable := fieldOnZero(root, fi.Index)
		if !reachable || !fv.CanAddr() || fv.Type() != want {
			continue
		}
		if fv.Addr().Pointer() == addr {
			return QueryField{Entity: entity, Name: fi.Path}, true
		}
	}
	return QueryField{}, false
}

// callAccessor runs accessor on the zero model. Accessors that dereference a nil
// pointer on the way to their field report false.
func callAccessor[M any, T any](accessor func(*M) *T, model *M) (target *T, ok bool) {
	defer func() {
		if recover() != nil {
			target, ok = nil, false
		}
	}()
	return accessor(model), true
}

// fieldOnZero follows index from v and stops at the first nil pointer, since
// fields behind it have no address on a zero model.
func fieldOnZero(v reflect.Value, index []int) (reflect.Value, bool) {
	for _, i := range index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, false
		}
		v = v.Field(i)
	}
	return v, true
}

// defaultMapper maps the db tag, falling back to the lowercased field name like sqlx does.
func defaultMapper() *reflectx.Mapper {
	return reflectx.NewMapperFunc("db", strings.ToLower)
}

// aggregateField locates the AggregateColumn field inside dest, a pointer to a struct.
func aggregateField(mapper *reflectx.Mapper, dest any) (reflect.Value, error) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("tally: scan destination must be a non-nil struct pointer, got %T", dest)
	}
	fi := mapper.TypeMap(v.Elem().Type()).GetByPath(AggregateColumn)
	if fi == nil {
		return reflect.Value{}, fmt.Errorf("tally: %T has no %q column", dest, AggregateColumn)
	}
	return reflectx.FieldByIndexes(v.Elem(), fi.Index), nil
}
