package tally

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/google/uuid"
)

// ID is the set of types usable as a model's unique identifier.
// Every member is comparable, encodes to structured form, and is string-parseable.
type ID interface {
	~int64 | ~string | uuid.UUID
}

// StringDecodable is the set of types that can be parsed from a textual
// representation, such as a route parameter. It is independent of ID.
type StringDecodable interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~bool | ~string | uuid.UUID
}

var uuidType = reflect.TypeOf(uuid.UUID{})

// ParseString decodes s into T. It reports false on malformed input and never panics.
func ParseString[T StringDecodable](s string) (T, bool) {
	var out T
	v := reflect.ValueOf(&out).Elem()

	if v.Type() == uuidType {
		id, err := uuid.Parse(s)
		if err != nil {
			return out, false
		}
		v.Set(reflect.ValueOf(id))
		return out, true
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return out, false
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return out, false
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return out, false
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return out, false
		}
		v.SetBool(b)
	case reflect.String:
		v.SetString(s)
	default:
		return out, false
	}
	return out, true
}

// ParseID decodes a textual identifier.
func ParseID[T ID](s string) (T, bool) {
	return ParseString[T](s)
}

// FormatID renders an identifier in the form ParseID accepts.
func FormatID[T ID](id T) string {
	switch v := any(id).(type) {
	case uuid.UUID:
		return v.String()
	}
	rv := reflect.ValueOf(id)
	if rv.Kind() == reflect.Int64 {
		return strconv.FormatInt(rv.Int(), 10)
	}
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return fmt.Sprint(id)
}
