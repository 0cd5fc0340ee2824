package tally

import "errors"

// ErrNoResult is returned when a row stream closes cleanly without producing a value.
// A well-formed scalar aggregate always yields one row, so this signals a driver
// contract violation rather than an empty result.
var ErrNoResult = errors.New("tally: the driver closed successfully without a result")

// ErrDecode wraps failures to interpret a row as the expected aggregate shape.
var ErrDecode = errors.New("tally: decode error")

// ErrUnresolvedField is returned when a field reference does not map to a column.
var ErrUnresolvedField = errors.New("tally: unresolved field")

// ErrParse is returned when a textual value cannot be decoded into the field's type.
var ErrParse = errors.New("tally: parse error")

// ErrInvalidOperator is returned for filter operators outside the supported set.
var ErrInvalidOperator = errors.New("tally: invalid operator")

// ErrMultipleAggregates is returned by engines that render a single scalar column
// when a query has accumulated more than one pending aggregate.
var ErrMultipleAggregates = errors.New("tally: multiple pending aggregates")

// ErrUnsupported is returned when an engine cannot express a query.
var ErrUnsupported = errors.New("tally: unsupported by engine")
