package tally

import "github.com/zoobzio/capitan"

// Event keys for structured logging.
var (
	KeyEntity   = capitan.NewStringKey("entity")
	KeyMethod   = capitan.NewStringKey("method")
	KeyField    = capitan.NewStringKey("field")
	KeyAction   = capitan.NewStringKey("action")
	KeyError    = capitan.NewStringKey("error")
	KeyDuration = capitan.NewDurationKey("duration")
)

// Signals emitted by tally.
var (
	BuilderCreated    = capitan.NewSignal("tally.builder.created", "Query builder created")
	AggregateIssued   = capitan.NewSignal("tally.aggregate.issued", "Aggregate query issued")
	AggregateResolved = capitan.NewSignal("tally.aggregate.resolved", "Aggregate resolved with a value")
	AggregateFailed   = capitan.NewSignal("tally.aggregate.failed", "Aggregate failed")
	AggregateNoResult = capitan.NewSignal("tally.aggregate.no_result", "Driver closed without an aggregate result")
)
