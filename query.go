package tally

import "fmt"

// Action represents the type of database operation a query performs.
type Action int

const (
	ActionCreate Action = iota
	ActionRead
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// QueryField is a resolved reference to a column of an entity.
type QueryField struct {
	Entity string
	Name   string
}

func (f QueryField) String() string {
	if f.Entity == "" {
		return f.Name
	}
	return f.Entity + "." + f.Name
}

// Operator is a filter comparison.
type Operator string

const (
	OpEq   Operator = "="
	OpNeq  Operator = "!="
	OpLt   Operator = "<"
	OpLte  Operator = "<="
	OpGt   Operator = ">"
	OpGte  Operator = ">="
	OpLike Operator = "LIKE"
	OpIn   Operator = "IN"
)

// Valid reports whether the operator is in the supported set.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpLike, OpIn:
		return true
	}
	return false
}

// Filter restricts the rows an aggregate is computed over.
type Filter struct {
	Field    QueryField
	Operator Operator
	Value    any
}

// Query describes a pending database operation.
// Engines read these fields to build native queries.
type Query struct {
	Action     Action
	Entity     string
	Filters    []Filter
	Aggregates []QueryAggregate
}

// clone returns a copy that shares no slices with q.
func (q *Query) clone() Query {
	c := Query{
		Action: q.Action,
		Entity: q.Entity,
	}
	if len(q.Filters) > 0 {
		c.Filters = append([]Filter(nil), q.Filters...)
	}
	if len(q.Aggregates) > 0 {
		c.Aggregates = append([]QueryAggregate(nil), q.Aggregates...)
	}
	return c
}
