package tally

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLEngine renders aggregate queries to SQL and runs them through sqlx.
// Identifiers are double-quoted, so only Postgres-compatible drivers and SQLite
// are supported.
type SQLEngine struct {
	db         sqlx.QueryerContext
	driverName string
	bindType   int
}

// NewSQLEngine creates an engine over db. The driver name selects the placeholder
// style, e.g. "postgres" for $1 or "sqlite3" for ?. Other dialects fail at render
// time with ErrUnsupported.
//
// The db parameter accepts sqlx.QueryerContext, which is satisfied by both *sqlx.DB and *sqlx.Tx.
func NewSQLEngine(db sqlx.QueryerContext, driverName string) *SQLEngine {
	return &SQLEngine{
		db:         db,
		driverName: driverName,
		bindType:   sqlx.BindType(driverName),
	}
}

// quotesIdentifiers reports whether the driver's dialect reads "name" as an identifier.
func (e *SQLEngine) quotesIdentifiers() bool {
	switch {
	case e.bindType == sqlx.DOLLAR:
		return true
	case e.driverName == "sqlite3", e.driverName == "sqlite":
		return true
	}
	return false
}

// Render builds the SQL and arguments for a read query with a single aggregate.
func (e *SQLEngine) Render(q Query) (string, []any, error) {
	if !e.quotesIdentifiers() {
		return "", nil, fmt.Errorf("%w: driver %q", ErrUnsupported, e.driverName)
	}
	if q.Action != ActionRead {
		return "", nil, fmt.Errorf("%w: %s action", ErrUnsupported, q.Action)
	}
	switch len(q.Aggregates) {
	case 0:
		return "", nil, fmt.Errorf("%w: no aggregate", ErrUnsupported)
	case 1:
	default:
		return "", nil, fmt.Errorf("%w: %d", ErrMultipleAggregates, len(q.Aggregates))
	}
	agg := q.Aggregates[0]

	target := "*"
	if agg.Field != nil {
		target = quoteField(*agg.Field)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(agg.Method.Name())
	b.WriteString("(")
	b.WriteString(target)
	b.WriteString(") AS ")
	b.WriteString(pq.QuoteIdentifier(AggregateColumn))
	b.WriteString(" FROM ")
	b.WriteString(pq.QuoteIdentifier(q.Entity))

	args := make([]any, 0, len(q.Filters))
	expand := false
	for i, f := range q.Filters {
		if !f.Operator.Valid() {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidOperator, f.Operator)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(quoteField(f.Field))
		b.WriteString(" ")
		b.WriteString(string(f.Operator))
		if f.Operator == OpIn {
			b.WriteString(" (?)")
			expand = true
		} else {
			b.WriteString(" ?")
		}
		args = append(args, f.Value)
	}

	query := b.String()
	if expand {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return "", nil, fmt.Errorf("tally: failed to expand IN arguments: %w", err)
		}
	}
	return sqlx.Rebind(e.bindType, query), args, nil
}

// Rows renders q and executes it.
func (e *SQLEngine) Rows(ctx context.Context, q Query) (Rows, error) {
	query, args, err := e.Render(q)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func quoteField(f QueryField) string {
	if f.Entity == "" {
		return pq.QuoteIdentifier(f.Name)
	}
	return pq.QuoteIdentifier(f.Entity) + "." + pq.QuoteIdentifier(f.Name)
}
