package tally

import (
	"errors"
	"strings"
	"testing"

	"github.com/zoobzio/astql/pkg/postgres"
)

// Invoice is a test model with full soy metadata.
type Invoice struct {
	ID     int64   `db:"id" type:"bigint" constraints:"primarykey"`
	Status string  `db:"status" type:"text"`
	Amount float64 `db:"amount" type:"numeric"`
}

func newInvoiceEngine(t *testing.T) *SoyEngine[Invoice] {
	t.Helper()
	// nil db is allowed for query building without execution
	e, err := NewSoyEngine[Invoice](nil, "invoices", postgres.New())
	if err != nil {
		t.Fatalf("NewSoyEngine() failed: %v", err)
	}
	return e
}

func TestNewSoyEngine(t *testing.T) {
	e := newInvoiceEngine(t)
	if e.Soy() == nil {
		t.Fatal("Soy() returned nil")
	}
	if e.Soy().TableName() != "invoices" {
		t.Errorf("Soy().TableName() = %q, want %q", e.Soy().TableName(), "invoices")
	}
}

func TestNewSoyEngine_EmptyTableName(t *testing.T) {
	if _, err := NewSoyEngine[Invoice](nil, "", postgres.New()); err == nil {
		t.Error("NewSoyEngine() with empty table name should fail")
	}
}

func TestSoyEngineRender(t *testing.T) {
	e := newInvoiceEngine(t)
	amount := QueryField{Entity: "invoices", Name: "amount"}
	status := QueryField{Entity: "invoices", Name: "status"}

	methods := []AggregateMethod{MethodCount, MethodSum, MethodAverage, MethodMin, MethodMax}
	for _, m := range methods {
		t.Run(m.Name(), func(t *testing.T) {
			q := Query{
				Action:     ActionRead,
				Entity:     "invoices",
				Aggregates: []QueryAggregate{{Field: &amount, Method: m}},
				Filters:    []Filter{{Field: status, Operator: OpEq, Value: "paid"}},
			}
			if m == MethodCount {
				q.Aggregates[0].Field = nil
			}
			sql, err := e.Render(q)
			if err != nil {
				t.Fatalf("Render() failed: %v", err)
			}
			if sql == "" {
				t.Error("Render() produced empty SQL")
			}
			if !strings.Contains(sql, "invoices") {
				t.Errorf("Render() SQL %q does not name the table", sql)
			}
		})
	}
}

func TestSoyEngineRejects(t *testing.T) {
	e := newInvoiceEngine(t)
	amount := QueryField{Entity: "invoices", Name: "amount"}

	tests := []struct {
		name  string
		query Query
		want  error
	}{
		{"custom", Query{Action: ActionRead, Entity: "invoices", Aggregates: []QueryAggregate{{Field: &amount, Method: Custom("median")}}}, ErrUnsupported},
		{"wrong entity", Query{Action: ActionRead, Entity: "orders", Aggregates: []QueryAggregate{{Method: MethodCount}}}, ErrUnsupported},
		{"not read", Query{Action: ActionUpdate, Entity: "invoices", Aggregates: []QueryAggregate{{Method: MethodCount}}}, ErrUnsupported},
		{"accumulated", Query{Action: ActionRead, Entity: "invoices", Aggregates: []QueryAggregate{{Method: MethodCount}, {Method: MethodCount}}}, ErrMultipleAggregates},
		{"in filter", Query{
			Action:     ActionRead,
			Entity:     "invoices",
			Aggregates: []QueryAggregate{{Method: MethodCount}},
			Filters:    []Filter{{Field: amount, Operator: OpIn, Value: []float64{1}}},
		}, ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Render(tt.query); !errors.Is(err, tt.want) {
				t.Errorf("Render() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScalarRows(t *testing.T) {
	rows := &scalarRows{value: 7, mapper: defaultMapper()}

	if !rows.Next() {
		t.Fatal("Next() should yield one row")
	}

	var asInt aggregateResult[int64]
	if err := rows.StructScan(&asInt); err != nil || asInt.Value != 7 {
		t.Errorf("StructScan(int64) = %d, %v", asInt.Value, err)
	}

	var asPtr aggregateResult[*float64]
	if err := rows.StructScan(&asPtr); err != nil || asPtr.Value == nil || *asPtr.Value != 7 {
		t.Errorf("StructScan(*float64) = %v, %v", asPtr.Value, err)
	}

	var asString aggregateResult[string]
	if err := rows.StructScan(&asString); err == nil {
		t.Error("StructScan(string) should fail")
	}

	var noColumn struct{ Other int }
	if err := rows.StructScan(&noColumn); err == nil {
		t.Error("StructScan() without an aggregate column should fail")
	}

	if rows.Next() {
		t.Error("Next() should yield only one row")
	}
}

func TestScalarRowsRejectsLossyIntegers(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		dest  any
	}{
		{"fraction into int64", 2.75, &aggregateResult[int64]{}},
		{"fraction into *int64", 0.5, &aggregateResult[*int64]{}},
		{"overflow int8", 300, &aggregateResult[int8]{}},
		{"negative into uint", -1, &aggregateResult[uint]{}},
		{"overflow uint16", 70000, &aggregateResult[uint16]{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := &scalarRows{value: tt.value, mapper: defaultMapper()}
			if err := rows.StructScan(tt.dest); err == nil {
				t.Errorf("StructScan(%v) should fail", tt.value)
			}
		})
	}

	rows := &scalarRows{value: 2.75, mapper: defaultMapper()}
	var asFloat aggregateResult[float32]
	if err := rows.StructScan(&asFloat); err != nil || asFloat.Value != 2.75 {
		t.Errorf("StructScan(float32) = %v, %v", asFloat.Value, err)
	}
	if rows.Err() != nil || rows.Close() != nil {
		t.Error("Err() and Close() should be nil")
	}
}
