// Package flow implements the query engine's streaming operator pipeline
// (§4.10, component K): a typed dataflow of operators connected by bounded
// channels, carrying batches of rows from scan through filter, merge,
// limit, and aggregate down to the response writer.
package flow

import (
	"fmt"

	"sneldb/internal/schema"
)

// ColumnSpec names one column of a BatchSchema: its field name and logical
// type, the same pair a Catalog/ZoneIndex entry carries for a column.
type ColumnSpec struct {
	Name        string
	LogicalType schema.LogicalType
}

// BatchSchema is the compatibility contract checked at every channel
// boundary in the pipeline (§4.10 "BatchSchema compatibility is checked at
// channel boundaries; any mismatch is a fatal pipeline error").
type BatchSchema struct {
	Columns []ColumnSpec
}

// NewBatchSchema builds a BatchSchema from field/type pairs, in order.
func NewBatchSchema(columns ...ColumnSpec) (*BatchSchema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("flow: schema must contain at least one column")
	}
	return &BatchSchema{Columns: columns}, nil
}

// IsCompatibleWith reports whether two schemas carry the same columns, in
// the same order, with the same logical types.
func (s *BatchSchema) IsCompatibleWith(other *BatchSchema) bool {
	if s == nil || other == nil || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, c := range s.Columns {
		o := other.Columns[i]
		if c.Name != o.Name || c.LogicalType != o.LogicalType {
			return false
		}
	}
	return true
}

// ColumnBatch is the currency of the streaming layer (§3.7): a schema plus
// a bounded run of rows. The storage layer here is row-oriented
// (schema.Event, built directly off column files rather than an Arrow
// RecordBatch), so a batch carries its rows as events rather than parallel
// column vectors; the Arrow projection happens once, lazily, at the
// response-rendering boundary rather than being the pipeline's internal
// representation.
type ColumnBatch struct {
	Schema *BatchSchema
	Events []*schema.Event
}

// NewColumnBatch wraps events under schema, failing if schema is nil.
func NewColumnBatch(schema *BatchSchema, events []*schema.Event) (*ColumnBatch, error) {
	if schema == nil {
		return nil, fmt.Errorf("flow: batch requires a schema")
	}
	return &ColumnBatch{Schema: schema, Events: events}, nil
}

func (b *ColumnBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}
