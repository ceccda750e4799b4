package flow

import (
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"sneldb/internal/schema"
)

// arrowAllocator backs every RecordBuilder created by ToArrowRecord. The
// projection is a one-shot, request-scoped conversion, so a single shared
// GoAllocator (rather than one per call) is fine: no record crosses a
// goroutine boundary that outlives the call building it.
var arrowAllocator = memory.NewGoAllocator()

// arrowFieldType maps a column's logical type to the Arrow type the
// projection builds for it, grounded on the teacher's parquet writer
// (internal/storage/parquet) choice of primitive Arrow types per
// ScalarValue kind.
func arrowFieldType(lt schema.LogicalType) arrow.DataType {
	switch lt {
	case schema.LogicalBoolean:
		return arrow.FixedWidthTypes.Boolean
	case schema.LogicalInteger:
		return arrow.PrimitiveTypes.Int64
	case schema.LogicalFloat:
		return arrow.PrimitiveTypes.Float64
	case schema.LogicalTimestamp:
		return arrow.FixedWidthTypes.Timestamp_s
	case schema.LogicalBinary:
		return arrow.BinaryTypes.Binary
	default: // LogicalString, LogicalJSON, LogicalNull
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema projects a BatchSchema into an Arrow schema, every column
// nullable (a payload field absent on a given event renders as Arrow null
// rather than a zero value).
func ArrowSchema(bs *BatchSchema) *arrow.Schema {
	fields := make([]arrow.Field, len(bs.Columns))
	for i, c := range bs.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowFieldType(c.LogicalType), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// ToArrowRecord renders one ColumnBatch as an Arrow RecordBatch (§3.7's
// "Arrow projection happens once, lazily, at the response-rendering
// boundary"), for renderers that speak Arrow IPC rather than the line
// protocol. The caller owns the returned record and must call Release on
// it once done.
func ToArrowRecord(batch *ColumnBatch) (arrow.Record, error) {
	if batch == nil || batch.Schema == nil {
		return nil, fmt.Errorf("flow: cannot project a nil batch or schema to Arrow")
	}
	arrowSchema := ArrowSchema(batch.Schema)
	b := array.NewRecordBuilder(arrowAllocator, arrowSchema)
	defer b.Release()

	for col, c := range batch.Schema.Columns {
		builder := b.Field(col)
		for _, e := range batch.Events {
			v, present := fieldValue(e, c.Name)
			if !present || v.Type == schema.LogicalNull {
				builder.AppendNull()
				continue
			}
			appendScalar(builder, c.LogicalType, v)
		}
	}
	return b.NewRecord(), nil
}

// appendScalar appends one ScalarValue to builder, coercing to lt's Arrow
// representation. A value whose own Type disagrees with the column's
// declared LogicalType (never expected, since the registry enforces a
// single type per field name) falls back to the zero value for lt rather
// than panicking the RecordBuilder.
func appendScalar(builder array.Builder, lt schema.LogicalType, v schema.ScalarValue) {
	switch lt {
	case schema.LogicalBoolean:
		builder.(*array.BooleanBuilder).Append(v.Bool)
	case schema.LogicalInteger:
		builder.(*array.Int64Builder).Append(v.Int64)
	case schema.LogicalFloat:
		builder.(*array.Float64Builder).Append(v.Float64)
	case schema.LogicalTimestamp:
		builder.(*array.TimestampBuilder).Append(arrow.Timestamp(v.Timestamp))
	case schema.LogicalBinary:
		builder.(*array.BinaryBuilder).Append(v.Binary)
	default:
		builder.(*array.StringBuilder).Append(v.String())
	}
}
