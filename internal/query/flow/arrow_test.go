package flow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/schema"
)

func TestToArrowRecordProjectsBuiltinAndPayloadColumns(t *testing.T) {
	s, err := NewBatchSchema(
		ColumnSpec{Name: "event_type", LogicalType: schema.LogicalString},
		ColumnSpec{Name: "timestamp", LogicalType: schema.LogicalTimestamp},
		ColumnSpec{Name: "amount", LogicalType: schema.LogicalInteger},
	)
	require.NoError(t, err)

	events := []*schema.Event{
		{EventType: "signup", Timestamp: 100, Payload: map[string]schema.ScalarValue{"amount": schema.IntValue(7)}},
		{EventType: "signup", Timestamp: 200, Payload: map[string]schema.ScalarValue{}},
	}
	batch, err := NewColumnBatch(s, events)
	require.NoError(t, err)

	rec, err := ToArrowRecord(batch)
	require.NoError(t, err)
	defer rec.Release()

	require.EqualValues(t, 2, rec.NumRows())
	require.EqualValues(t, 3, rec.NumCols())
}

func TestToArrowRecordRejectsNilBatch(t *testing.T) {
	_, err := ToArrowRecord(nil)
	require.Error(t, err)
}

func TestArrowSchemaMatchesColumnCount(t *testing.T) {
	s, err := NewBatchSchema(
		ColumnSpec{Name: "flag", LogicalType: schema.LogicalBoolean},
		ColumnSpec{Name: "price", LogicalType: schema.LogicalFloat},
	)
	require.NoError(t, err)

	as := ArrowSchema(s)
	require.Equal(t, 2, len(as.Fields()))
	require.True(t, as.Field(0).Nullable)
}
