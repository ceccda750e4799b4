package dispatch

import (
	"context"
	"fmt"

	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
)

// handleCompare runs two or more sub-queries and merges their results
// side by side, one column group per query (§4, grounded on the Rust
// reference's command/handlers/compare/{handler,merge}.rs
// ComparisonStreamMerger: each query's columns are prefixed by its
// event_type, numbered when two sub-queries share one).
func (d *Dispatcher) handleCompare(ctx context.Context, cmd *Command) (*Response, error) {
	if len(cmd.SubQueries) < 2 {
		return ErrorResponse(StatusBadRequest, "COMPARE requires at least 2 queries"), nil
	}

	prefixes := comparePrefixes(cmd.SubQueries)

	type side struct {
		prefix string
		cols   []flow.ColumnSpec
		rows   [][]schema.ScalarValue
	}
	sides := make([]side, len(cmd.SubQueries))

	for i, sub := range cmd.SubQueries {
		resp, err := d.handleQuery(ctx, sub)
		if err != nil {
			return nil, err
		}
		if resp.Status != StatusOK {
			return resp, nil
		}
		cols, rows, err := materialize(resp)
		if err != nil {
			return ErrorResponse(StatusInternalError, err.Error()), nil
		}
		sides[i] = side{prefix: prefixes[i], cols: cols, rows: rows}
	}

	var outCols []flow.ColumnSpec
	for _, s := range sides {
		for _, c := range s.cols {
			outCols = append(outCols, flow.ColumnSpec{Name: s.prefix + "." + c.Name, LogicalType: c.LogicalType})
		}
	}

	maxRows := 0
	for _, s := range sides {
		if len(s.rows) > maxRows {
			maxRows = len(s.rows)
		}
	}

	outRows := make([][]schema.ScalarValue, maxRows)
	for r := 0; r < maxRows; r++ {
		var row []schema.ScalarValue
		for _, s := range sides {
			if r < len(s.rows) {
				row = append(row, s.rows[r]...)
			} else {
				for range s.cols {
					row = append(row, schema.NullValue())
				}
			}
		}
		outRows[r] = row
	}

	return OKRows(fmt.Sprintf("Compared %d queries", len(cmd.SubQueries)), outCols, outRows), nil
}

// comparePrefixes names each sub-query's column group by its event_type.
// Sub-queries that share an event_type are numbered "<event_type>_1",
// "<event_type>_2", ...; a sub-query with no event_type gets the positional
// name "q<position>" (1-based).
func comparePrefixes(subs []*Command) []string {
	seen := make(map[string]int, len(subs))
	out := make([]string, len(subs))
	for _, s := range subs {
		seen[s.EventType]++
	}
	counters := make(map[string]int, len(subs))
	for i, s := range subs {
		if seen[s.EventType] > 1 {
			counters[s.EventType]++
			out[i] = fmt.Sprintf("%s_%d", s.EventType, counters[s.EventType])
			continue
		}
		if s.EventType == "" {
			out[i] = fmt.Sprintf("q%d", i+1)
			continue
		}
		out[i] = s.EventType
	}
	return out
}

// materialize fully drains a streamed Response into columns/rows, used by
// COMPARE, which needs the whole result in hand before it can lay out a
// combined table. Cancels the stream's
// FlowContext once drained.
func materialize(resp *Response) ([]flow.ColumnSpec, [][]schema.ScalarValue, error) {
	if resp.Body.Kind != BodyStream {
		return resp.Body.Columns, resp.Body.Rows, nil
	}
	defer resp.Body.Flow.Cancel()

	cols := resp.Body.Schema.Columns
	var rows [][]schema.ScalarValue
	for batch := range resp.Body.Stream {
		for _, e := range batch.Events {
			row := make([]schema.ScalarValue, len(cols))
			for i, c := range cols {
				row[i] = fieldOrPayload(e, c.Name)
			}
			rows = append(rows, row)
		}
	}
	if err := resp.Body.Flow.Err(); err != nil && err != flow.ErrClosed {
		return nil, nil, err
	}
	return cols, rows, nil
}

func fieldOrPayload(e *schema.Event, name string) schema.ScalarValue {
	switch name {
	case "event_type":
		return schema.StringValue(e.EventType)
	case "context_id":
		return schema.StringValue(string(e.ContextID))
	case "timestamp":
		return schema.TimestampValue(e.Timestamp)
	case "event_id":
		return schema.IntValue(int64(e.EventID))
	default:
		if v, ok := e.Payload[name]; ok {
			return v
		}
		return schema.NullValue()
	}
}
