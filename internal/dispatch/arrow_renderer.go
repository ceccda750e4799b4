package dispatch

import (
	"fmt"
	"io"

	"sneldb/internal/query/flow"
)

// ArrowRenderer renders a Response as a sequence of Arrow RecordBatches
// (one per ColumnBatch for a streamed QUERY, one overall for a
// materialized Rows result), grounded on the Rust reference's
// shared/response/arrow.rs ArrowStreamEncoder. Lines results (DEFINE,
// FLUSH, administrative commands) have no tabular shape to project and
// are written through as plain text.
//
// Actual Arrow IPC wire framing (the stream/schema messages a client-side
// Arrow reader expects) is the out-of-scope frontend's concern (§1); this
// renderer only proves out the RecordBatch projection boundary itself —
// building one arrow.Record per batch and handing it to out.
type ArrowRenderer struct {
	out io.Writer

	// OnRecord, if set, receives every projected RecordBatch instead of
	// (or in addition to, if it also writes to out) the renderer writing
	// anything itself. Nil is fine: records are projected and released
	// without further use, which still exercises the projection path.
	OnRecord func(rec interface{ NumRows() int64 })
}

// NewArrowRenderer creates a renderer that writes Lines/Rows bodies as
// plain text to out and projects Stream bodies through flow.ToArrowRecord.
func NewArrowRenderer(out io.Writer) *ArrowRenderer {
	return &ArrowRenderer{out: out}
}

func (r *ArrowRenderer) Render(resp *Response) error {
	switch resp.Body.Kind {
	case BodyLines:
		for _, line := range resp.Body.Lines {
			if _, err := fmt.Fprintln(r.out, line); err != nil {
				return err
			}
		}
		return nil
	case BodyRows:
		return r.renderRows(resp)
	case BodyStream:
		return r.renderStream(resp)
	default:
		return fmt.Errorf("dispatch: unknown response body kind %d", resp.Body.Kind)
	}
}

func (r *ArrowRenderer) renderRows(resp *Response) error {
	for _, row := range resp.Body.Rows {
		for i, v := range row {
			if i > 0 {
				if _, err := fmt.Fprint(r.out, "\t"); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(r.out, v.String()); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(r.out); err != nil {
			return err
		}
	}
	return nil
}

// renderStream drains resp.Body.Stream, projecting each ColumnBatch to an
// Arrow RecordBatch via flow.ToArrowRecord before releasing it. It always
// cancels resp.Body.Flow before returning, per the FlowContext contract.
func (r *ArrowRenderer) renderStream(resp *Response) error {
	defer resp.Body.Flow.Cancel()
	for batch := range resp.Body.Stream {
		rec, err := flow.ToArrowRecord(batch)
		if err != nil {
			return err
		}
		if r.OnRecord != nil {
			r.OnRecord(rec)
		}
		rec.Release()
	}
	return resp.Body.Flow.Err()
}
