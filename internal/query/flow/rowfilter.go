package flow

import (
	"strings"

	"sneldb/internal/query/filter"
	"sneldb/internal/schema"
)

// fieldValue reads a built-in or payload field off an event, mirroring the
// column names the zone index and column files use (§3.2, §4.6).
func fieldValue(e *schema.Event, column string) (schema.ScalarValue, bool) {
	switch column {
	case "event_type":
		return schema.StringValue(e.EventType), true
	case "context_id":
		return schema.StringValue(string(e.ContextID)), true
	case "timestamp":
		return schema.TimestampValue(e.Timestamp), true
	case "event_id":
		return schema.IntValue(int64(e.EventID)), true
	default:
		v, ok := e.Payload[column]
		return v, ok
	}
}

// compare returns -1/0/1 ordering a against b, preferring numeric
// comparison when both sides carry a numeric logical type and falling back
// to string comparison otherwise (the same numeric-first rule the index's
// zone ranges use, §3.6, and the Rust FieldComparator this was ported
// from).
func compare(a, b schema.ScalarValue) int {
	an, aok := asFloat(a)
	bn, bok := asFloat(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	as, bs := a.String(), b.String()
	return strings.Compare(as, bs)
}

func asFloat(v schema.ScalarValue) (float64, bool) {
	switch v.Type {
	case schema.LogicalInteger:
		return float64(v.Int64), true
	case schema.LogicalTimestamp:
		return float64(v.Timestamp), true
	case schema.LogicalFloat:
		return v.Float64, true
	default:
		return 0, false
	}
}

// evalOp applies a single Filter leaf's operator to the event's field
// value. A missing field never satisfies an operator except Neq, matching
// SQL's "unknown field is not equal to anything" intuition used by the
// WHERE evaluator.
func evalOp(v schema.ScalarValue, present bool, op filter.Op, want schema.ScalarValue) bool {
	if !present {
		return op == filter.OpNeq
	}
	switch op {
	case filter.OpEq:
		return compare(v, want) == 0
	case filter.OpNeq:
		return compare(v, want) != 0
	case filter.OpGt:
		return compare(v, want) > 0
	case filter.OpGte:
		return compare(v, want) >= 0
	case filter.OpLt:
		return compare(v, want) < 0
	case filter.OpLte:
		return compare(v, want) <= 0
	case filter.OpIn:
		return compare(v, want) == 0
	default:
		return false
	}
}

// Matches evaluates a WHERE-clause tree against one event (§4.10 operator
// "Filter (row-level evaluator over typed columns)"). This is the
// correctness backstop behind zone-level candidate selection: SuRF/XOR
// pruning narrows which zones to read, but every row in those zones still
// passes through Matches before it reaches the caller.
func Matches(g *filter.Group, e *schema.Event) bool {
	switch g.Kind {
	case filter.KindFilter:
		if !g.HasValue {
			return true // projection-only reference, no predicate
		}
		v, present := fieldValue(e, g.Column)
		return evalOp(v, present, g.Operation, g.Value)
	case filter.KindAnd:
		for _, c := range g.Children {
			if !Matches(c, e) {
				return false
			}
		}
		return true
	case filter.KindOr:
		for _, c := range g.Children {
			if Matches(c, e) {
				return true
			}
		}
		return false
	case filter.KindNot:
		return !Matches(g.Children[0], e)
	default:
		return false
	}
}

// RowFilter applies tree to every event of every incoming batch, forwarding
// only batches that still have rows after filtering (an all-filtered batch
// is dropped rather than forwarded empty).
func RowFilter(fc *FlowContext, in <-chan *ColumnBatch, tree *filter.Group) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)
		for {
			select {
			case b, ok := <-in:
				if !ok {
					return
				}
				kept := make([]*schema.Event, 0, len(b.Events))
				for _, e := range b.Events {
					if Matches(tree, e) {
						kept = append(kept, e)
					}
				}
				if len(kept) == 0 {
					continue
				}
				nb := &ColumnBatch{Schema: b.Schema, Events: kept}
				if !send(fc, out, nb) {
					return
				}
			case <-fc.Done():
				return
			}
		}
	}()
	return out
}
