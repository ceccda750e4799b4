// Package aggregate implements the aggregate sink and cross-shard merger
// (§4.11, component L): group-by + time-bucket partial states, merged
// across shards with AVG materialized only at the final emit.
//
// Ported from the Rust reference's engine/core/read/sink/aggregate/sink.rs
// and engine/core/read/aggregate's AggState/AggPartial shapes (the
// sum/count split that makes AVG merge-associative, the numeric-wins-over-
// string Min/Max tie-break).
package aggregate

// Op names one aggregate operator (§4.11).
type Op int

const (
	OpCountAll Op = iota
	OpCountField
	OpCountUnique
	OpSum
	OpAvg
	OpMin
	OpMax
)

// Spec is one requested aggregate metric: an operator plus, for every kind
// but CountAll, the field it reads.
type Spec struct {
	Op    Op
	Field string
}

func CountAll() Spec                 { return Spec{Op: OpCountAll} }
func CountField(field string) Spec   { return Spec{Op: OpCountField, Field: field} }
func CountUnique(field string) Spec  { return Spec{Op: OpCountUnique, Field: field} }
func Sum(field string) Spec          { return Spec{Op: OpSum, Field: field} }
func Avg(field string) Spec          { return Spec{Op: OpAvg, Field: field} }
func Min(field string) Spec          { return Spec{Op: OpMin, Field: field} }
func Max(field string) Spec          { return Spec{Op: OpMax, Field: field} }

// metricName returns the payload key a Spec's finalized value is reported
// under, matching the Rust sink's naming (count, count_<f>,
// count_unique_<f>, total_<f>, avg_<f>, min_<f>, max_<f>).
func metricName(spec Spec) string {
	switch spec.Op {
	case OpCountAll:
		return "count"
	case OpCountField:
		return "count_" + spec.Field
	case OpCountUnique:
		return "count_unique_" + spec.Field
	case OpSum:
		return "total_" + spec.Field
	case OpAvg:
		return "avg_" + spec.Field
	case OpMin:
		return "min_" + spec.Field
	case OpMax:
		return "max_" + spec.Field
	default:
		return "metric"
	}
}
