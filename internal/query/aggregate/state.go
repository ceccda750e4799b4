package aggregate

import (
	"math"

	"sneldb/internal/schema"
)

// State is the mutable partial-aggregate state for one (group, spec) pair
// (§4.11). Exactly the fields relevant to the owning Spec's Op are used;
// the rest stay zero. Keeping Sum/Count separate for Avg (rather than a
// finalized float) is what makes merge associative (§8.1, §9).
type State struct {
	Count  int64
	Unique map[string]struct{}
	Sum    float64

	MinNum *float64
	MinStr *string
	MaxNum *float64
	MaxStr *string
}

func newState(spec Spec) *State {
	s := &State{}
	if spec.Op == OpCountUnique {
		s.Unique = make(map[string]struct{})
	}
	return s
}

func numeric(v schema.ScalarValue) float64 {
	switch v.Type {
	case schema.LogicalInteger:
		return float64(v.Int64)
	case schema.LogicalFloat:
		return v.Float64
	case schema.LogicalTimestamp:
		return float64(v.Timestamp)
	default:
		return 0
	}
}

func isNumeric(v schema.ScalarValue) bool {
	switch v.Type {
	case schema.LogicalInteger, schema.LogicalFloat, schema.LogicalTimestamp:
		return true
	default:
		return false
	}
}

// scalarForSum renders a running float64 total back as Int64 when it's
// exactly whole, else Float64 — avoids reporting "10" as "10.0" for the
// common all-integer case (§8.2 scenario 5).
func scalarForSum(sum float64) schema.ScalarValue {
	if sum == math.Trunc(sum) {
		return schema.IntValue(int64(sum))
	}
	return schema.FloatValue(sum)
}

// update folds one field value from a row into s, per spec's Op.
func (s *State) update(spec Spec, value schema.ScalarValue, present bool) {
	switch spec.Op {
	case OpCountAll:
		s.Count++
	case OpCountField:
		if present {
			s.Count++
		}
	case OpCountUnique:
		if present {
			s.Unique[value.String()] = struct{}{}
		}
	case OpSum:
		if present {
			s.Sum += numeric(value)
		}
	case OpAvg:
		if present {
			s.Sum += numeric(value)
			s.Count++
		}
	case OpMin:
		if present {
			s.observeMin(value)
		}
	case OpMax:
		if present {
			s.observeMax(value)
		}
	}
}

func (s *State) observeMin(v schema.ScalarValue) {
	if isNumeric(v) {
		n := numeric(v)
		if s.MinNum == nil || n < *s.MinNum {
			s.MinNum = &n
		}
		return
	}
	str := v.String()
	if s.MinStr == nil || str < *s.MinStr {
		s.MinStr = &str
	}
}

func (s *State) observeMax(v schema.ScalarValue) {
	if isNumeric(v) {
		n := numeric(v)
		if s.MaxNum == nil || n > *s.MaxNum {
			s.MaxNum = &n
		}
		return
	}
	str := v.String()
	if s.MaxStr == nil || str > *s.MaxStr {
		s.MaxStr = &str
	}
}

// merge combines another shard's partial state for the same (group, spec)
// into s (§8.1 "aggregate merge associativity").
func (s *State) merge(o *State) {
	s.Count += o.Count
	s.Sum += o.Sum
	if o.Unique != nil {
		if s.Unique == nil {
			s.Unique = make(map[string]struct{})
		}
		for k := range o.Unique {
			s.Unique[k] = struct{}{}
		}
	}
	if o.MinNum != nil && (s.MinNum == nil || *o.MinNum < *s.MinNum) {
		s.MinNum = o.MinNum
	}
	if o.MinStr != nil && (s.MinStr == nil || *o.MinStr < *s.MinStr) {
		s.MinStr = o.MinStr
	}
	if o.MaxNum != nil && (s.MaxNum == nil || *o.MaxNum > *s.MaxNum) {
		s.MaxNum = o.MaxNum
	}
	if o.MaxStr != nil && (s.MaxStr == nil || *o.MaxStr > *s.MaxStr) {
		s.MaxStr = o.MaxStr
	}
}

// finalize renders s's current value as the metric value for spec. Min/Max
// prefer the numeric branch when both are populated (§4.11); AVG divides
// only here, never during merge.
func (s *State) finalize(spec Spec) schema.ScalarValue {
	switch spec.Op {
	case OpCountAll, OpCountField:
		return schema.IntValue(s.Count)
	case OpCountUnique:
		return schema.IntValue(int64(len(s.Unique)))
	case OpSum:
		return scalarForSum(s.Sum)
	case OpAvg:
		if s.Count == 0 {
			return schema.FloatValue(0)
		}
		return schema.FloatValue(s.Sum / float64(s.Count))
	case OpMin:
		if s.MinNum != nil {
			return scalarForSum(*s.MinNum)
		}
		if s.MinStr != nil {
			return schema.StringValue(*s.MinStr)
		}
		return schema.NullValue()
	case OpMax:
		if s.MaxNum != nil {
			return scalarForSum(*s.MaxNum)
		}
		if s.MaxStr != nil {
			return schema.StringValue(*s.MaxStr)
		}
		return schema.NullValue()
	default:
		return schema.NullValue()
	}
}
