package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"sneldb/internal/common"
)

// LogicalType is the logical type tag carried alongside every ScalarValue
// (§3.2). Conversion between JSON and ScalarValue is lossless except for
// u64 values above int64's max, which fall back to String.
type LogicalType string

const (
	LogicalNull      LogicalType = "Null"
	LogicalBoolean   LogicalType = "Boolean"
	LogicalInteger   LogicalType = "Integer"
	LogicalFloat     LogicalType = "Float"
	LogicalTimestamp LogicalType = "Timestamp"
	LogicalString    LogicalType = "String"
	LogicalJSON      LogicalType = "JSON"
	LogicalBinary    LogicalType = "Binary"
)

// ScalarValue is a tagged union over the handful of value kinds a column
// can hold (§3.2). Exactly one of the typed fields is meaningful, selected
// by Type.
type ScalarValue struct {
	Type      LogicalType
	Bool      bool
	Int64     int64
	Float64   float64
	Timestamp int64
	Utf8      string
	Binary    []byte
}

func NullValue() ScalarValue                { return ScalarValue{Type: LogicalNull} }
func BoolValue(b bool) ScalarValue          { return ScalarValue{Type: LogicalBoolean, Bool: b} }
func IntValue(i int64) ScalarValue          { return ScalarValue{Type: LogicalInteger, Int64: i} }
func FloatValue(f float64) ScalarValue      { return ScalarValue{Type: LogicalFloat, Float64: f} }
func TimestampValue(t int64) ScalarValue    { return ScalarValue{Type: LogicalTimestamp, Timestamp: t} }
func StringValue(s string) ScalarValue      { return ScalarValue{Type: LogicalString, Utf8: s} }
func BinaryValue(b []byte) ScalarValue      { return ScalarValue{Type: LogicalBinary, Binary: b} }

// FromJSON converts a decoded JSON value (as produced by encoding/json's
// interface{} decoding) into a ScalarValue. Nested objects/arrays are
// re-serialized to a JSON string, per §3.2 "payloads are flat".
func FromJSON(v interface{}) ScalarValue {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		if _, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return StringValue(string(t))
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return IntValue(int64(t))
		}
		return FloatValue(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return StringValue(fmt.Sprintf("%v", t))
		}
		return ScalarValue{Type: LogicalJSON, Utf8: string(data)}
	}
}

// ToJSON converts a ScalarValue back to a plain interface{} suitable for
// json.Marshal, the inverse of FromJSON.
func (s ScalarValue) ToJSON() interface{} {
	switch s.Type {
	case LogicalNull:
		return nil
	case LogicalBoolean:
		return s.Bool
	case LogicalInteger:
		return s.Int64
	case LogicalFloat:
		return s.Float64
	case LogicalTimestamp:
		return s.Timestamp
	case LogicalString:
		return s.Utf8
	case LogicalJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(s.Utf8), &v); err == nil {
			return v
		}
		return s.Utf8
	case LogicalBinary:
		return s.Binary
	default:
		return nil
	}
}

// String renders a ScalarValue for use as a sort/encode key (SuRF
// encoding, XOR filter fingerprinting) and for filter_key() deduplication.
func (s ScalarValue) String() string {
	switch s.Type {
	case LogicalNull:
		return "Null"
	case LogicalBoolean:
		return strconv.FormatBool(s.Bool)
	case LogicalInteger:
		return strconv.FormatInt(s.Int64, 10)
	case LogicalFloat:
		return strconv.FormatFloat(s.Float64, 'g', -1, 64)
	case LogicalTimestamp:
		return strconv.FormatInt(s.Timestamp, 10)
	case LogicalString, LogicalJSON:
		return s.Utf8
	case LogicalBinary:
		return string(s.Binary)
	default:
		return ""
	}
}

// Schema is the event-type definition held by the registry (§3.3): a name,
// a stable uid, a monotonic version, and the additive field set.
type Schema struct {
	EventType string                 `json:"event_type"`
	UID       common.UID             `json:"uid"`
	Version   uint32                 `json:"version"`
	Fields    map[string]LogicalType `json:"fields"`
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	fields := make(map[string]LogicalType, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return &Schema{EventType: s.EventType, UID: s.UID, Version: s.Version, Fields: fields}
}

// Event is the unit stored in the WAL, memtable, and segments (§3.2).
type Event struct {
	EventType string                 `json:"event_type"`
	UID       common.UID             `json:"uid"`
	ContextID common.ContextID       `json:"context_id"`
	Timestamp int64                  `json:"timestamp"`
	EventID   common.EventID         `json:"event_id"`
	// Payload is an unordered Go map; spec §3.2 describes it as an ordered
	// map<field_name, ScalarValue>. No observable output depends on Go's
	// map iteration order: segment/flush.go's collectFields always imposes
	// a stable sort over payload field names before anything is persisted.
	Payload map[string]ScalarValue `json:"payload"`
}

// createdAtField is the payload key eligible for the created_at
// normalization described in §9: the retail generator emits both epoch
// integers and ISO-8601 strings for this field, and the core must accept
// both and normalize to epoch seconds at parse time.
const createdAtField = "created_at"

// NormalizeTimestamp rewrites a parsed payload's created_at field (if
// present) to an epoch-second ScalarValue in place, regardless of whether
// the caller sent an integer or an ISO-8601 string. This must run once, at
// STORE parse time — never at WHERE evaluation (§9 Open Question).
func NormalizeTimestamp(payload map[string]ScalarValue) error {
	v, ok := payload[createdAtField]
	if !ok {
		return nil
	}
	switch v.Type {
	case LogicalInteger, LogicalTimestamp:
		payload[createdAtField] = TimestampValue(v.Int64)
		if v.Type == LogicalTimestamp {
			payload[createdAtField] = TimestampValue(v.Timestamp)
		}
		return nil
	case LogicalString:
		t, err := time.Parse(time.RFC3339, v.Utf8)
		if err != nil {
			return fmt.Errorf("created_at: not an epoch integer or RFC3339 string: %q", v.Utf8)
		}
		payload[createdAtField] = TimestampValue(t.Unix())
		return nil
	default:
		return fmt.Errorf("created_at: unsupported value type %s", v.Type)
	}
}
