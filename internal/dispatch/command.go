// Package dispatch implements the command dispatcher (§4, component M):
// one Command struct per recognized operation, routed to a handler that
// drives the schema registry and shard manager and renders a Response.
// Parsing the wire protocol into a Command is out of scope (§1) and is the
// external frontend's job; this package only accepts an already-built
// Command.
//
// Ported from the Rust reference's command/dispatcher.rs match-based
// router and its per-command handlers/*.rs files, in Go-idiomatic form: a
// tagged Command struct with a Kind discriminant instead of an enum with
// struct variants, and a Dispatcher holding its collaborators as fields
// instead of threading them through every call.
package dispatch

import (
	"sneldb/internal/query/aggregate"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
)

// Kind discriminates a Command's variant, one per operation named in §4
// plus the administrative commands of §6.1.
type Kind int

const (
	KindDefine Kind = iota
	KindStore
	KindQuery
	KindReplay
	KindFlush
	KindCompare
	KindShowMaterialized
	KindCreateUser
	KindGrant
	KindRevoke
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindDefine:
		return "DEFINE"
	case KindStore:
		return "STORE"
	case KindQuery:
		return "QUERY"
	case KindReplay:
		return "REPLAY"
	case KindFlush:
		return "FLUSH"
	case KindCompare:
		return "COMPARE"
	case KindShowMaterialized:
		return "SHOW MATERIALIZED"
	case KindCreateUser:
		return "CREATE USER"
	case KindGrant:
		return "GRANT"
	case KindRevoke:
		return "REVOKE"
	case KindPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// OrderBy names one ORDER BY clause column, grounded on §4.10's
// OrderedStreamMerger operator.
type OrderBy struct {
	Field      string
	Descending bool
}

// AggregateClause carries a parsed QUERY ... AGGREGATE clause (§4.11),
// built directly into an aggregate.Sink by the query handler.
type AggregateClause struct {
	Specs      []aggregate.Spec
	GroupBy    []string
	Bucket     aggregate.Granularity
	TimeField  string
	GroupLimit int
}

// Command is the single entry point into the dispatcher: exactly one Kind
// is set, and only the fields that Kind uses are meaningful. Fields unused
// by a given Kind are left zero.
type Command struct {
	Kind Kind

	// AuthUser is the caller's authenticated username (§6.1), attached by
	// the transport layer after token/API-key verification. Empty means
	// the auth layer is disabled or bypassed.
	AuthUser string

	// DEFINE
	EventType string
	Version   uint32
	Fields    map[string]schema.LogicalType

	// STORE
	ContextID string
	Timestamp int64
	HasTime   bool
	Payload   map[string]interface{}

	// QUERY / REPLAY (EventType, ContextID above are reused)
	Since     int64
	HasSince  bool
	Where     *filter.Group
	Order     *OrderBy
	Limit     int
	Offset    int
	Aggregate *AggregateClause

	// Sequence, when set, turns the QUERY into a chain match
	// (`<head> FOLLOWED BY <next> ... LINKED BY <field>`); EventType above
	// is ignored in favor of Sequence.Head.
	Sequence *flow.SequenceSpec

	// FLUSH
	ShardID    int
	HasShardID bool

	// COMPARE
	SubQueries []*Command

	// SHOW MATERIALIZED
	MaterializedName string

	// CREATE USER / GRANT / REVOKE
	Username   string
	Password   string
	Permission string
}
