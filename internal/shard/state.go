package shard

// State is a shard's lifecycle state (§3.8, §4.3-§4.5): Empty until the
// first STORE, Active while accepting writes, and Flushing while a handover
// holds the flush_lock. Compaction overlays Active rather than introducing
// its own state — it holds the same lock only for its commit_batch step.
type State int

const (
	StateEmpty State = iota
	StateActive
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateActive:
		return "Active"
	case StateFlushing:
		return "Flushing"
	default:
		return "Unknown"
	}
}
