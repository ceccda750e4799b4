package wal

import (
	"encoding/json"
	"time"
)

// SyncPolicy controls how often Append fsyncs the underlying file (§4.2).
type SyncPolicy int

const (
	// SyncAlways fsyncs after every append.
	SyncAlways SyncPolicy = iota
	// SyncEveryN fsyncs after every N appends.
	SyncEveryN
	// SyncEveryMs fsyncs at most once per the configured interval.
	SyncEveryMs
)

// Entry is a single WAL record (§3.4): one newline-terminated JSON line.
type Entry struct {
	Timestamp int64           `json:"timestamp"`
	EventType string          `json:"event_type"`
	ContextID string          `json:"context_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Marshal serializes the entry to a single JSON line (no trailing newline;
// the caller appends it).
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntry parses one JSON line into an Entry.
func UnmarshalEntry(line []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Config configures a shard's WAL directory.
type Config struct {
	Dir             string
	SegmentMaxBytes int64
	SegmentMaxAge   time.Duration
	SyncPolicy      SyncPolicy
	SyncEveryN      int
	SyncEveryMs     int

	// ShardID labels archives produced from this WAL (§6.3 ArchiveHeader).
	ShardID int64
	// ArchiveDir, when non-empty, makes Truncate archive each retired log
	// before deleting it (§4.2 archive). Empty disables archival; retired
	// logs are deleted outright.
	ArchiveDir string
	// CompressionLevel is the zstd level for archives (1-19, §6.5).
	CompressionLevel int
}

// Stats reports WAL manager counters, returned by Replay and GetStats.
type Stats struct {
	ActiveSegment   string
	SegmentCount    int
	TotalBytes      int64
	TotalEntries    int64
	SkippedMalformed int64
}
