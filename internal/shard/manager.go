package shard

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"sneldb/internal/cache"
	"sneldb/internal/common"
	"sneldb/internal/config"
	"sneldb/internal/memtable"
	"sneldb/internal/messaging"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
	"sneldb/internal/wal"
)

// Manager owns the fixed shard pool and routes both writes and reads by
// context_id (§3.1: "shard = hash(context_id) mod N"). It also hands out
// the one process-wide, monotonically increasing event_id counter every
// shard shares (§3.1).
type Manager struct {
	shards   []*Shard
	eventSeq uint64
}

// NewManager builds cfg.Engine.Shards shards, each with its own WAL
// directory, SegmentIndex (loaded from disk if present), flush engine,
// compactor, and cache bundle, rooted under cfg.Engine.DataDir. bus may
// be nil to disable lifecycle-event announcements; a non-nil bus is
// shared with whoever else publishes or consumes on it (the server's
// dispatcher and audit logger).
func NewManager(ctx context.Context, cfg *config.Config, storage block.Storage, bus *messaging.Bus) (*Manager, error) {
	n := cfg.Engine.Shards
	if n <= 0 {
		return nil, fmt.Errorf("shard: engine.shards must be positive, got %d", n)
	}

	segmentMaxAge, err := time.ParseDuration(cfg.WAL.SegmentMaxAge)
	if err != nil {
		segmentMaxAge = 24 * time.Hour
	}
	syncPolicy := parseSyncPolicy(cfg.WAL.SyncPolicy)
	rowsPerZone := int(cfg.Engine.RowsPerZone)

	caps := cache.Capacities{
		ColumnHandleBytes: cfg.Cache.ColumnHandleBytes,
		ZoneSurfBytes:     cfg.Cache.ZoneSurfBytes,
		ZoneIndexBytes:    cfg.Cache.ZoneIndexBytes,
		IndexCatalogBytes: cfg.Cache.IndexCatalogBytes,
		ColumnBlockBytes:  cfg.Cache.ColumnBlockBytes,
		ZoneXorBytes:      cfg.Cache.ZoneXorBytes,
	}

	var events *messaging.EventPublisher
	if bus != nil {
		events = messaging.NewEventPublisher(bus, "sneldb.shard")
	}

	m := &Manager{shards: make([]*Shard, n)}

	for i := 0; i < n; i++ {
		dirName := fmt.Sprintf("shard-%03d", i)
		shardDir := filepath.Join(cfg.Engine.DataDir, dirName)

		archiveDir := ""
		if cfg.WAL.ArchiveDir != "" {
			archiveDir = filepath.Join(cfg.WAL.ArchiveDir, dirName)
		}
		walMgr, err := wal.NewManager(wal.Config{
			Dir:              filepath.Join(cfg.WAL.Dir, dirName),
			SegmentMaxBytes:  cfg.WAL.SegmentMaxBytes,
			SegmentMaxAge:    segmentMaxAge,
			SyncPolicy:       syncPolicy,
			SyncEveryN:       cfg.WAL.SyncEveryN,
			SyncEveryMs:      cfg.WAL.SyncEveryMs,
			ShardID:          int64(i),
			ArchiveDir:       archiveDir,
			CompressionLevel: cfg.WAL.CompressionLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("shard %d: open wal: %w", i, err)
		}

		idx := segment.NewIndex(storage, shardDir)
		if err := idx.Load(ctx); err != nil {
			return nil, fmt.Errorf("shard %d: load segment index: %w", i, err)
		}

		m.shards[i] = &Shard{
			ID:      i,
			Dir:     shardDir,
			Storage: storage,
			WAL:     walMgr,
			Memtables: memtable.NewSet(memtable.DefaultMaxPassive),
			Index:     idx,
			Flusher: &segment.Flusher{
				Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: rowsPerZone,
			},
			Compactor: &segment.Compactor{
				Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: rowsPerZone, K: segment.DefaultK,
			},
			Caches:      cache.NewHandles(storage, caps),
			Events:      events,
			RowsPerZone: rowsPerZone,
			state:       StateEmpty,
			nextEventID: m.nextEventID,
		}
	}
	return m, nil
}

func (m *Manager) nextEventID() common.EventID {
	return common.EventID(atomic.AddUint64(&m.eventSeq, 1))
}

// Route returns the shard that owns contextID (§3.1).
func (m *Manager) Route(contextID string) *Shard {
	h := xxh3.HashString(contextID)
	return m.shards[h%uint64(len(m.shards))]
}

// Shards returns every shard, in index order.
func (m *Manager) Shards() []*Shard {
	return append([]*Shard(nil), m.shards...)
}

// Shard returns the shard at index i.
func (m *Manager) Shard(i int) (*Shard, bool) {
	if i < 0 || i >= len(m.shards) {
		return nil, false
	}
	return m.shards[i], true
}

// Store routes e's fields to the owning shard and appends it there.
func (m *Manager) Store(ctx context.Context, eventType string, uid common.UID, contextID string, timestamp int64, payload map[string]schema.ScalarValue) (*schema.Event, error) {
	return m.Route(contextID).Store(ctx, eventType, uid, contextID, timestamp, payload)
}

// ReplayAll replays every shard's WAL into its memtable, run once at boot
// before the server accepts traffic (§4.2 component B).
func (m *Manager) ReplayAll(ctx context.Context, registry *schema.Registry) error {
	for _, sh := range m.shards {
		if _, err := sh.Replay(ctx, registry); err != nil {
			return fmt.Errorf("shard %d: replay: %w", sh.ID, err)
		}
	}
	return nil
}

// StartBackground starts every shard's background flush/compaction loop.
func (m *Manager) StartBackground(flushInterval, compactInterval time.Duration) {
	for _, sh := range m.shards {
		sh.StartBackground(flushInterval, compactInterval)
	}
}

// Close stops every shard's background work and closes its WAL.
func (m *Manager) Close() error {
	var firstErr error
	for _, sh := range m.shards {
		if err := sh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseSyncPolicy(s string) wal.SyncPolicy {
	switch s {
	case "always":
		return wal.SyncAlways
	case "every-n":
		return wal.SyncEveryN
	default:
		return wal.SyncEveryMs
	}
}
