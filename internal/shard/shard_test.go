package shard

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sneldb/internal/cache"
	"sneldb/internal/common"
	"sneldb/internal/memtable"
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
	"sneldb/internal/wal"
)

func testWALConfig(dir string) wal.Config {
	return wal.Config{
		Dir:             dir,
		SegmentMaxBytes: 1 << 20,
		SegmentMaxAge:   time.Hour,
		SyncPolicy:      wal.SyncEveryMs,
		SyncEveryMs:     1,
	}
}

// newTestShard builds a fully wired Shard directly against a temp-dir
// LocalFS, the way selector_test.go builds segments directly rather than
// through a higher-level constructor.
func newTestShard(t *testing.T, maxPassive int) *Shard {
	t.Helper()
	root := t.TempDir()

	storage, err := block.NewLocalFS(block.Config{BaseDir: root})
	require.NoError(t, err)

	shardDir := "shard0"
	walMgr, err := wal.NewManager(testWALConfig(filepath.Join(root, "wal0")))
	require.NoError(t, err)

	idx := segment.NewIndex(storage, shardDir)

	var seq uint64
	return &Shard{
		ID:          0,
		Dir:         shardDir,
		Storage:     storage,
		WAL:         walMgr,
		Memtables:   memtable.NewSet(maxPassive),
		Index:       idx,
		Flusher:     &segment.Flusher{Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: 4},
		Compactor:   &segment.Compactor{Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: 4, K: 4},
		Caches:      cache.NewHandles(storage, cache.Capacities{}),
		RowsPerZone: 4,
		nextEventID: func() common.EventID {
			return common.EventID(atomic.AddUint64(&seq, 1))
		},
		state: StateEmpty,
	}
}

func payload(amount int64) map[string]schema.ScalarValue {
	return map[string]schema.ScalarValue{"amount": schema.IntValue(amount)}
}

func TestShard_StoreThenFlushPersistsSegment(t *testing.T) {
	ctx := context.Background()
	sh := newTestShard(t, 2)

	const uid = common.UID(1)
	for i := 0; i < 10; i++ {
		_, err := sh.Store(ctx, "signup", uid, "ctx-a", int64(100+i), payload(int64(i)))
		require.NoError(t, err)
	}
	require.Equal(t, StateActive, sh.State())

	ids, err := sh.Flush(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	require.Equal(t, StateActive, sh.State())

	live := sh.Index.SegmentsFor(uid)
	require.Len(t, live, 1)

	stats := sh.WAL.GetStats()
	require.Equal(t, 1, stats.SegmentCount, "truncate leaves only the active wal segment")

	active, passives := sh.Memtables.Snapshot()
	require.Equal(t, 0, active.Len())
	require.Empty(t, passives)
}

func TestShard_BackpressureDrainsSynchronously(t *testing.T) {
	ctx := context.Background()
	sh := newTestShard(t, 1)

	const uid = common.UID(7)
	_, err := sh.Store(ctx, "signup", uid, "ctx-a", 1, payload(1))
	require.NoError(t, err)
	require.NotNil(t, sh.Memtables.Roll(), "prime exactly one passive memtable")
	require.Equal(t, 1, sh.Memtables.PassiveLen())

	_, err = sh.Store(ctx, "signup", uid, "ctx-a", 2, payload(2))
	require.NoError(t, err, "a full passive queue must drain via synchronous flush, not fail the caller")

	live := sh.Index.SegmentsFor(uid)
	require.NotEmpty(t, live, "the primed passive memtable must have been flushed")

	active, passives := sh.Memtables.Snapshot()
	require.Equal(t, 1, active.Len(), "the retried insert lands in the fresh active memtable")
	require.Empty(t, passives)
}

func TestShard_ReplayReconstructsEvents(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	walDir := filepath.Join(root, "wal0")

	storage, err := block.NewLocalFS(block.Config{BaseDir: root})
	require.NoError(t, err)

	shardDir := "shard0"
	idx := segment.NewIndex(storage, shardDir)
	walMgr, err := wal.NewManager(testWALConfig(walDir))
	require.NoError(t, err)

	var seq uint64
	sh := &Shard{
		ID: 0, Dir: shardDir, Storage: storage, WAL: walMgr,
		Memtables: memtable.NewSet(2), Index: idx,
		Flusher:   &segment.Flusher{Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: 4},
		Compactor: &segment.Compactor{Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: 4, K: 4},
		Caches:    cache.NewHandles(storage, cache.Capacities{}),
		nextEventID: func() common.EventID {
			return common.EventID(atomic.AddUint64(&seq, 1))
		},
	}

	const uid = common.UID(3)
	for i := 0; i < 3; i++ {
		_, err := sh.Store(ctx, "signup", uid, "ctx-a", int64(100+i), payload(int64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, sh.WAL.Close())

	registry := schema.NewRegistry(storage)
	require.NoError(t, registry.Define(ctx, "signup", 1, map[string]schema.LogicalType{"amount": schema.LogicalInteger}))

	reopened, err := wal.NewManager(testWALConfig(walDir))
	require.NoError(t, err)

	var freshSeq uint64
	fresh := &Shard{
		ID: 0, Dir: shardDir, Storage: storage, WAL: reopened,
		Memtables: memtable.NewSet(2), Index: idx,
		nextEventID: func() common.EventID {
			return common.EventID(atomic.AddUint64(&freshSeq, 1))
		},
	}

	_, err = fresh.Replay(ctx, registry)
	require.NoError(t, err)

	active, _ := fresh.Memtables.Snapshot()
	require.Equal(t, 3, active.Len())
}

func TestShard_ScanMergesMemtableAndSegment(t *testing.T) {
	ctx := context.Background()
	sh := newTestShard(t, 2)

	const uid = common.UID(9)
	for i := 0; i < 8; i++ {
		_, err := sh.Store(ctx, "signup", uid, "ctx-a", int64(100+i), payload(int64(i)))
		require.NoError(t, err)
	}
	_, err := sh.Flush(ctx)
	require.NoError(t, err)

	for i := 8; i < 12; i++ {
		_, err := sh.Store(ctx, "signup", uid, "ctx-a", int64(100+i), payload(int64(i)))
		require.NoError(t, err)
	}

	outSchema, err := flow.NewBatchSchema(
		flow.ColumnSpec{Name: "timestamp", LogicalType: schema.LogicalTimestamp},
		flow.ColumnSpec{Name: "amount", LogicalType: schema.LogicalInteger},
	)
	require.NoError(t, err)

	fc, ch, err := sh.Scan(ctx, uid, nil, outSchema, 4)
	require.NoError(t, err)

	var got []int64
	for batch := range ch {
		for _, e := range batch.Events {
			got = append(got, e.Timestamp)
		}
	}
	require.NoError(t, fc.Err())
	require.Len(t, got, 12)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], "within-shard ordering must be preserved across memtable and segment sources")
	}
}
