package wal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentMaxBytes: 1 << 20,
		SegmentMaxAge:   time.Hour,
		SyncPolicy:      SyncAlways,
	}
}

func entry(eventType, contextID string, ts int64) *Entry {
	payload, _ := json.Marshal(map[string]any{"amount": ts})
	return &Entry{Timestamp: ts, EventType: eventType, ContextID: contextID, Payload: payload}
}

func TestManager_AppendThenReplayRoundTrips(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(entry("signup", "ctx-a", int64(i))))
	}
	require.NoError(t, m.Close())

	m2, err := NewManager(testConfig(dir))
	require.NoError(t, err)

	var replayed []*Entry
	stats, err := m2.Replay(func(e *Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), stats.TotalEntries)
	require.Len(t, replayed, 5)
	require.Equal(t, "signup", replayed[0].EventType)
}

func TestManager_RotateStartsFreshSegment(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	require.NoError(t, err)

	require.NoError(t, m.Append(entry("signup", "ctx-a", 1)))
	require.NoError(t, m.Rotate())
	require.NoError(t, m.Append(entry("signup", "ctx-a", 2)))

	stats := m.GetStats()
	require.Equal(t, 2, stats.SegmentCount)
}

func TestManager_TruncateKeepsOnlyActiveSegment(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	require.NoError(t, err)

	require.NoError(t, m.Append(entry("signup", "ctx-a", 1)))
	require.NoError(t, m.Rotate())
	require.NoError(t, m.Append(entry("signup", "ctx-a", 2)))

	require.NoError(t, m.Truncate())
	stats := m.GetStats()
	require.Equal(t, 1, stats.SegmentCount)
}

func TestManager_TruncateDropsFlushedEntriesFromReplay(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Append(entry("signup", "ctx-a", int64(i))))
	}
	require.NoError(t, m.Truncate())
	require.NoError(t, m.Close())

	m2, err := NewManager(testConfig(dir))
	require.NoError(t, err)
	stats, err := m2.Replay(func(e *Entry) error { return nil })
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.TotalEntries,
		"entries covered by a flush must not reappear on replay")
}

func TestManager_TruncateArchivesRetiredLogs(t *testing.T) {
	dir := t.TempDir()
	archiveDir := t.TempDir()
	cfg := testConfig(dir)
	cfg.ArchiveDir = archiveDir
	cfg.ShardID = 3
	cfg.CompressionLevel = 3

	m, err := NewManager(cfg)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, m.Append(entry("signup", "ctx-a", int64(i*100))))
	}
	require.NoError(t, m.Truncate())

	entries, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	header, body, err := ReadArchive(filepath.Join(archiveDir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, uint16(1), header.Version)
	require.Equal(t, int64(3), header.ShardID)
	require.Equal(t, int64(3), header.EntryCount)
	require.Equal(t, int64(100), header.StartTimestamp)
	require.Equal(t, int64(300), header.EndTimestamp)
	require.Len(t, body.Entries, 3)
	require.Equal(t, "signup", body.Entries[0].EventType)
}

func TestManager_ArchiveRequiresRotatedSegment(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.ArchiveDir = t.TempDir()

	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Append(entry("signup", "ctx-a", 1)))

	_, err = m.Archive(0)
	require.Error(t, err, "segment 0 is still the active segment")

	require.NoError(t, m.Rotate())
	path, err := m.Archive(0)
	require.NoError(t, err)
	require.FileExists(t, path)
}

func TestManager_ReplaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, m.Append(entry("signup", "ctx-a", 1)))
	require.NoError(t, m.Close())

	segPath := filepath.Join(dir, segmentFileName(0))
	f, err := os.OpenFile(segPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m2, err := NewManager(testConfig(dir))
	require.NoError(t, err)
	var count int
	stats, err := m2.Replay(func(e *Entry) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(1), stats.SkippedMalformed)
}

func TestManager_AppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	err = m.Append(entry("signup", "ctx-a", 1))
	require.Error(t, err)
}
