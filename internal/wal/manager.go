package wal

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

var segmentNameRe = regexp.MustCompile(`^wal-(\d+)\.log$`)

// Manager owns one shard's WAL directory: a sequence of segment files, a
// current segment accepting appends, and rotation/replay/archive
// operations (§4.2). One Manager is owned by exactly one shard.
type Manager struct {
	mu         sync.Mutex
	config     Config
	segments   []*Segment
	current    *Segment
	nextSeq    uint64
	closed     bool
	sinceSync  int
	lastSync   time.Time
}

// NewManager opens (creating if absent) the WAL directory at config.Dir,
// loading any existing segments and opening a fresh one for appends.
func NewManager(config Config) (*Manager, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	m := &Manager{config: config}
	if err := m.loadSegments(); err != nil {
		return nil, err
	}

	seg, err := CreateSegment(config.Dir, m.nextSeq)
	if err != nil {
		return nil, err
	}
	m.nextSeq++
	m.segments = append(m.segments, seg)
	m.current = seg
	m.lastSync = time.Now()
	return m, nil
}

func (m *Manager) loadSegments() error {
	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		return fmt.Errorf("read wal dir: %w", err)
	}

	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := segmentNameRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		seq, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		seg, err := OpenSegment(m.config.Dir, seq)
		if err != nil {
			return err
		}
		seg.Close()
		m.segments = append(m.segments, seg)
		if seq >= m.nextSeq {
			m.nextSeq = seq + 1
		}
	}
	return nil
}

// Append writes one entry to the current segment and fsyncs according to
// the configured SyncPolicy, returning only after the fsync (when
// required) completes (§4.2).
func (m *Manager) Append(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("wal manager closed")
	}

	if err := m.maybeRotateLocked(); err != nil {
		return err
	}

	if _, err := m.current.Append(e); err != nil {
		return err
	}
	m.sinceSync++

	switch m.config.SyncPolicy {
	case SyncAlways:
		return m.syncLocked()
	case SyncEveryN:
		n := m.config.SyncEveryN
		if n <= 0 {
			n = 1
		}
		if m.sinceSync >= n {
			return m.syncLocked()
		}
	case SyncEveryMs:
		interval := time.Duration(m.config.SyncEveryMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Millisecond
		}
		if time.Since(m.lastSync) >= interval {
			return m.syncLocked()
		}
	}
	return nil
}

func (m *Manager) syncLocked() error {
	if err := m.current.Sync(); err != nil {
		return err
	}
	m.sinceSync = 0
	m.lastSync = time.Now()
	return nil
}

func (m *Manager) maybeRotateLocked() error {
	if m.current.Size() >= m.config.SegmentMaxBytes && m.config.SegmentMaxBytes > 0 {
		return m.rotateLocked()
	}
	if m.config.SegmentMaxAge > 0 && m.current.Age() >= m.config.SegmentMaxAge {
		return m.rotateLocked()
	}
	return nil
}

// Rotate closes the current segment and opens a new one (§4.2), triggered
// by byte size, age, or this explicit call.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *Manager) rotateLocked() error {
	if err := m.current.Close(); err != nil {
		return fmt.Errorf("close wal segment on rotate: %w", err)
	}
	seg, err := CreateSegment(m.config.Dir, m.nextSeq)
	if err != nil {
		return err
	}
	m.nextSeq++
	m.segments = append(m.segments, seg)
	m.current = seg
	m.sinceSync = 0
	return nil
}

// Replay reads every WAL segment in order, invoking fn for each
// well-formed entry. Malformed and blank lines are skipped; a short read
// at EOF is tolerated as a truncated crash tail (§4.2).
func (m *Manager) Replay(fn func(*Entry) error) (Stats, error) {
	m.mu.Lock()
	segments := append([]*Segment(nil), m.segments...)
	m.mu.Unlock()

	stats := Stats{SegmentCount: len(segments)}
	for _, seg := range segments {
		reader, err := NewSegmentReader(seg.Path())
		if err != nil {
			return stats, err
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				reader.Close()
				return stats, err
			}
			if entry == nil {
				break
			}
			stats.TotalEntries++
			if err := fn(entry); err != nil {
				reader.Close()
				return stats, err
			}
		}
		stats.SkippedMalformed += reader.Skipped()
		stats.TotalBytes += seg.Size()
		reader.Close()
	}
	if m.current != nil {
		stats.ActiveSegment = filepath.Base(m.current.Path())
	}
	return stats, nil
}

// GetStats returns a snapshot of manager counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, s := range m.segments {
		total += s.Size()
	}
	return Stats{
		ActiveSegment: filepath.Base(m.current.Path()),
		SegmentCount:  len(m.segments),
		TotalBytes:    total,
	}
}

// Truncate retires every segment covering already-flushed entries, called
// after a successful FLUSH has durably persisted everything the WAL covers
// (§8.1 "Flush durability"). The current segment is rotated first so its
// entries — which the flush also covered — are retired with the rest; a
// replay after Truncate must see none of them, or a restart would
// re-insert events that already live in segments. Retired logs are
// archived before removal when an archive directory is configured; an
// archival failure leaves that log in place (§4.2 failure model) rather
// than failing the flush that triggered it.
func (m *Manager) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.rotateLocked(); err != nil {
		return err
	}

	kept := []*Segment{m.current}
	for _, seg := range m.segments {
		if seg == m.current {
			continue
		}
		seg.Close()
		if err := m.retireLocked(seg); err != nil {
			log.Printf("wal: keeping %s after failed archive: %v", seg.Path(), err)
			kept = append(kept, seg)
		}
	}
	m.segments = kept
	return nil
}

// retireLocked archives seg (when configured) and then removes it.
func (m *Manager) retireLocked(seg *Segment) error {
	if m.config.ArchiveDir != "" {
		if _, err := ArchiveSegment(seg, m.config.ArchiveDir, m.config.ShardID, m.config.CompressionLevel); err != nil {
			return err
		}
	}
	if err := os.Remove(seg.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove wal segment: %w", err)
	}
	return nil
}

// Archive compresses the retired log with sequence number logID into the
// configured archive directory and deletes the original, only after the
// archive has been fsync'd and read back (§4.2 archive(log_id)). The
// current segment cannot be archived; rotate first.
func (m *Manager) Archive(logID uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.ArchiveDir == "" {
		return "", fmt.Errorf("wal: no archive directory configured")
	}
	for i, seg := range m.segments {
		if seg.Seq() != logID {
			continue
		}
		if seg == m.current {
			return "", fmt.Errorf("wal: segment %d is still active, rotate before archiving", logID)
		}
		seg.Close()
		path, err := ArchiveSegment(seg, m.config.ArchiveDir, m.config.ShardID, m.config.CompressionLevel)
		if err != nil {
			return "", err
		}
		if err := os.Remove(seg.Path()); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("remove archived wal segment: %w", err)
		}
		m.segments = append(m.segments[:i], m.segments[i+1:]...)
		return path, nil
	}
	return "", fmt.Errorf("wal: no segment with log id %d", logID)
}

// Close flushes and closes every open segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.current.Close()
}
