package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// segmentFileName returns "wal-<NNNNN>.log" for the given sequence number,
// per §3.4.
func segmentFileName(seq uint64) string {
	return fmt.Sprintf("wal-%05d.log", seq)
}

// Segment is one WAL file: a sequence of newline-terminated JSON lines
// (§6.2). Appends are buffered and fsync'd according to the configured
// SyncPolicy.
type Segment struct {
	mu        sync.Mutex
	seq       uint64
	path      string
	file      *os.File
	writer    *bufio.Writer
	size      int64
	createdAt time.Time
	appends   int
	closed    bool
}

// CreateSegment creates a new, empty WAL segment file.
func CreateSegment(dir string, seq uint64) (*Segment, error) {
	path := filepath.Join(dir, segmentFileName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create wal segment: %w", err)
	}
	return &Segment{
		seq:       seq,
		path:      path,
		file:      f,
		writer:    bufio.NewWriter(f),
		createdAt: time.Now(),
	}, nil
}

// OpenSegment opens an existing WAL segment for appending (used on replay
// when the last segment was not rotated cleanly).
func OpenSegment(dir string, seq uint64) (*Segment, error) {
	path := filepath.Join(dir, segmentFileName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Segment{
		seq:       seq,
		path:      path,
		file:      f,
		writer:    bufio.NewWriter(f),
		size:      info.Size(),
		createdAt: info.ModTime(),
	}, nil
}

// Append writes one entry as a newline-terminated JSON line. Fsync
// behavior is governed by policy; Manager decides when to call Sync.
func (s *Segment) Append(e *Entry) (n int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("wal segment %s is closed", s.path)
	}

	data, err := e.Marshal()
	if err != nil {
		return 0, fmt.Errorf("marshal wal entry: %w", err)
	}
	data = append(data, '\n')

	written, err := s.writer.Write(data)
	if err != nil {
		return 0, fmt.Errorf("append wal entry: %w", err)
	}
	s.size += int64(written)
	s.appends++
	return int64(written), nil
}

// Sync flushes buffered writes and fsyncs the file.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush wal segment: %w", err)
	}
	return s.file.Sync()
}

// Close flushes, fsyncs, and closes the segment file.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Segment) Age() time.Duration {
	return time.Since(s.createdAt)
}

func (s *Segment) Path() string { return s.path }
func (s *Segment) Seq() uint64  { return s.seq }

// SegmentReader scans a segment file line by line, tolerating malformed
// and blank lines (§4.2: "skips blank and malformed lines without failing
// the shard") and a truncated final line at EOF (a crash tail).
type SegmentReader struct {
	file    *os.File
	scanner *bufio.Scanner
	skipped int64
}

// NewSegmentReader opens path for sequential replay.
func NewSegmentReader(path string) (*SegmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wal segment for replay: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &SegmentReader{file: f, scanner: scanner}, nil
}

// Next returns the next well-formed entry, or (nil, nil) at EOF. Malformed
// or blank lines are skipped and counted rather than returned as errors.
func (r *SegmentReader) Next() (*Entry, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry, err := UnmarshalEntry(line)
		if err != nil {
			r.skipped++
			continue
		}
		return entry, nil
	}
	// bufio.Scanner swallows io.EOF; a truncated final line (no trailing
	// newline written before a crash) is simply the scanner's last token,
	// already handled above, or absent entirely — both are tolerated.
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan wal segment: %w", err)
	}
	return nil, nil
}

func (r *SegmentReader) Skipped() int64 { return r.skipped }

func (r *SegmentReader) Close() error {
	return r.file.Close()
}
