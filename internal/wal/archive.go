package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"sneldb/internal/common"
)

// archiveVersion is the only ArchiveHeader.Version this build understands
// (§6.3). A mismatch fails closed rather than guessing at a future format.
const archiveVersion = uint16(1)

// ArchiveHeader describes an archived WAL segment's provenance, written
// MessagePack-encoded ahead of the (also MessagePack-encoded) body, the
// pair together zstd-compressed (§6.3).
type ArchiveHeader struct {
	Version          uint16 `msgpack:"version"`
	ShardID          int64  `msgpack:"shard_id"`
	LogID            uint64 `msgpack:"log_id"`
	EntryCount       int64  `msgpack:"entry_count"`
	StartTimestamp   int64  `msgpack:"start_ts"`
	EndTimestamp     int64  `msgpack:"end_ts"`
	CreatedAt        int64  `msgpack:"created_at"`
	Compression      string `msgpack:"compression"`
	CompressionLevel int    `msgpack:"compression_level"`
}

// ArchiveBody holds the archived entries themselves.
type ArchiveBody struct {
	Entries []*Entry `msgpack:"entries"`
}

// archiveFileName returns "wal-<NNNNN>-<start_ts>-<end_ts>.wal.zst" for the
// given segment sequence and timestamp bounds, per §6.3.
func archiveFileName(seq uint64, startTS, endTS int64) string {
	return fmt.Sprintf("wal-%05d-%d-%d.wal.zst", seq, startTS, endTS)
}

// ArchiveSegment reads every entry out of an already-fsynced, closed
// segment file and writes a compressed archive next to it in archiveDir.
// The segment is only removed by the caller after this function returns
// successfully and the archive has been read back and verified (§4.2
// "archive compresses+deletes only after fsync+verify").
func ArchiveSegment(seg *Segment, archiveDir string, shardID int64, compressionLevel int) (string, error) {
	reader, err := NewSegmentReader(seg.Path())
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var entries []*Entry
	var startTS, endTS int64
	for {
		e, err := reader.Next()
		if err != nil {
			return "", fmt.Errorf("read segment for archive: %w", err)
		}
		if e == nil {
			break
		}
		if startTS == 0 || e.Timestamp < startTS {
			startTS = e.Timestamp
		}
		if e.Timestamp > endTS {
			endTS = e.Timestamp
		}
		entries = append(entries, e)
	}

	header := ArchiveHeader{
		Version:          archiveVersion,
		ShardID:          shardID,
		LogID:            seg.Seq(),
		EntryCount:       int64(len(entries)),
		StartTimestamp:   startTS,
		EndTimestamp:     endTS,
		CreatedAt:        time.Now().Unix(),
		Compression:      "zstd",
		CompressionLevel: compressionLevel,
	}
	body := ArchiveBody{Entries: entries}

	headerBytes, err := msgpack.Marshal(&header)
	if err != nil {
		return "", fmt.Errorf("marshal archive header: %w", err)
	}
	bodyBytes, err := msgpack.Marshal(&body)
	if err != nil {
		return "", fmt.Errorf("marshal archive body: %w", err)
	}

	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	path := filepath.Join(archiveDir, archiveFileName(seg.Seq(), startTS, endTS))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	level := zstd.EncoderLevelFromZstd(clampLevel(compressionLevel))
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(level))
	if err != nil {
		f.Close()
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}

	headerLen := uint32(len(headerBytes))
	if err := writeUint32(enc, headerLen); err != nil {
		enc.Close()
		f.Close()
		return "", err
	}
	if _, err := enc.Write(headerBytes); err != nil {
		enc.Close()
		f.Close()
		return "", fmt.Errorf("write archive header: %w", err)
	}
	if _, err := enc.Write(bodyBytes); err != nil {
		enc.Close()
		f.Close()
		return "", fmt.Errorf("write archive body: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("close zstd encoder: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("fsync archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if _, _, err := ReadArchive(path); err != nil {
		return "", fmt.Errorf("verify archive after write: %w", err)
	}
	return path, nil
}

// ReadArchive decompresses and decodes an archived WAL file, rejecting any
// header whose Version is not the one this build understands (§6.3).
func ReadArchive(path string) (*ArchiveHeader, *ArchiveBody, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	headerLen, err := readUint32(dec)
	if err != nil {
		return nil, nil, fmt.Errorf("read archive header length: %w", err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(dec, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("read archive header: %w", err)
	}

	var header ArchiveHeader
	if err := msgpack.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("decode archive header: %w", err)
	}
	if header.Version != archiveVersion {
		return nil, nil, common.ErrUnsupportedArchiveVersionError(header.Version)
	}

	rest, err := io.ReadAll(dec)
	if err != nil {
		return nil, nil, fmt.Errorf("read archive body: %w", err)
	}
	var body ArchiveBody
	if err := msgpack.Unmarshal(rest, &body); err != nil {
		return nil, nil, fmt.Errorf("decode archive body: %w", err)
	}
	return &header, &body, nil
}

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 19 {
		return 19
	}
	return level
}

func writeUint32(w io.Writer, v uint32) error {
	buf := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	_, err := w.Write(buf)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}
