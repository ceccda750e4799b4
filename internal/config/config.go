package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the single frozen configuration snapshot loaded at process
// start (§6.6: "no implicit global mutability; all shared state is held
// behind well-typed handles"). It covers the keys listed in §6.5 plus the
// data directory, WAL directory/sync settings, and the auth and messaging
// sections.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	WAL       WALConfig       `json:"wal"`
	Query     QueryConfig     `json:"query"`
	Cache     CacheConfig     `json:"cache"`
	Auth      AuthConfig      `json:"auth"`
	Messaging MessagingConfig `json:"messaging"`
}

// ServerConfig holds the frontend listen endpoints (§6.5). The core treats
// these as opaque addresses handed to the out-of-scope frontends.
type ServerConfig struct {
	TCPAddr  string `json:"tcp_addr"`
	HTTPAddr string `json:"http_addr"`
	UnixPath string `json:"unix_path"`
}

// EngineConfig holds the shard pool and zone sizing parameters (§6.5).
type EngineConfig struct {
	Shards      int    `json:"shards"`
	RowsPerZone int64  `json:"rows_per_zone"`
	DataDir     string `json:"data_dir"`
}

// WALConfig holds write-ahead log and archive parameters (§6.2, §6.3, §6.5).
type WALConfig struct {
	Dir              string `json:"dir"`
	SegmentMaxBytes  int64  `json:"segment_max_bytes"`
	SegmentMaxAge    string `json:"segment_max_age"`
	SyncPolicy       string `json:"sync_policy"` // "always", "every-n", "every-ms"
	SyncEveryN       int    `json:"sync_every_n"`
	SyncEveryMs      int    `json:"sync_every_ms"`
	ArchiveDir       string `json:"archive_dir"`
	CompressionLevel int    `json:"compression_level"` // zstd level 1-19
}

// QueryConfig holds the streaming pipeline's output shaping knobs (§6.5).
type QueryConfig struct {
	StreamingEnabled   bool `json:"streaming_enabled"`
	StreamingBatchSize int  `json:"streaming_batch_size"` // 0 = per-row
}

// CacheConfig holds byte-bounded capacities for the six caches named in
// §3.8 and §5 (column handle, zone SuRF, zone index, index catalog, column
// block, zone XOR).
type CacheConfig struct {
	ColumnHandleBytes int64 `json:"column_handle_bytes"`
	ZoneSurfBytes     int64 `json:"zone_surf_bytes"`
	ZoneIndexBytes    int64 `json:"zone_index_bytes"`
	IndexCatalogBytes int64 `json:"index_catalog_bytes"`
	ColumnBlockBytes  int64 `json:"column_block_bytes"`
	ZoneXorBytes      int64 `json:"zone_xor_bytes"`
}

// AuthConfig configures the JWT-based authenticator used by CREATE
// USER/GRANT/REVOKE (out of core scope, but the core validates claims
// presented to it — see internal/auth).
type AuthConfig struct {
	Enabled     bool   `json:"enabled"`
	JWTSecret   string `json:"jwt_secret"`
	TokenExpiry string `json:"token_expiry"`
}

// MessagingConfig configures the in-process lifecycle-event bus
// (internal/messaging), used to announce flush/compaction/schema-evolution
// events to in-process observers. Not part of the specified core; kept as
// the ambient operability surface.
type MessagingConfig struct {
	Enabled      bool `json:"enabled"`
	HistoryLimit int  `json:"history_limit"`
}

// defaultRowsPerZone mirrors the zone size default named in §3.6.
const defaultRowsPerZone = 8192

// Load builds a Config from environment variables, falling back to the
// defaults named in §6.5.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			TCPAddr:  getEnvString("SNELDB_TCP_ADDR", "0.0.0.0:7878"),
			HTTPAddr: getEnvString("SNELDB_HTTP_ADDR", "0.0.0.0:7879"),
			UnixPath: getEnvString("SNELDB_UNIX_PATH", ""),
		},
		Engine: EngineConfig{
			Shards:      getEnvInt("SNELDB_SHARDS", 8),
			RowsPerZone: getEnvInt64("SNELDB_ROWS_PER_ZONE", defaultRowsPerZone),
			DataDir:     getEnvString("SNELDB_DATA_DIR", "./data"),
		},
		WAL: WALConfig{
			Dir:              getEnvString("SNELDB_WAL_DIR", "./data/wal"),
			SegmentMaxBytes:  getEnvInt64("SNELDB_WAL_SEGMENT_MAX_BYTES", 256*1024*1024),
			SegmentMaxAge:    getEnvString("SNELDB_WAL_SEGMENT_MAX_AGE", "24h"),
			SyncPolicy:       getEnvString("SNELDB_WAL_SYNC_POLICY", "every-ms"),
			SyncEveryN:       getEnvInt("SNELDB_WAL_SYNC_EVERY_N", 1),
			SyncEveryMs:      getEnvInt("SNELDB_WAL_SYNC_EVERY_MS", 5),
			ArchiveDir:       getEnvString("SNELDB_WAL_ARCHIVE_DIR", "./data/archive"),
			CompressionLevel: getEnvInt("SNELDB_WAL_COMPRESSION_LEVEL", 3),
		},
		Query: QueryConfig{
			StreamingEnabled:   getEnvBool("SNELDB_QUERY_STREAMING_ENABLED", true),
			StreamingBatchSize: getEnvInt("SNELDB_QUERY_STREAMING_BATCH_SIZE", 1024),
		},
		Cache: CacheConfig{
			ColumnHandleBytes: getEnvInt64("SNELDB_CACHE_COLUMN_HANDLE_BYTES", 64*1024*1024),
			ZoneSurfBytes:     getEnvInt64("SNELDB_CACHE_ZONE_SURF_BYTES", 32*1024*1024),
			ZoneIndexBytes:    getEnvInt64("SNELDB_CACHE_ZONE_INDEX_BYTES", 16*1024*1024),
			IndexCatalogBytes: getEnvInt64("SNELDB_CACHE_INDEX_CATALOG_BYTES", 8*1024*1024),
			ColumnBlockBytes:  getEnvInt64("SNELDB_CACHE_COLUMN_BLOCK_BYTES", 256*1024*1024),
			ZoneXorBytes:      getEnvInt64("SNELDB_CACHE_ZONE_XOR_BYTES", 32*1024*1024),
		},
		Auth: AuthConfig{
			Enabled:     getEnvBool("SNELDB_AUTH_ENABLED", true),
			JWTSecret:   getEnvString("SNELDB_JWT_SECRET", "change-me"),
			TokenExpiry: getEnvString("SNELDB_TOKEN_EXPIRY", "24h"),
		},
		Messaging: MessagingConfig{
			Enabled:      getEnvBool("SNELDB_MESSAGING_ENABLED", true),
			HistoryLimit: getEnvInt("SNELDB_MESSAGING_HISTORY_LIMIT", 1024),
		},
	}

	return cfg, cfg.Validate()
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// String returns a pretty-printed JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks invariants on the loaded configuration.
func (c *Config) Validate() error {
	if c.Engine.Shards <= 0 {
		return fmt.Errorf("invalid engine.shards: %d", c.Engine.Shards)
	}
	if c.Engine.RowsPerZone <= 0 {
		return fmt.Errorf("invalid engine.rows_per_zone: %d", c.Engine.RowsPerZone)
	}
	if c.WAL.CompressionLevel < 1 || c.WAL.CompressionLevel > 19 {
		return fmt.Errorf("invalid wal.compression_level: %d (must be 1-19)", c.WAL.CompressionLevel)
	}
	return nil
}
