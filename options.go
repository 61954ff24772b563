package levelbind

// options.go implements database configuration options.

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/aalhour/levelbind/internal/engine"
)

// Backend names the storage engine a database is opened with.
type Backend string

// Backends provided by the default runtime.
const (
	// BackendLevelDB is goleveldb, the default.
	BackendLevelDB Backend = "leveldb"
	// BackendBadger is badger v4. Keys are ordered bytewise only.
	BackendBadger Backend = "badger"
	// BackendBbolt is bbolt. Keys are ordered bytewise only.
	BackendBbolt Backend = "bbolt"
	// BackendMemory is an in-process B-tree that does not touch the filesystem.
	BackendMemory Backend = "memory"
)

// String returns the backend name. The empty Backend reads as leveldb.
func (b Backend) String() string {
	if b == "" {
		return string(BackendLevelDB)
	}
	return string(b)
}

// Compression selects block compression inside the engine.
type Compression int

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone Compression = iota
	// CompressionSnappy compresses blocks with snappy.
	CompressionSnappy
)

// String returns "none" or "snappy".
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ParseCompression returns the compression named s.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("%w: unknown compression %q", ErrInvalidOptions, s)
	}
}

// MarshalYAML encodes the compression by name.
func (c Compression) MarshalYAML() ([]byte, error) {
	if c != CompressionNone && c != CompressionSnappy {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidOptions, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalYAML decodes a compression name.
func (c *Compression) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCompression(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Compression) engine() engine.Compression {
	if c == CompressionSnappy {
		return engine.CompressionSnappy
	}
	return engine.CompressionNone
}

// Options contains all configuration options for opening a database.
//
// Options is read, never modified, by Open, DestroyDB and RepairDB. The
// Comparator and Logger are captured by reference for the lifetime of the
// database and must stay usable until Close returns.
type Options struct {
	// Backend selects the storage engine.
	// Default: BackendLevelDB
	Backend Backend `yaml:"backend,omitempty"`

	// CreateIfMissing causes Open to create the database if it does not exist.
	CreateIfMissing bool `yaml:"create_if_missing"`

	// ErrorIfExists causes Open to return an error if the database already exists.
	ErrorIfExists bool `yaml:"error_if_exists"`

	// ParanoidChecks enables additional checks for data integrity.
	ParanoidChecks bool `yaml:"paranoid_checks"`

	// WriteBufferSize is the amount of data to build up in memory before
	// converting to a sorted on-disk file.
	// Default: 4MB
	WriteBufferSize int `yaml:"write_buffer_size"`

	// MaxOpenFiles is the number of files the engine may keep open.
	// Default: 1000
	MaxOpenFiles int `yaml:"max_open_files"`

	// BlockSize is the approximate size of user data packed per block.
	// Default: 4KB
	BlockSize int `yaml:"block_size"`

	// BlockRestartInterval is the number of keys between restart points for
	// delta encoding of keys.
	// Default: 16
	BlockRestartInterval int `yaml:"block_restart_interval"`

	// MaxFileSize is the target size of a sorted table file.
	// Default: 2MB
	MaxFileSize int `yaml:"max_file_size"`

	// ReuseLogs lets the engine append to an existing log on open instead of
	// starting a new one. Engines without the notion ignore it.
	ReuseLogs bool `yaml:"reuse_logs"`

	// Compression specifies the block compression.
	// Default: CompressionSnappy
	Compression Compression `yaml:"compression"`

	// CacheSize is the block cache capacity in bytes. 0 uses no dedicated cache.
	CacheSize int64 `yaml:"cache_size"`

	// BloomFilterBitsPerKey is the number of bits per key for bloom filters.
	// 0 disables bloom filters.
	BloomFilterBitsPerKey int `yaml:"bloom_filter_bits_per_key"`

	// Comparator defines the order of keys in the database.
	// If nil, the engine's bytewise order is used.
	Comparator Comparator `yaml:"-"`

	// Logger receives the engine's informational messages and levelbind's
	// own log lines. If nil, levelbind logs warnings to stderr and the engine
	// uses its default logging.
	Logger Logger `yaml:"-"`
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		Backend:              BackendLevelDB,
		CreateIfMissing:      true,
		ErrorIfExists:        false,
		ParanoidChecks:       false,
		WriteBufferSize:      4 * 1024 * 1024, // 4MB
		MaxOpenFiles:         1000,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		MaxFileSize:          2 * 1024 * 1024, // 2MB
		ReuseLogs:            false,
		Compression:          CompressionSnappy,
	}
}

// validate checks field ranges. It does not resolve the backend.
func (o *Options) validate() error {
	checks := []struct {
		name string
		v    int64
	}{
		{"write_buffer_size", int64(o.WriteBufferSize)},
		{"max_open_files", int64(o.MaxOpenFiles)},
		{"block_size", int64(o.BlockSize)},
		{"block_restart_interval", int64(o.BlockRestartInterval)},
		{"max_file_size", int64(o.MaxFileSize)},
		{"cache_size", o.CacheSize},
		{"bloom_filter_bits_per_key", int64(o.BloomFilterBitsPerKey)},
	}
	for _, c := range checks {
		if c.v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidOptions, c.name, c.v)
		}
	}
	if o.Compression != CompressionNone && o.Compression != CompressionSnappy {
		return fmt.Errorf("%w: unknown compression %d", ErrInvalidOptions, int(o.Compression))
	}
	return nil
}

// ReadOptions controls read operations.
type ReadOptions struct {
	// Snapshot, if set, reads from the snapshot instead of the current state.
	Snapshot *Snapshot

	// Arena, if set, receives the values returned by Get and the entries
	// returned by Iterator.Next and Iterator.Prev. They stay valid until the
	// arena frame open at the time of the call is popped.
	Arena *Arena
}

// DefaultReadOptions returns default read options.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{}
}

// WriteOptions controls write operations.
type WriteOptions struct {
	// Sync flushes the write to stable storage before returning.
	Sync bool
}

// DefaultWriteOptions returns default write options.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}
