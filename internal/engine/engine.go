// Package engine defines the boundary between levelbind and the storage
// engines it adapts.
//
// An engine is an opaque collaborator reached only through handle-style calls:
// auxiliary resources (cache, filter, comparator, info log) are allocated as
// Resource values, attached to an Options value, and handed to Open, Destroy
// or Repair. The engine may keep references to every attached resource until
// the DB it opened is closed, so callers must not release resources before
// that point.
//
// This package is internal and not part of the public API.
package engine

import (
	"errors"
	"fmt"
	"sync"
)

// Errors shared by all engines. Backends translate their native errors into
// these so the public layer can classify them without knowing the backend.
var (
	// ErrNotFound is the engine-level "not found" tag.
	ErrNotFound = errors.New("engine: not found")

	// ErrUnsupported is returned when a backend cannot honour a resource or option.
	ErrUnsupported = errors.New("engine: unsupported")

	// ErrExists is returned by Open when ErrorIfExists is set and the database exists.
	ErrExists = errors.New("engine: database already exists")

	// ErrMissing is returned by Open when CreateIfMissing is unset and the database is absent.
	ErrMissing = errors.New("engine: database does not exist")

	// ErrForeignResource is returned when a Resource built by one engine is
	// attached to the Options of another.
	ErrForeignResource = errors.New("engine: resource belongs to another engine")
)

// Compression selects block compression inside the engine.
type Compression uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone Compression = iota
	// CompressionSnappy compresses blocks with snappy.
	CompressionSnappy
)

// String returns the option-file name of the compression type.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Comparator is the capability an engine calls back into to order keys.
type Comparator interface {
	// Compare returns a value < 0 if a < b, 0 if a == b, > 0 if a > b.
	Compare(a, b []byte) int

	// Name identifies the ordering. Engines persist it and refuse to reopen a
	// database under a different name.
	Name() string
}

// Sink receives informational messages emitted by the engine.
type Sink interface {
	Log(msg string)
}

// Resource is an engine-side object whose lifetime the caller manages.
// Release must be idempotent.
type Resource interface {
	Release()
}

// Options is the merged engine configuration. Numeric fields set to zero select
// the backend default. Resource fields are nil unless the caller attached them.
type Options struct {
	BlockSize            int
	BlockRestartInterval int
	CreateIfMissing      bool
	ErrorIfExists        bool
	MaxOpenFiles         int
	ParanoidChecks       bool
	WriteBufferSize      int
	ReuseLogs            bool
	MaxFileSize          int
	Compression          Compression

	// CacheCapacity mirrors the capacity the Cache resource was built with.
	CacheCapacity int64

	Cache      Resource
	Filter     Resource
	Comparator Resource
	InfoLog    Resource
}

// Engine is a storage engine backend.
type Engine interface {
	// Name returns the backend name used in Options files and the CLI.
	Name() string

	// NewCache allocates a block cache of the given capacity in bytes.
	NewCache(capacity int64) (Resource, error)

	// NewFilter allocates a bloom filter policy with the given bits per key.
	NewFilter(bitsPerKey int) (Resource, error)

	// NewComparator wraps cmp so the engine can call it.
	NewComparator(cmp Comparator) (Resource, error)

	// NewLogger wraps sink so the engine can log through it.
	NewLogger(sink Sink) (Resource, error)

	// Open opens (or creates) the database at path.
	Open(path string, opts *Options) (DB, error)

	// Destroy removes the database at path. The database must not be open.
	Destroy(path string, opts *Options) error

	// Repair attempts to recover a damaged database at path.
	Repair(path string, opts *Options) error
}

// Alloc returns a buffer of length n for the engine to copy a value into.
// A nil Alloc means heap allocation.
type Alloc func(n int) []byte

// Copy copies src into a buffer obtained from a. A nil src stays nil.
func (a Alloc) Copy(src []byte) []byte {
	if src == nil {
		return nil
	}
	var dst []byte
	if a == nil {
		dst = make([]byte, len(src))
	} else {
		dst = a(len(src))
	}
	copy(dst, src)
	return dst
}

// Reader is the read surface shared by a DB and its snapshots.
type Reader interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key []byte, alloc Alloc) ([]byte, error)

	// NewIterator returns an unpositioned iterator over the whole key space.
	NewIterator() (Iterator, error)
}

// OpKind is the kind of a batched write.
type OpKind uint8

const (
	// OpPut stores a value.
	OpPut OpKind = iota
	// OpDelete removes a key.
	OpDelete
)

// Op is one operation of an atomic batch.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// DB is an opened database.
type DB interface {
	Reader

	Put(key, value []byte, sync bool) error
	Delete(key []byte, sync bool) error

	// Write applies ops atomically.
	Write(ops []Op, sync bool) error

	// NewSnapshot pins the current state for consistent reads.
	NewSnapshot() (Snapshot, error)

	// Property returns a backend-specific property value.
	Property(name string) (string, bool)

	// Close releases the database. Resources attached at Open are not released.
	Close() error
}

// Snapshot is a consistent read view.
type Snapshot interface {
	Reader
	Release()
}

// Iterator is the cursor primitive every backend provides. Positioning
// methods report whether the iterator is valid afterwards. Key and Value are
// only valid until the next positioning call.
type Iterator interface {
	First() bool
	Last() bool
	Seek(key []byte) bool
	Next() bool
	Prev() bool
	Valid() bool
	Key() []byte
	Value() []byte

	// Error returns the error that invalidated the iterator, if any. An
	// error wrapping ErrNotFound means the key space was exhausted.
	Error() error

	Release()
}

// ReleaseFunc adapts a release function into an idempotent Resource.
type ReleaseFunc struct {
	once sync.Once
	fn   func()
}

// NewReleaseFunc returns a Resource calling fn at most once.
func NewReleaseFunc(fn func()) *ReleaseFunc {
	return &ReleaseFunc{fn: fn}
}

// Release calls the wrapped function the first time it is invoked.
func (r *ReleaseFunc) Release() {
	r.once.Do(func() {
		if r.fn != nil {
			r.fn()
		}
	})
}

// LogTo forwards msg to the Sink held by an InfoLog resource, if any.
// Backends use it for messages the native engine would not emit itself.
func LogTo(r Resource, msg string) {
	if s, ok := r.(Sink); ok {
		s.Log(msg)
	}
}
