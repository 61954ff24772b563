package levelbind

// db.go implements the database handle.
//
// A DB owns one engine database and the resource bundle it was opened with.
// Close tears down in reverse dependency order: open iterators, open
// snapshots, the engine database, then the bundle.

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/logging"
)

// Properties answered by levelbind itself. Any other name is passed to the
// engine, e.g. "leveldb.stats" or "bbolt.keys".
const (
	PropertyBackend       = "levelbind.backend"
	PropertyComparator    = "levelbind.comparator"
	PropertyID            = "levelbind.id"
	PropertyOpenIterators = "levelbind.open-iterators"
	PropertyOpenSnapshots = "levelbind.open-snapshots"
)

// DB is an open database. It is safe for concurrent use, except that each
// Iterator must be used by one goroutine at a time.
type DB struct {
	id      uuid.UUID
	path    string
	backend Backend
	cmpName string
	edb     engine.DB
	bundle  *resourceBundle
	log     logging.Logger

	mu     sync.RWMutex
	closed bool
	iters  map[*Iterator]struct{}
	snaps  map[*Snapshot]struct{}
}

func newDB(path string, opts *Options, edb engine.DB, bundle *resourceBundle, log logging.Logger) *DB {
	return &DB{
		id:      uuid.Must(uuid.NewV4()),
		path:    path,
		backend: Backend(opts.Backend.String()),
		cmpName: comparatorName(opts),
		edb:     edb,
		bundle:  bundle,
		log:     log,
		iters:   make(map[*Iterator]struct{}),
		snaps:   make(map[*Snapshot]struct{}),
	}
}

// ID returns the random identifier of this handle.
func (db *DB) ID() string { return db.id.String() }

// Path returns the path the database was opened at.
func (db *DB) Path() string { return db.path }

// Backend returns the backend the database was opened with.
func (db *DB) Backend() Backend { return db.backend }

func allocator(ro *ReadOptions) engine.Alloc {
	if ro == nil || ro.Arena == nil {
		return nil
	}
	return ro.Arena.Alloc
}

// reader returns the engine view ro reads from. The caller holds db.mu.
func (db *DB) reader(ro *ReadOptions) (engine.Reader, *Snapshot, error) {
	if db.closed {
		return nil, nil, ErrClosed
	}
	if ro == nil || ro.Snapshot == nil {
		return db.edb, nil, nil
	}
	s := ro.Snapshot
	if s.db != db {
		return nil, nil, fmt.Errorf("%w: snapshot belongs to another database", ErrInvalidOptions)
	}
	if s.released.Load() {
		return nil, nil, fmt.Errorf("snapshot: %w", ErrClosed)
	}
	return s.es, s, nil
}

// Get returns the value for key, or ErrNotFound.
func (db *DB) Get(ro *ReadOptions, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, _, err := db.reader(ro)
	if err != nil {
		return nil, err
	}
	v, err := r.Get(key, allocator(ro))
	return v, translateError(err)
}

func syncWrites(wo *WriteOptions) bool { return wo != nil && wo.Sync }

// Put stores value under key.
func (db *DB) Put(wo *WriteOptions, key, value []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return translateError(db.edb.Put(key, value, syncWrites(wo)))
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(wo *WriteOptions, key []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return translateError(db.edb.Delete(key, syncWrites(wo)))
}

// Write applies every operation of wb atomically.
func (db *DB) Write(wo *WriteOptions, wb *WriteBatch) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	if wb == nil || wb.Count() == 0 {
		return nil
	}
	return translateError(db.edb.Write(wb.ops, syncWrites(wo)))
}

// NewIterator returns an unpositioned iterator over the database, or over
// ro.Snapshot when one is set.
func (db *DB) NewIterator(ro *ReadOptions) (*Iterator, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, snap, err := db.reader(ro)
	if err != nil {
		return nil, err
	}
	eit, err := r.NewIterator()
	if err != nil {
		return nil, &CursorError{Op: "NewIterator", Err: err}
	}
	it := newIterator(db, snap, eit, allocator(ro))
	db.iters[it] = struct{}{}
	return it, nil
}

// GetSnapshot pins the current state of the database.
func (db *DB) GetSnapshot() (*Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	es, err := db.edb.NewSnapshot()
	if err != nil {
		return nil, err
	}
	s := newSnapshot(db, es)
	db.snaps[s] = struct{}{}
	return s, nil
}

// ReleaseSnapshot releases s. It is the same as s.Release.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	if s != nil {
		s.Release()
	}
}

func (db *DB) releaseSnapshot(s *Snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	for it := range db.iters {
		if it.snap == s {
			it.release()
			delete(db.iters, it)
		}
	}
	delete(db.snaps, s)
	s.es.Release()
}

func (db *DB) forget(it *Iterator) {
	db.mu.Lock()
	delete(db.iters, it)
	db.mu.Unlock()
}

// GetProperty returns the value of a database property.
func (db *DB) GetProperty(name string) (string, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return "", false
	}
	switch name {
	case PropertyBackend:
		return string(db.backend), true
	case PropertyComparator:
		return db.cmpName, true
	case PropertyID:
		return db.ID(), true
	case PropertyOpenIterators:
		return strconv.Itoa(len(db.iters)), true
	case PropertyOpenSnapshots:
		return strconv.Itoa(len(db.snaps)), true
	}
	return db.edb.Property(name)
}

// Close closes open iterators and snapshots, closes the engine database and
// releases the resources it was opened with. Calls after the first return nil.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	if n := len(db.iters) + len(db.snaps); n > 0 {
		db.log.Warnf(logging.NSDB+"%s: closing with %d iterators and %d snapshots open",
			db.id, len(db.iters), len(db.snaps))
	}
	for it := range db.iters {
		it.release()
	}
	for s := range db.snaps {
		if s.released.CompareAndSwap(false, true) {
			s.es.Release()
		}
	}
	clear(db.iters)
	clear(db.snaps)

	err := db.edb.Close()
	db.bundle.release()
	if err != nil {
		db.log.Errorf(logging.NSDB+"%s: close %s: %v", db.id, db.path, err)
		return fmt.Errorf("levelbind: close %s: %w", db.path, err)
	}
	db.log.Infof(logging.NSDB+"%s: closed %s", db.id, db.path)
	return nil
}
