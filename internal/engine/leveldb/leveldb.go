// Package leveldb adapts github.com/syndtr/goleveldb to the engine boundary.
//
// Resource mapping:
//
//	Cache      -> opt.Options.BlockCacher (LRU) + BlockCacheCapacity
//	Filter     -> opt.Options.Filter (filter.NewBloomFilter)
//	Comparator -> opt.Options.Comparer (forwarding comparer.Comparer)
//	InfoLog    -> storage.Storage whose Log method forwards to the sink
//
// goleveldb has no reuse-logs option; it is accepted and ignored.
package leveldb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/cache"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/levelbind/internal/engine"
)

// Name is the backend name.
const Name = "leveldb"

// currentFile marks an existing database directory.
const currentFile = "CURRENT"

// Engine is the goleveldb backend. The zero value is ready to use.
type Engine struct{}

// New returns the goleveldb backend.
func New() *Engine { return &Engine{} }

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// lruCacher is the cache resource. goleveldb builds the cache itself from the
// Cacher when the DB opens and closes it with the DB; the resource owns the
// factory, which must stay valid while the DB is open.
type lruCacher struct {
	capacity int
	released atomic.Bool
}

func (c *lruCacher) New(capacity int) cache.Cacher {
	return cache.NewLRU(capacity)
}

func (c *lruCacher) Release() { c.released.Store(true) }

// NewCache implements engine.Engine.
func (e *Engine) NewCache(capacity int64) (engine.Resource, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("leveldb: invalid cache capacity %d", capacity)
	}
	if capacity > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("leveldb: cache capacity %d overflows int", capacity)
	}
	return &lruCacher{capacity: int(capacity)}, nil
}

type bloomFilter struct {
	filter.Filter
	released atomic.Bool
}

func (f *bloomFilter) Release() { f.released.Store(true) }

// NewFilter implements engine.Engine.
func (e *Engine) NewFilter(bitsPerKey int) (engine.Resource, error) {
	if bitsPerKey <= 0 {
		return nil, fmt.Errorf("leveldb: invalid bloom bits per key %d", bitsPerKey)
	}
	return &bloomFilter{Filter: filter.NewBloomFilter(bitsPerKey)}, nil
}

// forwardingComparer forwards Compare and Name to the caller's comparator.
// It never shortens keys, which is always a valid comparer.Comparer answer.
type forwardingComparer struct {
	cmp      engine.Comparator
	released atomic.Bool
}

var _ comparer.Comparer = (*forwardingComparer)(nil)

func (c *forwardingComparer) Compare(a, b []byte) int { return c.cmp.Compare(a, b) }
func (c *forwardingComparer) Name() string            { return c.cmp.Name() }

func (c *forwardingComparer) Separator(dst, a, b []byte) []byte { return nil }
func (c *forwardingComparer) Successor(dst, b []byte) []byte    { return nil }

func (c *forwardingComparer) Release() { c.released.Store(true) }

// NewComparator implements engine.Engine.
func (e *Engine) NewComparator(cmp engine.Comparator) (engine.Resource, error) {
	if cmp == nil {
		return nil, errors.New("leveldb: nil comparator")
	}
	return &forwardingComparer{cmp: cmp}, nil
}

type infoLog struct {
	sink     engine.Sink
	released atomic.Bool
}

func (l *infoLog) Log(msg string) {
	if !l.released.Load() {
		l.sink.Log(msg)
	}
}

func (l *infoLog) Release() { l.released.Store(true) }

// NewLogger implements engine.Engine.
func (e *Engine) NewLogger(sink engine.Sink) (engine.Resource, error) {
	if sink == nil {
		return nil, errors.New("leveldb: nil sink")
	}
	return &infoLog{sink: sink}, nil
}

// logStorage routes goleveldb's info log into the attached sink.
type logStorage struct {
	storage.Storage
	log *infoLog
}

func (s *logStorage) Log(str string) { s.log.Log(str) }

func translateOptions(o *engine.Options) (*opt.Options, *infoLog, error) {
	lo := &opt.Options{
		BlockSize:              o.BlockSize,
		BlockRestartInterval:   o.BlockRestartInterval,
		ErrorIfMissing:         !o.CreateIfMissing,
		ErrorIfExist:           o.ErrorIfExists,
		OpenFilesCacheCapacity: o.MaxOpenFiles,
		WriteBuffer:            o.WriteBufferSize,
		CompactionTableSize:    o.MaxFileSize,
	}
	if o.ParanoidChecks {
		lo.Strict = opt.StrictAll
	}
	switch o.Compression {
	case engine.CompressionNone:
		lo.Compression = opt.NoCompression
	case engine.CompressionSnappy:
		lo.Compression = opt.SnappyCompression
	default:
		return nil, nil, fmt.Errorf("leveldb: %w compression %s", engine.ErrUnsupported, o.Compression)
	}

	if o.Cache != nil {
		c, ok := o.Cache.(*lruCacher)
		if !ok {
			return nil, nil, fmt.Errorf("leveldb: cache: %w", engine.ErrForeignResource)
		}
		lo.BlockCacher = c
		lo.BlockCacheCapacity = c.capacity
	}
	if o.Filter != nil {
		f, ok := o.Filter.(*bloomFilter)
		if !ok {
			return nil, nil, fmt.Errorf("leveldb: filter: %w", engine.ErrForeignResource)
		}
		lo.Filter = f.Filter
	}
	if o.Comparator != nil {
		c, ok := o.Comparator.(*forwardingComparer)
		if !ok {
			return nil, nil, fmt.Errorf("leveldb: comparator: %w", engine.ErrForeignResource)
		}
		lo.Comparer = c
	}
	var il *infoLog
	if o.InfoLog != nil {
		l, ok := o.InfoLog.(*infoLog)
		if !ok {
			return nil, nil, fmt.Errorf("leveldb: info log: %w", engine.ErrForeignResource)
		}
		il = l
	}
	return lo, il, nil
}

func exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, currentFile))
	return err == nil
}

func openStorage(path string, il *infoLog) (storage.Storage, error) {
	stor, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, err
	}
	if il != nil {
		return &logStorage{Storage: stor, log: il}, nil
	}
	return stor, nil
}

// Open implements engine.Engine.
func (e *Engine) Open(path string, o *engine.Options) (engine.DB, error) {
	lo, il, err := translateOptions(o)
	if err != nil {
		return nil, err
	}
	found := exists(path)
	if found && o.ErrorIfExists {
		return nil, engine.ErrExists
	}
	if !found && !o.CreateIfMissing {
		return nil, engine.ErrMissing
	}

	stor, err := openStorage(path, il)
	if err != nil {
		return nil, fmt.Errorf("leveldb: open storage: %w", err)
	}
	ldb, err := leveldb.Open(stor, lo)
	if err != nil {
		_ = stor.Close()
		return nil, translateError(err)
	}
	return &db{ldb: ldb, stor: stor}, nil
}

// Destroy implements engine.Engine. Like LevelDB's DestroyDB it removes only
// the files the database owns, and the directory once it is empty. A directory
// without a CURRENT file is not a database and is left untouched. The storage
// lock is taken first so an open database is never removed underneath its
// owner.
func (e *Engine) Destroy(path string, o *engine.Options) error {
	if !exists(path) {
		return nil
	}
	stor, err := storage.OpenFile(path, false)
	if err != nil {
		return fmt.Errorf("leveldb: destroy: %w", err)
	}
	fds, err := stor.List(storage.TypeAll)
	if err != nil {
		_ = stor.Close()
		return fmt.Errorf("leveldb: destroy: %w", err)
	}
	var errs []error
	for _, fd := range fds {
		if err := stor.Remove(fd); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stor.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := engine.RemoveOwned(path, storageFile); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("leveldb: destroy: %w", err)
	}
	return nil
}

// storageFile reports whether name is one of the files goleveldb's file
// storage keeps beside the tables, journals and manifests.
func storageFile(name string) bool {
	switch name {
	case currentFile, currentFile + ".bak", "LOCK", "LOG", "LOG.old":
		return true
	}
	// CURRENT.<n> is a pending manifest switch.
	num, ok := strings.CutPrefix(name, currentFile+".")
	return ok && engine.Numbered(num, "")
}

// Repair implements engine.Engine using goleveldb's table recovery.
func (e *Engine) Repair(path string, o *engine.Options) error {
	lo, il, err := translateOptions(o)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return engine.ErrMissing
	}
	// Recovery rebuilds the manifest, so a missing manifest is expected here.
	lo.ErrorIfMissing = false
	lo.ErrorIfExist = false

	stor, err := openStorage(path, il)
	if err != nil {
		return fmt.Errorf("leveldb: repair: %w", err)
	}
	defer func() { _ = stor.Close() }()

	ldb, err := leveldb.Recover(stor, lo)
	if err != nil {
		return translateError(err)
	}
	return ldb.Close()
}

func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return engine.ErrNotFound
	case os.IsExist(err):
		return engine.ErrExists
	case os.IsNotExist(err):
		return engine.ErrMissing
	case lerrors.IsCorrupted(err):
		return fmt.Errorf("leveldb: corruption: %w", err)
	default:
		return fmt.Errorf("leveldb: %w", err)
	}
}

type db struct {
	ldb  *leveldb.DB
	stor storage.Storage
}

func (d *db) Get(key []byte, alloc engine.Alloc) ([]byte, error) {
	v, err := d.ldb.Get(key, nil)
	if err != nil {
		return nil, translateError(err)
	}
	if v == nil {
		v = []byte{}
	}
	if alloc == nil {
		// goleveldb already returns a private copy.
		return v, nil
	}
	return alloc.Copy(v), nil
}

func (d *db) NewIterator() (engine.Iterator, error) {
	return &iter{it: d.ldb.NewIterator(nil, nil)}, nil
}

func writeOptions(sync bool) *opt.WriteOptions {
	if !sync {
		return nil
	}
	return &opt.WriteOptions{Sync: true}
}

func (d *db) Put(key, value []byte, sync bool) error {
	return translateError(d.ldb.Put(key, value, writeOptions(sync)))
}

func (d *db) Delete(key []byte, sync bool) error {
	return translateError(d.ldb.Delete(key, writeOptions(sync)))
}

func (d *db) Write(ops []engine.Op, sync bool) error {
	b := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Kind {
		case engine.OpPut:
			b.Put(op.Key, op.Value)
		case engine.OpDelete:
			b.Delete(op.Key)
		default:
			return fmt.Errorf("leveldb: unknown batch op %d", op.Kind)
		}
	}
	return translateError(d.ldb.Write(b, writeOptions(sync)))
}

func (d *db) NewSnapshot() (engine.Snapshot, error) {
	s, err := d.ldb.GetSnapshot()
	if err != nil {
		return nil, translateError(err)
	}
	return &snapshot{snap: s}, nil
}

func (d *db) Property(name string) (string, bool) {
	v, err := d.ldb.GetProperty(name)
	if err != nil {
		return "", false
	}
	return v, true
}

func (d *db) Close() error {
	err := d.ldb.Close()
	if cerr := d.stor.Close(); err == nil {
		err = cerr
	}
	return translateError(err)
}

type snapshot struct {
	snap *leveldb.Snapshot
}

func (s *snapshot) Get(key []byte, alloc engine.Alloc) ([]byte, error) {
	v, err := s.snap.Get(key, nil)
	if err != nil {
		return nil, translateError(err)
	}
	if v == nil {
		v = []byte{}
	}
	if alloc == nil {
		return v, nil
	}
	return alloc.Copy(v), nil
}

func (s *snapshot) NewIterator() (engine.Iterator, error) {
	return &iter{it: s.snap.NewIterator((*util.Range)(nil), nil)}, nil
}

func (s *snapshot) Release() { s.snap.Release() }

// iter adapts iterator.Iterator, which already has the engine cursor shape.
type iter struct {
	it iterator.Iterator
}

func (i *iter) First() bool          { return i.it.First() }
func (i *iter) Last() bool           { return i.it.Last() }
func (i *iter) Seek(key []byte) bool { return i.it.Seek(key) }
func (i *iter) Next() bool           { return i.it.Next() }
func (i *iter) Prev() bool           { return i.it.Prev() }
func (i *iter) Valid() bool          { return i.it.Valid() }
func (i *iter) Key() []byte          { return i.it.Key() }
func (i *iter) Value() []byte        { return i.it.Value() }
func (i *iter) Error() error         { return translateError(i.it.Error()) }
func (i *iter) Release()             { i.it.Release() }
