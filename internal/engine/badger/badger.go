// Package badger adapts github.com/dgraph-io/badger/v4 to the engine boundary.
//
// Badger orders keys bytewise and cannot take a user comparator, so
// NewComparator fails with engine.ErrUnsupported. Cache, filter, compression
// and logger resources map onto badger.Options. MaxOpenFiles and
// BlockRestartInterval have no badger equivalent and are ignored.
package badger

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/aalhour/levelbind/internal/engine"
)

// Name is the backend name.
const Name = "badger"

const manifestFile = "MANIFEST"

// Engine is the badger backend.
type Engine struct{}

// New returns the badger backend.
func New() *Engine { return &Engine{} }

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

type blockCache struct {
	capacity int64
	released atomic.Bool
}

func (c *blockCache) Release() { c.released.Store(true) }

// NewCache implements engine.Engine.
func (e *Engine) NewCache(capacity int64) (engine.Resource, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("badger: invalid cache capacity %d", capacity)
	}
	return &blockCache{capacity: capacity}, nil
}

// bloomPolicy converts LevelDB-style bits per key into badger's false
// positive rate with the bloom estimate 0.6185^bits, which assumes the
// optimal number of hash functions.
type bloomPolicy struct {
	falsePositive float64
	released      atomic.Bool
}

func (f *bloomPolicy) Release() { f.released.Store(true) }

// NewFilter implements engine.Engine.
func (e *Engine) NewFilter(bitsPerKey int) (engine.Resource, error) {
	if bitsPerKey <= 0 {
		return nil, fmt.Errorf("badger: invalid bloom bits per key %d", bitsPerKey)
	}
	return &bloomPolicy{falsePositive: FalsePositiveRate(bitsPerKey)}, nil
}

// FalsePositiveRate returns the expected bloom false positive rate for bitsPerKey.
func FalsePositiveRate(bitsPerKey int) float64 {
	return math.Pow(0.6185, float64(bitsPerKey))
}

// NewComparator implements engine.Engine.
func (e *Engine) NewComparator(cmp engine.Comparator) (engine.Resource, error) {
	return nil, fmt.Errorf("badger: custom comparator %q: %w", cmp.Name(), engine.ErrUnsupported)
}

// infoLog implements badger.Logger by formatting every level into the sink.
type infoLog struct {
	sink     engine.Sink
	released atomic.Bool
}

var _ badger.Logger = (*infoLog)(nil)

func (l *infoLog) Log(msg string) {
	if !l.released.Load() {
		l.sink.Log(msg)
	}
}

func (l *infoLog) logf(level, format string, args ...interface{}) {
	l.Log(level + " " + fmt.Sprintf(format, args...))
}

func (l *infoLog) Errorf(format string, args ...interface{})   { l.logf("ERROR", format, args...) }
func (l *infoLog) Warningf(format string, args ...interface{}) { l.logf("WARN", format, args...) }
func (l *infoLog) Infof(format string, args ...interface{})    { l.logf("INFO", format, args...) }
func (l *infoLog) Debugf(format string, args ...interface{})   { l.logf("DEBUG", format, args...) }

func (l *infoLog) Release() { l.released.Store(true) }

// NewLogger implements engine.Engine.
func (e *Engine) NewLogger(sink engine.Sink) (engine.Resource, error) {
	if sink == nil {
		return nil, errors.New("badger: nil sink")
	}
	return &infoLog{sink: sink}, nil
}

func translateOptions(path string, o *engine.Options) (badger.Options, error) {
	bo := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if o.BlockSize > 0 {
		bo = bo.WithBlockSize(o.BlockSize)
	}
	if o.WriteBufferSize > 0 {
		// Badger rejects a value threshold above 15% of the memtable.
		mem := int64(o.WriteBufferSize)
		bo = bo.WithMemTableSize(mem).
			WithValueThreshold(min(bo.ValueThreshold, 15*mem/100))
	}
	if o.MaxFileSize > 0 {
		bo = bo.WithBaseTableSize(int64(o.MaxFileSize))
	}
	if o.ParanoidChecks {
		bo = bo.WithVerifyValueChecksum(true).
			WithChecksumVerificationMode(options.OnTableAndBlockRead)
	}
	switch o.Compression {
	case engine.CompressionNone:
		bo = bo.WithCompression(options.None)
	case engine.CompressionSnappy:
		bo = bo.WithCompression(options.Snappy)
	default:
		return bo, fmt.Errorf("badger: %w compression %s", engine.ErrUnsupported, o.Compression)
	}

	if o.Cache != nil {
		c, ok := o.Cache.(*blockCache)
		if !ok {
			return bo, fmt.Errorf("badger: cache: %w", engine.ErrForeignResource)
		}
		bo = bo.WithBlockCacheSize(c.capacity)
	}
	if o.Filter != nil {
		f, ok := o.Filter.(*bloomPolicy)
		if !ok {
			return bo, fmt.Errorf("badger: filter: %w", engine.ErrForeignResource)
		}
		bo = bo.WithBloomFalsePositive(f.falsePositive)
	}
	if o.Comparator != nil {
		return bo, fmt.Errorf("badger: comparator: %w", engine.ErrUnsupported)
	}
	if o.InfoLog != nil {
		l, ok := o.InfoLog.(*infoLog)
		if !ok {
			return bo, fmt.Errorf("badger: info log: %w", engine.ErrForeignResource)
		}
		bo = bo.WithLogger(l).WithLoggingLevel(badger.INFO)
	}
	return bo, nil
}

func exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, manifestFile))
	return err == nil
}

// Open implements engine.Engine.
func (e *Engine) Open(path string, o *engine.Options) (engine.DB, error) {
	bo, err := translateOptions(path, o)
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
	bdb, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badger: %w", err)
	}
	return &db{bdb: bdb}, nil
}

// Destroy implements engine.Engine. Only badger's own files are removed, and
// the directory once it is empty. A directory without a MANIFEST is not a
// database and is left untouched.
func (e *Engine) Destroy(path string, o *engine.Options) error {
	if !exists(path) {
		return nil
	}
	// Opening takes the directory lock, so an open database is never removed.
	bo, err := translateOptions(path, &engine.Options{Compression: o.Compression, InfoLog: o.InfoLog})
	if err != nil {
		return err
	}
	bdb, err := badger.Open(bo)
	if err != nil {
		return fmt.Errorf("badger: destroy: %w", err)
	}
	if err := bdb.Close(); err != nil {
		return fmt.Errorf("badger: destroy: %w", err)
	}
	if err := engine.RemoveOwned(path, ownedFile); err != nil {
		return fmt.Errorf("badger: destroy: %w", err)
	}
	return nil
}

// ownedFile reports whether name is a file badger creates in its directory.
func ownedFile(name string) bool {
	switch name {
	case manifestFile, "MANIFEST-REWRITE", "KEYREGISTRY", "REWRITE-KEYREGISTRY", "DISCARD", "LOCK":
		return true
	}
	return engine.Numbered(name, ".sst") || engine.Numbered(name, ".vlog") || engine.Numbered(name, ".mem")
}

// Repair implements engine.Engine. Badger replays its manifest and value log
// on open and truncates torn writes, which is the closest it has to repair.
func (e *Engine) Repair(path string, o *engine.Options) error {
	if !exists(path) {
		return engine.ErrMissing
	}
	bo, err := translateOptions(path, o)
	if err != nil {
		return err
	}
	bdb, err := badger.Open(bo)
	if err != nil {
		return fmt.Errorf("badger: repair: %w", err)
	}
	return bdb.Close()
}

func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	default:
		return fmt.Errorf("badger: %w", err)
	}
}

type db struct {
	bdb *badger.DB
}

func readValue(txn *badger.Txn, key []byte, alloc engine.Alloc) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, translateError(err)
	}
	var dst []byte
	if alloc != nil {
		dst = alloc(int(item.ValueSize()))[:0]
	}
	v, err := item.ValueCopy(dst)
	if err != nil {
		return nil, translateError(err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (d *db) Get(key []byte, alloc engine.Alloc) ([]byte, error) {
	var v []byte
	err := d.bdb.View(func(txn *badger.Txn) error {
		var err error
		v, err = readValue(txn, key, alloc)
		return err
	})
	return v, err
}

func (d *db) NewIterator() (engine.Iterator, error) {
	return newIter(d.bdb.NewTransaction(false), true), nil
}

func (d *db) Put(key, value []byte, sync bool) error {
	return translateError(d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

func (d *db) Delete(key []byte, sync bool) error {
	return translateError(d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// Write applies ops in one transaction, so the batch commits atomically or not
// at all. Batches larger than a badger transaction fail with ErrTxnTooBig.
func (d *db) Write(ops []engine.Op, sync bool) error {
	return translateError(d.bdb.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case engine.OpPut:
				err = txn.Set(op.Key, op.Value)
			case engine.OpDelete:
				err = txn.Delete(op.Key)
			default:
				err = fmt.Errorf("unknown batch op %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func (d *db) NewSnapshot() (engine.Snapshot, error) {
	return &snapshot{txn: d.bdb.NewTransaction(false)}, nil
}

func (d *db) Property(name string) (string, bool) {
	switch name {
	case "badger.lsm-size":
		lsm, _ := d.bdb.Size()
		return fmt.Sprint(lsm), true
	case "badger.vlog-size":
		_, vlog := d.bdb.Size()
		return fmt.Sprint(vlog), true
	}
	return "", false
}

func (d *db) Close() error {
	return translateError(d.bdb.Close())
}

// snapshot is a read-only transaction pinned at its read timestamp. Badger
// panics when a transaction is discarded under a live iterator, so the
// discard waits for the last iterator opened on the snapshot.
type snapshot struct {
	txn *badger.Txn

	mu       sync.Mutex
	iters    int
	released bool
}

func (s *snapshot) Get(key []byte, alloc engine.Alloc) ([]byte, error) {
	return readValue(s.txn, key, alloc)
}

// NewIterator shares the snapshot transaction; badger allows any number of
// iterators on a read-only transaction.
func (s *snapshot) NewIterator() (engine.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errors.New("badger: snapshot released")
	}
	s.iters++
	it := newIter(s.txn, false)
	it.onRelease = s.iterDone
	return it, nil
}

func (s *snapshot) iterDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iters--
	if s.released && s.iters == 0 {
		s.txn.Discard()
	}
}

func (s *snapshot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.iters == 0 {
		s.txn.Discard()
	}
}
