// Package bbolt adapts go.etcd.io/bbolt to the engine boundary.
//
// The whole key space lives in one root bucket of path/data.db. bbolt orders
// keys bytewise, so custom comparators are unsupported. It has no block cache,
// bloom filter or compression, so those options are accepted and ignored.
//
// bbolt blocks a writer that must grow the memory map until every read
// transaction has closed, so nothing here holds a read transaction across
// calls. Snapshots and iterators are views: each read takes a short
// transaction, and writers save the prior value of every key they change into
// each live view before committing.
package bbolt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"
	"go.etcd.io/bbolt"

	"github.com/aalhour/levelbind/internal/engine"
)

// Name is the backend name.
const Name = "bbolt"

const (
	dbFileName  = "data.db"
	rootBucket  = "root"
	lockTimeout = time.Second
)

// Engine is the bbolt backend.
type Engine struct{}

// New returns the bbolt backend.
func New() *Engine { return &Engine{} }

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// placeholder stands in for resources bbolt has no use for.
type placeholder struct {
	kind     string
	released atomic.Bool
}

func (p *placeholder) Release() { p.released.Store(true) }

// NewCache implements engine.Engine. bbolt relies on the OS page cache.
func (e *Engine) NewCache(capacity int64) (engine.Resource, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("bbolt: invalid cache capacity %d", capacity)
	}
	return &placeholder{kind: "cache"}, nil
}

// NewFilter implements engine.Engine. B+tree lookups need no filter.
func (e *Engine) NewFilter(bitsPerKey int) (engine.Resource, error) {
	if bitsPerKey <= 0 {
		return nil, fmt.Errorf("bbolt: invalid bloom bits per key %d", bitsPerKey)
	}
	return &placeholder{kind: "filter"}, nil
}

// NewComparator implements engine.Engine.
func (e *Engine) NewComparator(cmp engine.Comparator) (engine.Resource, error) {
	return nil, fmt.Errorf("bbolt: custom comparator %q: %w", cmp.Name(), engine.ErrUnsupported)
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

// NewLogger implements engine.Engine. bbolt logs nothing itself; the backend
// reports open, close and repair through the sink.
func (e *Engine) NewLogger(sink engine.Sink) (engine.Resource, error) {
	if sink == nil {
		return nil, errors.New("bbolt: nil sink")
	}
	return &infoLog{sink: sink}, nil
}

func dataFile(path string) string { return filepath.Join(path, dbFileName) }

func exists(path string) bool {
	_, err := os.Stat(dataFile(path))
	return err == nil
}

func checkOptions(o *engine.Options) error {
	for name, r := range map[string]engine.Resource{"cache": o.Cache, "filter": o.Filter} {
		if p, ok := r.(*placeholder); r != nil && (!ok || p.kind != name) {
			return fmt.Errorf("bbolt: %s: %w", name, engine.ErrForeignResource)
		}
	}
	if o.Comparator != nil {
		return fmt.Errorf("bbolt: comparator: %w", engine.ErrUnsupported)
	}
	if o.InfoLog != nil {
		if _, ok := o.InfoLog.(*infoLog); !ok {
			return fmt.Errorf("bbolt: info log: %w", engine.ErrForeignResource)
		}
	}
	return nil
}

func openBolt(path string, o *engine.Options) (*bbolt.DB, error) {
	bdb, err := bbolt.Open(dataFile(path), 0o644, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("bbolt: %w", err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("bbolt: %w", err)
	}
	return bdb, nil
}

// Open implements engine.Engine.
func (e *Engine) Open(path string, o *engine.Options) (engine.DB, error) {
	if err := checkOptions(o); err != nil {
		return nil, err
	}
	found := exists(path)
	if found && o.ErrorIfExists {
		return nil, engine.ErrExists
	}
	if !found {
		if !o.CreateIfMissing {
			return nil, engine.ErrMissing
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("bbolt: %w", err)
		}
	}
	bdb, err := openBolt(path, o)
	if err != nil {
		return nil, err
	}
	engine.LogTo(o.InfoLog, "bbolt: opened "+dataFile(path))
	return &db{bdb: bdb, log: o.InfoLog, views: make(map[*view]struct{})}, nil
}

// Destroy implements engine.Engine. Only data.db is removed, and the
// directory once it is empty. A directory without data.db is left untouched.
func (e *Engine) Destroy(path string, o *engine.Options) error {
	if !exists(path) {
		return nil
	}
	// The file lock fails with a timeout while another handle holds it.
	bdb, err := bbolt.Open(dataFile(path), 0o644, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("bbolt: destroy: %w", err)
	}
	if err := bdb.Close(); err != nil {
		return fmt.Errorf("bbolt: destroy: %w", err)
	}
	err = engine.RemoveOwned(path, func(name string) bool { return name == dbFileName })
	if err != nil {
		return fmt.Errorf("bbolt: destroy: %w", err)
	}
	return nil
}

// Repair implements engine.Engine. bbolt cannot rewrite a damaged file, so
// repair runs the page consistency check and reports what it finds.
func (e *Engine) Repair(path string, o *engine.Options) error {
	if err := checkOptions(o); err != nil {
		return err
	}
	if !exists(path) {
		return engine.ErrMissing
	}
	bdb, err := openBolt(path, o)
	if err != nil {
		return err
	}
	defer bdb.Close()

	var errs []error
	err = bdb.View(func(tx *bbolt.Tx) error {
		for err := range tx.Check() {
			engine.LogTo(o.InfoLog, "bbolt: check: "+err.Error())
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bbolt: repair: %w", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("bbolt: repair: %w", errors.Join(errs...))
	}
	return nil
}

type db struct {
	bdb *bbolt.DB
	log engine.Resource

	// wmu orders writers against view creation, so a view never sees part
	// of a batch.
	wmu   sync.Mutex
	mu    sync.Mutex
	views map[*view]struct{}
}

func bucket(tx *bbolt.Tx) *bbolt.Bucket { return tx.Bucket([]byte(rootBucket)) }

func copyValue(v []byte, alloc engine.Alloc) []byte {
	if len(v) == 0 {
		return []byte{}
	}
	return alloc.Copy(v)
}

func readValue(tx *bbolt.Tx, key []byte, alloc engine.Alloc) ([]byte, error) {
	v := bucket(tx).Get(key)
	if v == nil {
		return nil, engine.ErrNotFound
	}
	// bbolt values are only valid for the life of the transaction.
	return copyValue(v, alloc), nil
}

func (d *db) Get(key []byte, alloc engine.Alloc) ([]byte, error) {
	var v []byte
	err := d.bdb.View(func(tx *bbolt.Tx) error {
		var err error
		v, err = readValue(tx, key, alloc)
		return err
	})
	return v, err
}

func (d *db) NewIterator() (engine.Iterator, error) {
	return newIter(d.newView()), nil
}

func (d *db) Put(key, value []byte, sync bool) error {
	return d.Write([]engine.Op{{Kind: engine.OpPut, Key: key, Value: value}}, sync)
}

func (d *db) Delete(key []byte, sync bool) error {
	return d.Write([]engine.Op{{Kind: engine.OpDelete, Key: key}}, sync)
}

func (d *db) liveViews() []*view {
	d.mu.Lock()
	defer d.mu.Unlock()
	views := make([]*view, 0, len(d.views))
	for v := range d.views {
		views = append(views, v)
	}
	return views
}

// Write applies ops in one read-write transaction. bbolt syncs every commit,
// so the sync flag has no effect.
func (d *db) Write(ops []engine.Op, sync bool) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	views := d.liveViews()

	err := d.bdb.Update(func(tx *bbolt.Tx) error {
		b := bucket(tx)
		for _, op := range ops {
			for _, v := range views {
				v.preserve(op.Key, b.Get(op.Key))
			}
			var err error
			switch op.Kind {
			case engine.OpPut:
				value := op.Value
				if value == nil {
					value = []byte{}
				}
				err = b.Put(op.Key, value)
			case engine.OpDelete:
				err = b.Delete(op.Key)
			default:
				err = fmt.Errorf("unknown batch op %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bbolt: %w", err)
	}
	return nil
}

func (d *db) NewSnapshot() (engine.Snapshot, error) {
	return &snapshot{v: d.newView()}, nil
}

func (d *db) Property(name string) (string, bool) {
	switch name {
	case "bbolt.keys":
		var n int
		_ = d.bdb.View(func(tx *bbolt.Tx) error {
			n = bucket(tx).Stats().KeyN
			return nil
		})
		return fmt.Sprint(n), true
	case "bbolt.stats":
		s := d.bdb.Stats()
		return fmt.Sprintf("free_pages=%d pending_pages=%d open_tx=%d tx=%d",
			s.FreePageN, s.PendingPageN, s.OpenTxN, s.TxN), true
	case "bbolt.views":
		d.mu.Lock()
		defer d.mu.Unlock()
		return fmt.Sprint(len(d.views)), true
	}
	return "", false
}

func (d *db) Close() error {
	path := d.bdb.Path()
	if err := d.bdb.Close(); err != nil {
		return fmt.Errorf("bbolt: %w", err)
	}
	engine.LogTo(d.log, "bbolt: closed "+path)
	return nil
}

// preimage is the value a key had when a view was taken. present is false
// when the key did not exist then.
type preimage struct {
	key     []byte
	value   []byte
	present bool
}

func lessPreimage(a, b preimage) bool { return bytes.Compare(a.key, b.key) < 0 }

// view is a point-in-time read of the bucket. It holds no transaction; the
// live bucket is read through the preimages saved since the view was taken.
type view struct {
	d *db

	mu    sync.Mutex
	saved *btree.BTreeG[preimage]
	refs  int
}

func (d *db) newView() *view {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	v := &view{d: d, saved: btree.NewBTreeG(lessPreimage), refs: 1}
	d.mu.Lock()
	d.views[v] = struct{}{}
	d.mu.Unlock()
	return v
}

// preserve saves cur as key's value unless the view already holds one. It
// runs inside the write transaction, before the commit makes the change
// visible.
func (v *view) preserve(key, cur []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.refs == 0 {
		return
	}
	if _, ok := v.saved.Get(preimage{key: key}); ok {
		return
	}
	p := preimage{key: bytes.Clone(key), present: cur != nil}
	if cur != nil {
		p.value = append([]byte{}, cur...)
	}
	v.saved.Set(p)
}

// state returns a stable copy of the saved preimages. Callers take it after
// opening their read transaction, so any write the transaction already sees
// has its preimage in the copy.
func (v *view) state() *btree.BTreeG[preimage] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saved.Copy()
}

func (v *view) retain() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.refs == 0 {
		return false
	}
	v.refs++
	return true
}

func (v *view) release() {
	v.mu.Lock()
	v.refs--
	last := v.refs == 0
	v.mu.Unlock()
	if last {
		v.d.mu.Lock()
		delete(v.d.views, v)
		v.d.mu.Unlock()
	}
}

func (v *view) get(key []byte, alloc engine.Alloc) ([]byte, error) {
	var out []byte
	err := v.d.bdb.View(func(tx *bbolt.Tx) error {
		if p, ok := v.state().Get(preimage{key: key}); ok {
			if !p.present {
				return engine.ErrNotFound
			}
			out = copyValue(p.value, alloc)
			return nil
		}
		var err error
		out, err = readValue(tx, key, alloc)
		return err
	})
	return out, err
}

type snapshot struct {
	v        *view
	released atomic.Bool
}

func (s *snapshot) Get(key []byte, alloc engine.Alloc) ([]byte, error) {
	return s.v.get(key, alloc)
}

// NewIterator shares the snapshot's view, which stays alive until both the
// snapshot and the iterator are released.
func (s *snapshot) NewIterator() (engine.Iterator, error) {
	if s.released.Load() || !s.v.retain() {
		return nil, errors.New("bbolt: snapshot released")
	}
	return newIter(s.v), nil
}

func (s *snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.v.release()
	}
}

var _ engine.Engine = (*Engine)(nil)
