// Package memory is an in-process engine backed by a copy-on-write B-tree.
//
// Databases live in a registry owned by the Engine value and survive Close,
// so a path can be reopened, destroyed or repaired like an on-disk database.
// The engine honours custom comparators. It counts every resource it
// constructs and releases, and can be told to fail any step, which makes it
// the backend of choice for lifecycle tests.
package memory

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"

	"github.com/aalhour/levelbind/internal/engine"
)

// Name is the backend name.
const Name = "memory"

const bytewiseName = "leveldb.BytewiseComparator"

// ErrLocked is returned when opening a path that already has an open handle.
var ErrLocked = errors.New("memory: database is locked by another handle")

// Kind identifies a resource type for the allocation counters.
type Kind int

const (
	KindCache Kind = iota
	KindFilter
	KindComparator
	KindLogger
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindCache:
		return "cache"
	case KindFilter:
		return "filter"
	case KindComparator:
		return "comparator"
	case KindLogger:
		return "logger"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Counts reports how many resources of one kind were built and released.
type Counts struct {
	Constructed int
	Released    int
}

// Faults makes engine calls fail. A nil field means the call succeeds.
type Faults struct {
	Cache      error
	Filter     error
	Comparator error
	Logger     error
	Open       error
	Destroy    error
	Repair     error

	// Seek fails every iterator First, Last and Seek call with this error.
	Seek error
	// Move fails every iterator Next and Prev call with this error.
	Move error
}

// Engine is the in-memory backend. The zero value is not usable; call New.
type Engine struct {
	mu     sync.Mutex
	stores map[string]*store
	faults Faults
	counts [numKinds]Counts
}

// New returns an empty in-memory engine.
func New() *Engine {
	return &Engine{stores: make(map[string]*store)}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// Inject replaces the active fault set.
func (e *Engine) Inject(f Faults) {
	e.mu.Lock()
	e.faults = f
	e.mu.Unlock()
}

func (e *Engine) fault() Faults {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults
}

// Counts returns the allocation counters for kind.
func (e *Engine) Counts(kind Kind) Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[kind]
}

// Live returns the number of resources constructed but not yet released.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.counts {
		n += c.Constructed - c.Released
	}
	return n
}

// resource is the common part of every auxiliary object.
type resource struct {
	eng      *Engine
	kind     Kind
	released atomic.Bool
}

func (e *Engine) newResource(kind Kind) (*resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	switch kind {
	case KindCache:
		err = e.faults.Cache
	case KindFilter:
		err = e.faults.Filter
	case KindComparator:
		err = e.faults.Comparator
	case KindLogger:
		err = e.faults.Logger
	}
	if err != nil {
		return nil, err
	}
	e.counts[kind].Constructed++
	return &resource{eng: e, kind: kind}, nil
}

func (r *resource) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.eng.mu.Lock()
	r.eng.counts[r.kind].Released++
	r.eng.mu.Unlock()
}

type cache struct {
	*resource
	capacity int64
}

type filter struct {
	*resource
	bitsPerKey int
}

type comparator struct {
	*resource
	cmp engine.Comparator
}

type infoLog struct {
	*resource
	sink engine.Sink
}

func (l *infoLog) Log(msg string) {
	if !l.released.Load() {
		l.sink.Log(msg)
	}
}

// NewCache implements engine.Engine.
func (e *Engine) NewCache(capacity int64) (engine.Resource, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("memory: invalid cache capacity %d", capacity)
	}
	r, err := e.newResource(KindCache)
	if err != nil {
		return nil, err
	}
	return &cache{resource: r, capacity: capacity}, nil
}

// NewFilter implements engine.Engine.
func (e *Engine) NewFilter(bitsPerKey int) (engine.Resource, error) {
	if bitsPerKey <= 0 {
		return nil, fmt.Errorf("memory: invalid bloom bits per key %d", bitsPerKey)
	}
	r, err := e.newResource(KindFilter)
	if err != nil {
		return nil, err
	}
	return &filter{resource: r, bitsPerKey: bitsPerKey}, nil
}

// NewComparator implements engine.Engine.
func (e *Engine) NewComparator(cmp engine.Comparator) (engine.Resource, error) {
	if cmp == nil {
		return nil, errors.New("memory: nil comparator")
	}
	r, err := e.newResource(KindComparator)
	if err != nil {
		return nil, err
	}
	return &comparator{resource: r, cmp: cmp}, nil
}

// NewLogger implements engine.Engine.
func (e *Engine) NewLogger(sink engine.Sink) (engine.Resource, error) {
	if sink == nil {
		return nil, errors.New("memory: nil sink")
	}
	r, err := e.newResource(KindLogger)
	if err != nil {
		return nil, err
	}
	return &infoLog{resource: r, sink: sink}, nil
}

type item struct {
	key, value []byte
}

// store is one database. The published tree is never mutated; writers build
// a copy and swap it in, so a batch becomes visible all at once.
type store struct {
	cmpName string
	open    bool

	wmu   sync.Mutex
	state atomic.Pointer[btree.BTreeG[item]]
}

func newTree(cmp engine.Comparator) *btree.BTreeG[item] {
	compare := bytes.Compare
	if cmp != nil {
		compare = cmp.Compare
	}
	return btree.NewBTreeG(func(a, b item) bool {
		return compare(a.key, b.key) < 0
	})
}

func (e *Engine) checkOptions(o *engine.Options) (engine.Comparator, error) {
	for name, r := range map[string]engine.Resource{"cache": o.Cache, "filter": o.Filter, "info log": o.InfoLog} {
		if r == nil {
			continue
		}
		var owner *Engine
		switch v := r.(type) {
		case *cache:
			owner = v.eng
		case *filter:
			owner = v.eng
		case *infoLog:
			owner = v.eng
		}
		if owner != e {
			return nil, fmt.Errorf("memory: %s: %w", name, engine.ErrForeignResource)
		}
	}
	if o.Comparator == nil {
		return nil, nil
	}
	c, ok := o.Comparator.(*comparator)
	if !ok || c.eng != e {
		return nil, fmt.Errorf("memory: comparator: %w", engine.ErrForeignResource)
	}
	return c.cmp, nil
}

func key(path string) string { return filepath.Clean(path) }

// Open implements engine.Engine.
func (e *Engine) Open(path string, o *engine.Options) (engine.DB, error) {
	cmp, err := e.checkOptions(o)
	if err != nil {
		return nil, err
	}
	cmpName := bytewiseName
	if cmp != nil {
		cmpName = cmp.Name()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.Open != nil {
		return nil, e.faults.Open
	}
	s, found := e.stores[key(path)]
	switch {
	case found && o.ErrorIfExists:
		return nil, engine.ErrExists
	case !found && !o.CreateIfMissing:
		return nil, engine.ErrMissing
	case found && s.open:
		return nil, ErrLocked
	case found && s.cmpName != cmpName:
		return nil, fmt.Errorf("memory: comparator %q does not match existing %q", cmpName, s.cmpName)
	}

	tree := newTree(cmp)
	if found {
		// Rebind the ordering to the comparator attached to this open.
		old := s.state.Load()
		old.Scan(func(it item) bool {
			tree.Set(it)
			return true
		})
	} else {
		s = &store{cmpName: cmpName}
		e.stores[key(path)] = s
	}
	s.state.Store(tree)
	s.open = true

	engine.LogTo(o.InfoLog, fmt.Sprintf("memory: opened %s (%d keys)", path, tree.Len()))
	return &db{eng: e, path: path, s: s, log: o.InfoLog, faults: e.fault}, nil
}

// Destroy implements engine.Engine.
func (e *Engine) Destroy(path string, o *engine.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.Destroy != nil {
		return e.faults.Destroy
	}
	s, found := e.stores[key(path)]
	if !found {
		return nil
	}
	if s.open {
		return ErrLocked
	}
	delete(e.stores, key(path))
	engine.LogTo(o.InfoLog, "memory: destroyed "+path)
	return nil
}

// Repair implements engine.Engine. There is nothing to repair in memory, so
// it only checks that the database exists and is not open.
func (e *Engine) Repair(path string, o *engine.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.faults.Repair != nil {
		return e.faults.Repair
	}
	s, found := e.stores[key(path)]
	if !found {
		return engine.ErrMissing
	}
	if s.open {
		return ErrLocked
	}
	engine.LogTo(o.InfoLog, "memory: repaired "+path)
	return nil
}

type db struct {
	eng    *Engine
	path   string
	s      *store
	log    engine.Resource
	faults func() Faults
	closed atomic.Bool
}

var errClosed = errors.New("memory: database closed")

func readValue(tree *btree.BTreeG[item], k []byte, alloc engine.Alloc) ([]byte, error) {
	it, ok := tree.Get(item{key: k})
	if !ok {
		return nil, engine.ErrNotFound
	}
	if len(it.value) == 0 {
		return []byte{}, nil
	}
	return alloc.Copy(it.value), nil
}

func (d *db) Get(k []byte, alloc engine.Alloc) ([]byte, error) {
	if d.closed.Load() {
		return nil, errClosed
	}
	return readValue(d.s.state.Load(), k, alloc)
}

func (d *db) NewIterator() (engine.Iterator, error) {
	if d.closed.Load() {
		return nil, errClosed
	}
	return newIter(d.s.state.Load().Copy(), d.faults), nil
}

func (d *db) Put(k, v []byte, sync bool) error {
	return d.Write([]engine.Op{{Kind: engine.OpPut, Key: k, Value: v}}, sync)
}

func (d *db) Delete(k []byte, sync bool) error {
	return d.Write([]engine.Op{{Kind: engine.OpDelete, Key: k}}, sync)
}

func (d *db) Write(ops []engine.Op, sync bool) error {
	if d.closed.Load() {
		return errClosed
	}
	d.s.wmu.Lock()
	defer d.s.wmu.Unlock()

	next := d.s.state.Load().Copy()
	for _, op := range ops {
		switch op.Kind {
		case engine.OpPut:
			next.Set(item{
				key:   bytes.Clone(op.Key),
				value: append([]byte{}, op.Value...),
			})
		case engine.OpDelete:
			next.Delete(item{key: op.Key})
		default:
			return fmt.Errorf("memory: unknown batch op %d", op.Kind)
		}
	}
	d.s.state.Store(next)
	return nil
}

func (d *db) NewSnapshot() (engine.Snapshot, error) {
	if d.closed.Load() {
		return nil, errClosed
	}
	return &snapshot{tree: d.s.state.Load().Copy(), faults: d.faults}, nil
}

func (d *db) Property(name string) (string, bool) {
	switch name {
	case "memory.keys":
		return fmt.Sprint(d.s.state.Load().Len()), true
	case "memory.comparator":
		return d.s.cmpName, true
	}
	return "", false
}

func (d *db) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.eng.mu.Lock()
	d.s.open = false
	d.eng.mu.Unlock()
	engine.LogTo(d.log, "memory: closed "+d.path)
	return nil
}

type snapshot struct {
	tree   *btree.BTreeG[item]
	faults func() Faults
}

func (s *snapshot) Get(k []byte, alloc engine.Alloc) ([]byte, error) {
	if s.tree == nil {
		return nil, errClosed
	}
	return readValue(s.tree, k, alloc)
}

func (s *snapshot) NewIterator() (engine.Iterator, error) {
	if s.tree == nil {
		return nil, errClosed
	}
	return newIter(s.tree.Copy(), s.faults), nil
}

func (s *snapshot) Release() { s.tree = nil }

// iter walks a private copy of the tree. Key and Value return the iterator's
// own buffers, so a caller writing into them cannot reorder the tree.
type iter struct {
	it     btree.IterG[item]
	valid  bool
	err    error
	faults func() Faults
	done   bool

	key, value []byte
}

func newIter(tree *btree.BTreeG[item], faults func() Faults) *iter {
	return &iter{it: tree.Iter(), faults: faults}
}

func (i *iter) position(ok bool, fault error) bool {
	if fault != nil {
		i.valid, i.err = false, fault
		return false
	}
	i.valid, i.err = ok, nil
	if ok {
		cur := i.it.Item()
		i.key = append(i.key[:0], cur.key...)
		i.value = append(i.value[:0], cur.value...)
		if i.value == nil {
			i.value = []byte{}
		}
	}
	return ok
}

func (i *iter) First() bool {
	if i.done {
		return false
	}
	return i.position(i.it.First(), i.faults().Seek)
}

func (i *iter) Last() bool {
	if i.done {
		return false
	}
	return i.position(i.it.Last(), i.faults().Seek)
}

func (i *iter) Seek(k []byte) bool {
	if i.done {
		return false
	}
	return i.position(i.it.Seek(item{key: k}), i.faults().Seek)
}

func (i *iter) Next() bool {
	if !i.valid {
		return false
	}
	return i.position(i.it.Next(), i.faults().Move)
}

func (i *iter) Prev() bool {
	if !i.valid {
		return false
	}
	return i.position(i.it.Prev(), i.faults().Move)
}

func (i *iter) Valid() bool { return i.valid }

func (i *iter) Key() []byte {
	if !i.valid {
		return nil
	}
	return i.key
}

func (i *iter) Value() []byte {
	if !i.valid {
		return nil
	}
	return i.value
}

func (i *iter) Error() error { return i.err }

func (i *iter) Release() {
	if i.done {
		return
	}
	i.done, i.valid = true, false
	i.it.Release()
}

var (
	_ engine.Engine   = (*Engine)(nil)
	_ engine.Iterator = (*iter)(nil)
)
