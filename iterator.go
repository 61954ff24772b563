package levelbind

// iterator.go implements the bidirectional cursor.
//
// An Iterator is either positioned at an entry or invalid. It starts invalid
// and is positioned by one of the Seek methods. An engine "not found" fault
// during positioning means there is no entry to land on and leaves the
// iterator invalid without an error; any other fault is returned as a
// *CursorError and also leaves it invalid.

import (
	"bytes"
	"errors"
	"sync/atomic"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/logging"
)

// Entry is a key-value pair returned by an iterator.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator is a cursor over the ordered key space of a DB or Snapshot.
// An Iterator is not safe for concurrent use.
type Iterator struct {
	db    *DB
	snap  *Snapshot
	it    engine.Iterator
	alloc engine.Alloc

	closed atomic.Bool
	err    error
}

func newIterator(db *DB, snap *Snapshot, it engine.Iterator, alloc engine.Alloc) *Iterator {
	return &Iterator{db: db, snap: snap, it: it, alloc: alloc}
}

// settle records the outcome of a positioning call that left the engine
// iterator invalid.
func (it *Iterator) settle(op string) error {
	err := it.it.Error()
	if err == nil || errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	it.err = &CursorError{Op: op, Err: err}
	it.db.log.Debugf(logging.NSIter+"%s: %v", op, err)
	return it.err
}

func (it *Iterator) position(op string, move func() bool) error {
	if it.closed.Load() {
		return ErrClosed
	}
	it.err = nil
	if move() {
		return nil
	}
	return it.settle(op)
}

// SeekToFirst positions the iterator at the first key.
func (it *Iterator) SeekToFirst() error {
	return it.position("SeekToFirst", it.it.First)
}

// SeekToLast positions the iterator at the last key.
func (it *Iterator) SeekToLast() error {
	return it.position("SeekToLast", it.it.Last)
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) error {
	return it.position("Seek", func() bool { return it.it.Seek(target) })
}

// SeekForPrev positions the iterator at the last key <= target.
func (it *Iterator) SeekForPrev(target []byte) error {
	if err := it.position("SeekForPrev", func() bool { return it.it.Seek(target) }); err != nil {
		return err
	}
	if !it.Valid() {
		return it.position("SeekForPrev", it.it.Last)
	}
	if !bytes.Equal(it.it.Key(), target) {
		return it.position("SeekForPrev", it.it.Prev)
	}
	return nil
}

// Valid returns true if the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return !it.closed.Load() && it.err == nil && it.it.Valid()
}

// Key returns the key at the current position, or nil if the iterator is not
// valid. The slice is only valid until the iterator moves.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.it.Key()
}

// Value returns the value at the current position, or nil if the iterator is
// not valid. The slice is only valid until the iterator moves.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	v := it.it.Value()
	if v == nil && it.it.Error() == nil {
		return []byte{}
	}
	return v
}

// Current returns the entry at the current position without copying it, or
// ErrIllegalState if the iterator is not positioned. The slices belong to the
// iterator: they are overwritten by the next positioning call and must not be
// modified.
func (it *Iterator) Current() (Entry, error) {
	if it.closed.Load() {
		return Entry{}, ErrClosed
	}
	if !it.Valid() {
		return Entry{}, ErrIllegalState
	}
	e := Entry{Key: it.it.Key(), Value: it.Value()}
	if err := it.settle("Current"); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// copied returns the current entry copied into the read arena, or the heap.
func (it *Iterator) copied(op string) (Entry, error) {
	key := it.alloc.Copy(it.it.Key())
	value := it.alloc.Copy(it.it.Value())
	if err := it.settle(op); err != nil {
		return Entry{}, err
	}
	if value == nil {
		value = []byte{}
	}
	return Entry{Key: key, Value: value}, nil
}

// step returns a copy of the current entry and then moves the iterator.
func (it *Iterator) step(op string, move func() bool) (Entry, error) {
	if it.closed.Load() {
		return Entry{}, ErrClosed
	}
	if !it.Valid() {
		return Entry{}, ErrIllegalState
	}
	e, err := it.copied(op)
	if err != nil {
		return Entry{}, err
	}
	if !move() {
		if err := it.settle(op); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// Next returns the current entry and advances to the next key. The iterator
// becomes invalid after the last key. It returns ErrIllegalState if the
// iterator is not positioned.
func (it *Iterator) Next() (Entry, error) {
	return it.step("Next", it.it.Next)
}

// Prev returns the current entry and moves to the previous key. The iterator
// becomes invalid before the first key. It returns ErrIllegalState if the
// iterator is not positioned.
func (it *Iterator) Prev() (Entry, error) {
	return it.step("Prev", it.it.Prev)
}

// Error returns the fault that invalidated the iterator, if any.
func (it *Iterator) Error() error {
	return it.err
}

// release releases the engine iterator and reports whether this call did it.
func (it *Iterator) release() bool {
	if !it.closed.CompareAndSwap(false, true) {
		return false
	}
	it.it.Release()
	return true
}

// Close releases the iterator. Calls after the first return nil.
func (it *Iterator) Close() error {
	if it.release() {
		it.db.forget(it)
	}
	return nil
}
