package badger

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"

	"github.com/aalhour/levelbind/internal/engine"
)

// iter builds a bidirectional cursor out of badger iterators, which only move
// in the direction fixed at creation. Changing direction closes the current
// badger iterator and re-seeks a new one in the other direction at the
// current key.
type iter struct {
	txn       *badger.Txn
	ownsTxn   bool
	onRelease func()

	it      *badger.Iterator
	reverse bool

	value    []byte
	hasValue bool
	err      error
}

func newIter(txn *badger.Txn, ownsTxn bool) *iter {
	return &iter{txn: txn, ownsTxn: ownsTxn}
}

func (i *iter) direction(reverse bool) bool {
	if i.txn == nil {
		return false
	}
	if i.it != nil && i.reverse == reverse {
		return true
	}
	if i.it != nil {
		i.it.Close()
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = reverse
	i.it = i.txn.NewIterator(opts)
	i.reverse = reverse
	return true
}

func (i *iter) moved() bool {
	i.value = nil
	i.hasValue = false
	return i.Valid()
}

func (i *iter) First() bool {
	i.err = nil
	if !i.direction(false) {
		return false
	}
	i.it.Rewind()
	return i.moved()
}

func (i *iter) Last() bool {
	i.err = nil
	if !i.direction(true) {
		return false
	}
	i.it.Rewind()
	return i.moved()
}

// Seek positions at the first key >= key.
func (i *iter) Seek(key []byte) bool {
	i.err = nil
	if !i.direction(false) {
		return false
	}
	i.it.Seek(key)
	return i.moved()
}

func (i *iter) Next() bool {
	if !i.Valid() {
		return false
	}
	if i.reverse {
		cur := i.it.Item().KeyCopy(nil)
		i.direction(false)
		i.it.Seek(cur)
		if i.it.Valid() && bytes.Equal(i.it.Item().Key(), cur) {
			i.it.Next()
		}
		return i.moved()
	}
	i.it.Next()
	return i.moved()
}

func (i *iter) Prev() bool {
	if !i.Valid() {
		return false
	}
	if !i.reverse {
		cur := i.it.Item().KeyCopy(nil)
		i.direction(true)
		// A reverse Seek lands on the largest key <= cur.
		i.it.Seek(cur)
		if i.it.Valid() && bytes.Equal(i.it.Item().Key(), cur) {
			i.it.Next()
		}
		return i.moved()
	}
	i.it.Next()
	return i.moved()
}

func (i *iter) Valid() bool {
	return i.it != nil && i.err == nil && i.it.Valid()
}

func (i *iter) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.it.Item().Key()
}

func (i *iter) Value() []byte {
	if !i.Valid() {
		return nil
	}
	if !i.hasValue {
		v, err := i.it.Item().ValueCopy(i.value[:0])
		if err != nil {
			i.err = translateError(err)
			return nil
		}
		i.value, i.hasValue = v, true
	}
	return i.value
}

func (i *iter) Error() error { return i.err }

func (i *iter) Release() {
	if i.it != nil {
		i.it.Close()
		i.it = nil
	}
	if i.txn == nil {
		return
	}
	if i.ownsTxn {
		i.txn.Discard()
	}
	if i.onRelease != nil {
		i.onRelease()
	}
	i.txn = nil
}

var _ engine.Iterator = (*iter)(nil)
