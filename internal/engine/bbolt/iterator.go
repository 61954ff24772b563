package bbolt

import (
	"bytes"
	"fmt"

	"github.com/tidwall/btree"
	"go.etcd.io/bbolt"

	"github.com/aalhour/levelbind/internal/engine"
)

// iter walks a view. Every positioning call runs in its own read transaction
// and re-seeks from the current key, which the iterator keeps as a copy.
type iter struct {
	v *view

	key, value []byte
	err        error
}

func newIter(v *view) *iter {
	return &iter{v: v}
}

func (i *iter) position(find func(m *merge) ([]byte, []byte)) bool {
	if i.v == nil {
		return false
	}
	i.err = nil
	i.key, i.value = nil, nil
	err := i.v.d.bdb.View(func(tx *bbolt.Tx) error {
		m := &merge{c: bucket(tx).Cursor(), saved: i.v.state()}
		k, v := find(m)
		if k != nil {
			i.key = bytes.Clone(k)
			i.value = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		i.err = fmt.Errorf("bbolt: %w", err)
		i.key, i.value = nil, nil
	}
	return i.key != nil
}

func (i *iter) First() bool {
	return i.position(func(m *merge) ([]byte, []byte) { return m.after(nil, false) })
}

func (i *iter) Last() bool {
	return i.position(func(m *merge) ([]byte, []byte) { return m.before(nil, false) })
}

// Seek positions at the first key >= key.
func (i *iter) Seek(key []byte) bool {
	return i.position(func(m *merge) ([]byte, []byte) { return m.after(key, false) })
}

func (i *iter) Next() bool {
	if i.key == nil {
		return false
	}
	cur := i.key
	return i.position(func(m *merge) ([]byte, []byte) { return m.after(cur, true) })
}

func (i *iter) Prev() bool {
	if i.key == nil {
		return false
	}
	cur := i.key
	return i.position(func(m *merge) ([]byte, []byte) { return m.before(cur, true) })
}

func (i *iter) Valid() bool   { return i.key != nil }
func (i *iter) Key() []byte   { return i.key }
func (i *iter) Value() []byte { return i.value }
func (i *iter) Error() error  { return i.err }

func (i *iter) Release() {
	if i.v == nil {
		return
	}
	i.v.release()
	i.v = nil
	i.key, i.value = nil, nil
}

// merge reads the bucket as a view saw it: a saved preimage shadows the live
// entry for its key.
type merge struct {
	c     *bbolt.Cursor
	saved *btree.BTreeG[preimage]
}

func (m *merge) shadowed(k []byte) bool {
	_, ok := m.saved.Get(preimage{key: k})
	return ok
}

// after returns the smallest key in the view that is >= target, or > target
// when strict. A nil target means the first key.
func (m *merge) after(target []byte, strict bool) ([]byte, []byte) {
	var k, v []byte
	if target == nil {
		k, v = m.c.First()
	} else {
		k, v = m.c.Seek(target)
		if strict && bytes.Equal(k, target) {
			k, v = m.c.Next()
		}
	}
	for k != nil && m.shadowed(k) {
		k, v = m.c.Next()
	}

	var found *preimage
	visit := func(p preimage) bool {
		if !p.present || (strict && bytes.Equal(p.key, target)) {
			return true
		}
		found = &p
		return false
	}
	if target == nil {
		m.saved.Scan(visit)
	} else {
		m.saved.Ascend(preimage{key: target}, visit)
	}

	if found != nil && (k == nil || bytes.Compare(found.key, k) < 0) {
		return found.key, found.value
	}
	return k, v
}

// before returns the largest key in the view that is <= target, or < target
// when strict. A nil target means the last key.
func (m *merge) before(target []byte, strict bool) ([]byte, []byte) {
	var k, v []byte
	if target == nil {
		k, v = m.c.Last()
	} else {
		k, v = m.c.Seek(target)
		switch {
		case k == nil:
			k, v = m.c.Last()
		case strict || !bytes.Equal(k, target):
			k, v = m.c.Prev()
		}
	}
	for k != nil && m.shadowed(k) {
		k, v = m.c.Prev()
	}

	var found *preimage
	visit := func(p preimage) bool {
		if !p.present || (strict && bytes.Equal(p.key, target)) {
			return true
		}
		found = &p
		return false
	}
	if target == nil {
		m.saved.Reverse(visit)
	} else {
		m.saved.Descend(preimage{key: target}, visit)
	}

	if found != nil && (k == nil || bytes.Compare(found.key, k) > 0) {
		return found.key, found.value
	}
	return k, v
}

var _ engine.Iterator = (*iter)(nil)
