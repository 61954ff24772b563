// write_batch.go implements the public WriteBatch API for atomic writes.
package levelbind

import (
	"github.com/aalhour/levelbind/internal/engine"
)

// WriteBatch holds a collection of writes to be applied atomically.
// Keys and values are copied, so you can modify them after calling Put/Delete.
//
// A WriteBatch can be reused by calling Clear() after Write().
//
// Example:
//
//	wb := levelbind.NewWriteBatch()
//	wb.Put([]byte("key1"), []byte("value1"))
//	wb.Put([]byte("key2"), []byte("value2"))
//	wb.Delete([]byte("key3"))
//	err := database.Write(writeOpts, wb)
//	wb.Clear() // Reuse the batch
type WriteBatch struct {
	ops  []engine.Op
	size int
}

// NewWriteBatch creates a new empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func clone(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}

// Put adds a key-value pair to the batch.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.ops = append(wb.ops, engine.Op{Kind: engine.OpPut, Key: clone(key), Value: clone(value)})
	wb.size += len(key) + len(value)
}

// Delete adds a deletion for the key to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	wb.ops = append(wb.ops, engine.Op{Kind: engine.OpDelete, Key: clone(key)})
	wb.size += len(key)
}

// Clear removes all operations from the batch.
func (wb *WriteBatch) Clear() {
	clear(wb.ops)
	wb.ops = wb.ops[:0]
	wb.size = 0
}

// Count returns the number of operations in the batch.
func (wb *WriteBatch) Count() int {
	return len(wb.ops)
}

// Size returns the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int {
	return wb.size
}
