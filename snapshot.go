package levelbind

// snapshot.go implements snapshot management.
//
// Snapshots provide consistent point-in-time views of the database.
// All reads from a snapshot see the database state at creation time.

import (
	"sync/atomic"
	"time"

	"github.com/aalhour/levelbind/internal/engine"
)

// Snapshot provides a consistent read view of the database. Pass it in
// ReadOptions.Snapshot to read from it.
type Snapshot struct {
	db        *DB
	es        engine.Snapshot
	released  atomic.Bool
	createdAt time.Time
}

func newSnapshot(db *DB, es engine.Snapshot) *Snapshot {
	return &Snapshot{db: db, es: es, createdAt: time.Now()}
}

// CreatedAt returns the time the snapshot was taken.
func (s *Snapshot) CreatedAt() time.Time {
	return s.createdAt
}

// Released reports whether the snapshot has been released.
func (s *Snapshot) Released() bool {
	return s.released.Load()
}

// Release releases the snapshot and closes every iterator reading from it.
// After calling Release, the snapshot should not be used. Calls after the
// first are no-ops.
func (s *Snapshot) Release() {
	s.db.releaseSnapshot(s)
}
