package levelbind

// helpers_test.go implements shared fixtures for the package tests.

import (
	"path/filepath"
	"testing"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/engine/memory"
)

// allBackends lists every built-in backend for table-driven tests.
var allBackends = []Backend{BackendLevelDB, BackendBadger, BackendBbolt, BackendMemory}

// memRuntime returns a loaded runtime whose only backend is a fresh memory
// engine, so resource counters and faults are private to the test.
func memRuntime(t *testing.T) (*Runtime, *memory.Engine) {
	t.Helper()
	mem := memory.New()
	r := newRuntime(func() ([]engine.Engine, error) {
		return []engine.Engine{mem}, nil
	})
	if err := r.EnsureLoaded(); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}
	return r, mem
}

func memOptions() *Options {
	opts := DefaultOptions()
	opts.Backend = BackendMemory
	return opts
}

// openBackend opens a fresh database of the given backend in a temp dir.
func openBackend(t *testing.T, b Backend) (*DB, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	opts := DefaultOptions()
	opts.Backend = b
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", b, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, dir
}

func mustPut(t *testing.T, db *DB, key, value string) {
	t.Helper()
	if err := db.Put(nil, []byte(key), []byte(value)); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

func mustIterator(t *testing.T, db *DB, ro *ReadOptions) *Iterator {
	t.Helper()
	it, err := db.NewIterator(ro)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	t.Cleanup(func() { _ = it.Close() })
	return it
}
