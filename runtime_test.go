package levelbind

// runtime_test.go implements tests for the initialization context.

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/engine/memory"
)

func TestEnsureLoadedOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	r := newRuntime(func() ([]engine.Engine, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return []engine.Engine{memory.New()}, nil
	})

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(r.EnsureLoaded)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("loader ran %d times, want 1", calls.Load())
	}
	if !r.Loaded() {
		t.Error("runtime not loaded")
	}
	if err := r.EnsureLoaded(); err != nil || calls.Load() != 1 {
		t.Errorf("EnsureLoaded after load = %v, loader calls %d", err, calls.Load())
	}
}

func TestEnsureLoadedRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	r := newRuntime(func() ([]engine.Engine, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return []engine.Engine{memory.New()}, nil
	})

	if err := r.EnsureLoaded(); !errors.Is(err, boom) {
		t.Fatalf("first EnsureLoaded = %v, want load failure", err)
	}
	if r.Loaded() {
		t.Fatal("runtime loaded after a failed load")
	}
	db, err := r.Open(t.TempDir(), memOptions())
	if err != nil {
		t.Fatalf("Open after failed load = %v", err)
	}
	_ = db.Close()
	if !r.Loaded() || calls.Load() != 2 {
		t.Errorf("loaded %v after %d loader calls, want loaded after 2", r.Loaded(), calls.Load())
	}
}

func TestDuplicateBackend(t *testing.T) {
	r := newRuntime(func() ([]engine.Engine, error) {
		return []engine.Engine{memory.New(), memory.New()}, nil
	})
	if err := r.EnsureLoaded(); err == nil || !strings.Contains(err.Error(), "duplicate backend") {
		t.Errorf("EnsureLoaded = %v, want duplicate backend error", err)
	}
	if r.Loaded() {
		t.Error("runtime loaded with a duplicate backend")
	}
}

func TestBackends(t *testing.T) {
	r := NewRuntime()
	if got := r.String(); !strings.Contains(got, "not loaded") {
		t.Errorf("String before load = %q", got)
	}
	names, err := r.Backends()
	if err != nil {
		t.Fatalf("Backends failed: %v", err)
	}
	want := []Backend{BackendBadger, BackendBbolt, BackendLevelDB, BackendMemory}
	if len(names) != len(want) {
		t.Fatalf("Backends = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Backends[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	if got := r.String(); got != "levelbind "+Version+" (badger, bbolt, leveldb, memory)" {
		t.Errorf("String = %q", got)
	}
}

func TestDefaultRuntime(t *testing.T) {
	if Default() != Default() {
		t.Error("Default returned different runtimes")
	}
	if _, err := Default().Backends(); err != nil {
		t.Fatalf("Backends failed: %v", err)
	}
	if !Default().Loaded() {
		t.Error("default runtime not loaded after use")
	}
}

func TestEmptyBackendIsLevelDB(t *testing.T) {
	if Backend("").String() != "leveldb" {
		t.Errorf("empty backend = %q", Backend("").String())
	}
	opts := DefaultOptions()
	opts.Backend = ""
	db, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	if db.Backend() != BackendLevelDB {
		t.Errorf("Backend = %s", db.Backend())
	}
}
