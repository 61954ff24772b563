package levelbind

// resources_test.go implements tests for the resource bundle lifecycle.

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aalhour/levelbind/internal/engine/enginetest"
	"github.com/aalhour/levelbind/internal/engine/memory"
)

var boom = errors.New("boom")

// fullOptions asks for every auxiliary resource.
func fullOptions() *Options {
	opts := memOptions()
	opts.CacheSize = 1 << 20
	opts.BloomFilterBitsPerKey = 10
	opts.Comparator = BytewiseComparator{}
	opts.Logger = &enginetest.Sink{}
	return opts
}

var allKinds = []memory.Kind{memory.KindCache, memory.KindFilter, memory.KindComparator, memory.KindLogger}

func TestBundleRollbackOnFilterFailure(t *testing.T) {
	r, mem := memRuntime(t)
	mem.Inject(memory.Faults{Filter: boom})

	opts := memOptions()
	opts.CacheSize = 1 << 20
	opts.BloomFilterBitsPerKey = 10
	_, err := r.Open(filepath.Join(t.TempDir(), "db"), opts)

	var rerr *ResourceError
	if !errors.As(err, &rerr) {
		t.Fatalf("Open error = %v, want *ResourceError", err)
	}
	if rerr.Resource != "filter" {
		t.Errorf("Resource = %q, want filter", rerr.Resource)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the engine fault", err)
	}
	if got := mem.Counts(memory.KindCache); got != (memory.Counts{Constructed: 1, Released: 1}) {
		t.Errorf("cache counts = %+v, want constructed 1 released 1", got)
	}
	if mem.Live() != 0 {
		t.Errorf("Live() = %d after failed open", mem.Live())
	}
}

func TestBundleRollbackAtEveryStep(t *testing.T) {
	tests := []struct {
		resource string
		faults   memory.Faults
		built    int // resources constructed before the failing one
	}{
		{"cache", memory.Faults{Cache: boom}, 0},
		{"filter", memory.Faults{Filter: boom}, 1},
		{"comparator", memory.Faults{Comparator: boom}, 2},
		{"logger", memory.Faults{Logger: boom}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			r, mem := memRuntime(t)
			mem.Inject(tt.faults)

			_, err := r.Open(filepath.Join(t.TempDir(), "db"), fullOptions())
			var rerr *ResourceError
			if !errors.As(err, &rerr) || rerr.Resource != tt.resource {
				t.Fatalf("Open error = %v, want ResourceError for %s", err, tt.resource)
			}
			for i, kind := range allKinds {
				want := memory.Counts{}
				if i < tt.built {
					want = memory.Counts{Constructed: 1, Released: 1}
				}
				if got := mem.Counts(kind); got != want {
					t.Errorf("%s counts = %+v, want %+v", kind, got, want)
				}
			}
			if mem.Live() != 0 {
				t.Errorf("Live() = %d, want 0", mem.Live())
			}
		})
	}
}

func TestOpenFailureReleasesBundle(t *testing.T) {
	r, mem := memRuntime(t)
	mem.Inject(memory.Faults{Open: boom})

	_, err := r.Open(filepath.Join(t.TempDir(), "db"), fullOptions())
	var oerr *OpenError
	if !errors.As(err, &oerr) || oerr.Op != "open" {
		t.Fatalf("Open error = %v, want *OpenError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the engine fault", err)
	}
	for _, kind := range allKinds {
		if got := mem.Counts(kind); got != (memory.Counts{Constructed: 1, Released: 1}) {
			t.Errorf("%s counts = %+v, want constructed 1 released 1", kind, got)
		}
	}
}

func TestCreateIfMissingAndErrorIfExists(t *testing.T) {
	r, mem := memRuntime(t)
	path := filepath.Join(t.TempDir(), "db")

	opts := fullOptions()
	opts.CreateIfMissing = false
	_, err := r.Open(path, opts)
	if !errors.Is(err, ErrDBNotFound) {
		t.Fatalf("Open without create_if_missing = %v, want ErrDBNotFound", err)
	}

	db, err := r.Open(path, fullOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	opts = fullOptions()
	opts.ErrorIfExists = true
	_, err = r.Open(path, opts)
	if !errors.Is(err, ErrDBExists) {
		t.Fatalf("Open with error_if_exists = %v, want ErrDBExists", err)
	}
	var oerr *OpenError
	if !errors.As(err, &oerr) || oerr.Path != path {
		t.Errorf("error %v is not an OpenError for %s", err, path)
	}
	if mem.Live() != 0 {
		t.Errorf("Live() = %d after failed opens", mem.Live())
	}
}

func TestResourcesLiveUntilClose(t *testing.T) {
	r, mem := memRuntime(t)
	db, err := r.Open(filepath.Join(t.TempDir(), "db"), fullOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if mem.Live() != len(allKinds) {
		t.Fatalf("Live() = %d while open, want %d", mem.Live(), len(allKinds))
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	for _, kind := range allKinds {
		if got := mem.Counts(kind); got != (memory.Counts{Constructed: 1, Released: 1}) {
			t.Errorf("%s counts = %+v, want constructed 1 released 1", kind, got)
		}
	}
}

func TestDestroyAndRepairReleaseBundle(t *testing.T) {
	r, mem := memRuntime(t)
	path := filepath.Join(t.TempDir(), "db")
	db, err := r.Open(path, memOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustPut(t, db, "k", "v")
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := r.RepairDB(path, fullOptions()); err != nil {
		t.Fatalf("RepairDB failed: %v", err)
	}
	if mem.Live() != 0 {
		t.Errorf("Live() = %d after RepairDB", mem.Live())
	}

	mem.Inject(memory.Faults{Repair: boom})
	err = r.RepairDB(path, fullOptions())
	var oerr *OpenError
	if !errors.As(err, &oerr) || oerr.Op != "repair" {
		t.Fatalf("RepairDB error = %v, want OpenError op repair", err)
	}
	if mem.Live() != 0 {
		t.Errorf("Live() = %d after failed RepairDB", mem.Live())
	}
	mem.Inject(memory.Faults{})

	if err := r.DestroyDB(path, fullOptions()); err != nil {
		t.Fatalf("DestroyDB failed: %v", err)
	}
	if mem.Live() != 0 {
		t.Errorf("Live() = %d after DestroyDB", mem.Live())
	}
	if err := r.RepairDB(path, memOptions()); !errors.Is(err, ErrDBNotFound) {
		t.Errorf("RepairDB after destroy = %v, want ErrDBNotFound", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	_, mem := memRuntime(t)
	b, err := buildBundle(mem, fullOptions(), newLogger(memOptions()))
	if err != nil {
		t.Fatalf("buildBundle failed: %v", err)
	}
	if b.engineOptions().Cache == nil || b.engineOptions().InfoLog == nil {
		t.Fatal("bundle did not attach its resources to the engine options")
	}
	b.release()
	b.release()
	for _, kind := range allKinds {
		if got := mem.Counts(kind); got.Released != 1 {
			t.Errorf("%s released %d times, want 1", kind, got.Released)
		}
	}
	if b.engineOptions().Cache != nil {
		t.Error("released bundle still exposes its cache")
	}
}

func TestNoResourcesRequested(t *testing.T) {
	_, mem := memRuntime(t)
	b, err := buildBundle(mem, memOptions(), newLogger(memOptions()))
	if err != nil {
		t.Fatalf("buildBundle failed: %v", err)
	}
	defer b.release()
	eo := b.engineOptions()
	if eo.Cache != nil || eo.Filter != nil || eo.Comparator != nil || eo.InfoLog != nil {
		t.Errorf("unexpected resources: %+v", eo)
	}
	if eo.BlockSize != 4096 || eo.BlockRestartInterval != 16 {
		t.Errorf("engine options not copied: %+v", eo)
	}
}

func TestUnsupportedComparator(t *testing.T) {
	for _, b := range []Backend{BackendBadger, BackendBbolt} {
		t.Run(string(b), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Backend = b
			opts.Comparator = ReverseBytewiseComparator{}
			_, err := Open(filepath.Join(t.TempDir(), "db"), opts)
			var rerr *ResourceError
			if !errors.As(err, &rerr) || rerr.Resource != "comparator" {
				t.Fatalf("Open error = %v, want ResourceError for comparator", err)
			}
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("error %v does not wrap ErrUnsupported", err)
			}
		})
	}
}
