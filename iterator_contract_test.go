package levelbind

// iterator_contract_test.go implements tests for the iterator contract.

import (
	"bytes"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/engine/enginetest"
	"github.com/aalhour/levelbind/internal/engine/memory"
)

// =============================================================================
// Iterator API Contract Tests
//
// These tests verify that the Iterator maintains its semantic contract on
// every backend. They document expected behavior and prevent regressions.
// =============================================================================

// forEachBackend runs fn against a fresh database of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, db *DB)) {
	for _, b := range allBackends {
		t.Run(string(b), func(t *testing.T) {
			db, _ := openBackend(t, b)
			fn(t, db)
		})
	}
}

func putKeys(t *testing.T, db *DB, keys ...string) {
	t.Helper()
	for _, k := range keys {
		mustPut(t, db, k, "v-"+k)
	}
}

// TestIterator_Contract_ValidOnlyWhenPositioned verifies that Valid() returns
// true only when the iterator is positioned at a valid entry.
//
// Contract: Valid() returns false for new iterators, after exhaustion, and
// after Close(). It returns true only after successful positioning.
func TestIterator_Contract_ValidOnlyWhenPositioned(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a", "b", "c")
		it := mustIterator(t, db, nil)

		if it.Valid() {
			t.Error("New iterator must not be valid before positioning")
		}
		if err := it.SeekToFirst(); err != nil {
			t.Fatalf("SeekToFirst failed: %v", err)
		}
		if !it.Valid() {
			t.Error("Iterator must be valid after SeekToFirst on non-empty DB")
		}
		for it.Valid() {
			if _, err := it.Next(); err != nil {
				t.Fatalf("Next failed: %v", err)
			}
		}
		if it.Valid() {
			t.Error("Iterator must not be valid after exhaustion")
		}
		if it.Error() != nil {
			t.Errorf("Exhaustion must not be an error, got %v", it.Error())
		}

		if err := it.SeekToLast(); err != nil {
			t.Fatalf("SeekToLast failed: %v", err)
		}
		_ = it.Close()
		if it.Valid() {
			t.Error("Iterator must not be valid after Close")
		}
	})
}

// TestIterator_Contract_ForwardVisitsEveryKeyOnce verifies that SeekToFirst
// followed by Next visits every key in ascending order exactly once.
func TestIterator_Contract_ForwardVisitsEveryKeyOnce(t *testing.T) {
	keys := enginetest.RandomKeys(7, 200)
	want := make([]string, len(keys))
	for i, k := range keys {
		want[i] = string(k)
	}
	sort.Strings(want)

	forEachBackend(t, func(t *testing.T, db *DB) {
		for _, k := range keys {
			if err := db.Put(nil, k, k); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		it := mustIterator(t, db, nil)
		var got []string
		if err := it.SeekToFirst(); err != nil {
			t.Fatalf("SeekToFirst failed: %v", err)
		}
		for it.Valid() {
			e, err := it.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if !bytes.Equal(e.Key, e.Value) {
				t.Fatalf("entry %q has value %q", e.Key, e.Value)
			}
			got = append(got, string(e.Key))
		}
		if !equalStrings(got, want) {
			t.Errorf("forward scan visited %d keys, want %d in ascending order", len(got), len(want))
		}
	})
}

// TestIterator_Contract_BackwardVisitsEveryKeyOnce verifies that SeekToLast
// followed by Prev visits every key in descending order exactly once.
func TestIterator_Contract_BackwardVisitsEveryKeyOnce(t *testing.T) {
	keys := enginetest.RandomKeys(11, 200)
	want := make([]string, len(keys))
	for i, k := range keys {
		want[i] = string(k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(want)))

	forEachBackend(t, func(t *testing.T, db *DB) {
		for _, k := range keys {
			if err := db.Put(nil, k, k); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		it := mustIterator(t, db, nil)
		var got []string
		if err := it.SeekToLast(); err != nil {
			t.Fatalf("SeekToLast failed: %v", err)
		}
		for it.Valid() {
			e, err := it.Prev()
			if err != nil {
				t.Fatalf("Prev failed: %v", err)
			}
			got = append(got, string(e.Key))
		}
		if !equalStrings(got, want) {
			t.Errorf("backward scan visited %d keys, want %d in descending order", len(got), len(want))
		}
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestIterator_Contract_Seek verifies that Seek lands on the smallest key >=
// target and that seeking past the end is not an error.
func TestIterator_Contract_Seek(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a", "c", "e")
		it := mustIterator(t, db, nil)

		tests := []struct {
			target string
			want   string // "" means invalid
		}{
			{"", "a"},
			{"a", "a"},
			{"b", "c"},
			{"e", "e"},
			{"f", ""},
		}
		for _, tt := range tests {
			if err := it.Seek([]byte(tt.target)); err != nil {
				t.Fatalf("Seek(%q) failed: %v", tt.target, err)
			}
			if tt.want == "" {
				if it.Valid() {
					t.Errorf("Seek(%q) positioned at %q, want invalid", tt.target, it.Key())
				}
				continue
			}
			if !it.Valid() || string(it.Key()) != tt.want {
				t.Errorf("Seek(%q) = %q (valid %v), want %q", tt.target, it.Key(), it.Valid(), tt.want)
			}
		}
	})
}

// TestIterator_Contract_SeekForPrev verifies that SeekForPrev lands on the
// largest key <= target, or is invalid when there is none.
func TestIterator_Contract_SeekForPrev(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a", "c", "e")
		it := mustIterator(t, db, nil)

		tests := []struct {
			target string
			want   string // "" means invalid
		}{
			{"d", "c"},
			{"", ""},
			{"e", "e"},
			{"a", "a"},
			{"b", "a"},
			{"z", "e"},
		}
		for _, tt := range tests {
			if err := it.SeekForPrev([]byte(tt.target)); err != nil {
				t.Fatalf("SeekForPrev(%q) failed: %v", tt.target, err)
			}
			if tt.want == "" {
				if it.Valid() {
					t.Errorf("SeekForPrev(%q) positioned at %q, want invalid", tt.target, it.Key())
				}
				continue
			}
			if !it.Valid() || string(it.Key()) != tt.want {
				t.Errorf("SeekForPrev(%q) = %q (valid %v), want %q", tt.target, it.Key(), it.Valid(), tt.want)
			}
		}
	})
}

// TestIterator_Contract_SeekForPrevEmpty verifies SeekForPrev on an empty
// database.
func TestIterator_Contract_SeekForPrevEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		it := mustIterator(t, db, nil)
		if err := it.SeekForPrev([]byte("k")); err != nil {
			t.Fatalf("SeekForPrev failed: %v", err)
		}
		if it.Valid() {
			t.Error("SeekForPrev on empty database must be invalid")
		}
	})
}

// TestIterator_Contract_LookThenMove verifies that Next and Prev return the
// entry that was current before the move.
func TestIterator_Contract_LookThenMove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a", "b", "c")
		it := mustIterator(t, db, nil)

		if err := it.Seek([]byte("b")); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		e, err := it.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if string(e.Key) != "b" || string(e.Value) != "v-b" {
			t.Errorf("Next returned %q=%q, want b=v-b", e.Key, e.Value)
		}
		if string(it.Key()) != "c" {
			t.Errorf("after Next at %q, want c", it.Key())
		}

		e, err = it.Prev()
		if err != nil {
			t.Fatalf("Prev failed: %v", err)
		}
		if string(e.Key) != "c" {
			t.Errorf("Prev returned %q, want c", e.Key)
		}
		if string(it.Key()) != "b" {
			t.Errorf("after Prev at %q, want b", it.Key())
		}

		cur, err := it.Current()
		if err != nil {
			t.Fatalf("Current failed: %v", err)
		}
		if string(cur.Key) != "b" || string(cur.Value) != "v-b" {
			t.Errorf("Current = %q=%q, want b=v-b", cur.Key, cur.Value)
		}
	})
}

// TestIterator_Contract_EntriesSurviveMoves verifies that entries returned by
// Next do not alias the iterator's buffers.
func TestIterator_Contract_EntriesSurviveMoves(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a", "b", "c", "d")
		it := mustIterator(t, db, nil)
		var entries []Entry
		for err := it.SeekToFirst(); it.Valid(); {
			var e Entry
			if e, err = it.Next(); err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			entries = append(entries, e)
		}
		for i, want := range []string{"a", "b", "c", "d"} {
			if string(entries[i].Key) != want || string(entries[i].Value) != "v-"+want {
				t.Errorf("entry %d = %q=%q, want %s", i, entries[i].Key, entries[i].Value, want)
			}
		}
	})
}

// TestIterator_Contract_IllegalState verifies that operations requiring a
// current entry fail with ErrIllegalState on an invalid iterator.
func TestIterator_Contract_IllegalState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a")
		it := mustIterator(t, db, nil)

		if _, err := it.Current(); !errors.Is(err, ErrIllegalState) {
			t.Errorf("Current on new iterator = %v, want ErrIllegalState", err)
		}
		if _, err := it.Next(); !errors.Is(err, ErrIllegalState) {
			t.Errorf("Next on new iterator = %v, want ErrIllegalState", err)
		}
		if _, err := it.Prev(); !errors.Is(err, ErrIllegalState) {
			t.Errorf("Prev on new iterator = %v, want ErrIllegalState", err)
		}
		if it.Key() != nil || it.Value() != nil {
			t.Error("Key and Value must be nil on an invalid iterator")
		}

		if err := it.Seek([]byte("b")); err != nil {
			t.Fatalf("Seek past end failed: %v", err)
		}
		if _, err := it.Next(); !errors.Is(err, ErrIllegalState) {
			t.Errorf("Next past end = %v, want ErrIllegalState", err)
		}
	})
}

// TestIterator_Contract_DirectionChange verifies alternating Next and Prev.
func TestIterator_Contract_DirectionChange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		putKeys(t, db, "a", "b", "c", "d")
		it := mustIterator(t, db, nil)
		if err := it.Seek([]byte("b")); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		steps := []struct {
			forward bool
			at      string
		}{
			{true, "c"}, {true, "d"}, {false, "c"}, {false, "b"}, {false, "a"}, {true, "b"},
		}
		for i, s := range steps {
			var err error
			if s.forward {
				_, err = it.Next()
			} else {
				_, err = it.Prev()
			}
			if err != nil {
				t.Fatalf("step %d failed: %v", i, err)
			}
			if string(it.Key()) != s.at {
				t.Fatalf("step %d at %q, want %q", i, it.Key(), s.at)
			}
		}
	})
}

// TestIterator_Contract_CloseIdempotent verifies that Close can be called
// more than once.
func TestIterator_Contract_CloseIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		it, err := db.NewIterator(nil)
		if err != nil {
			t.Fatalf("NewIterator failed: %v", err)
		}
		if err := it.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := it.Close(); err != nil {
			t.Fatalf("second Close failed: %v", err)
		}
		if err := it.SeekToFirst(); !errors.Is(err, ErrClosed) {
			t.Errorf("SeekToFirst after Close = %v, want ErrClosed", err)
		}
		if n, _ := db.GetProperty(PropertyOpenIterators); n != "0" {
			t.Errorf("open iterators = %s, want 0", n)
		}
	})
}

// TestIterator_Contract_Comparator verifies that a custom comparator orders
// iteration on backends that accept one.
func TestIterator_Contract_Comparator(t *testing.T) {
	for _, b := range []Backend{BackendLevelDB, BackendMemory} {
		t.Run(string(b), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Backend = b
			opts.Comparator = ReverseBytewiseComparator{}
			db, err := Open(filepath.Join(t.TempDir(), "db"), opts)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer db.Close()
			putKeys(t, db, "a", "c", "e")

			it := mustIterator(t, db, nil)
			if err := it.SeekToFirst(); err != nil || string(it.Key()) != "e" {
				t.Errorf("SeekToFirst = %q, %v, want e", it.Key(), err)
			}
			// Under reverse order "the largest key <= d" is e.
			if err := it.SeekForPrev([]byte("d")); err != nil || string(it.Key()) != "e" {
				t.Errorf("SeekForPrev(d) = %q, %v, want e", it.Key(), err)
			}
			if name, _ := db.GetProperty(PropertyComparator); name != "rocksdb.ReverseBytewiseComparator" {
				t.Errorf("comparator property = %q", name)
			}
		})
	}
}

// TestIterator_Contract_ArenaEntries verifies that entries are placed in the
// read arena when one is set.
func TestIterator_Contract_ArenaEntries(t *testing.T) {
	db, _ := openBackend(t, BackendMemory)
	putKeys(t, db, "a", "b")

	a := NewArena()
	it := mustIterator(t, db, &ReadOptions{Arena: a})
	a.Push(0)
	if err := it.SeekToFirst(); err != nil {
		t.Fatalf("SeekToFirst failed: %v", err)
	}
	for it.Valid() {
		if _, err := it.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	a.Pop()
	if st := a.Stats(); st.Allocated != 4 || st.Released != 4 {
		t.Errorf("arena stats = %+v, want 4 buffers allocated and released", st)
	}
}

// =============================================================================
// Fault handling
// =============================================================================

func openFaulty(t *testing.T) (*DB, *memory.Engine) {
	t.Helper()
	r, mem := memRuntime(t)
	db, err := r.Open(filepath.Join(t.TempDir(), "db"), memOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	putKeys(t, db, "a", "c", "e")
	return db, mem
}

// TestIterator_NotFoundDegradesToInvalid verifies that an engine "not found"
// fault while positioning leaves the iterator invalid without an error.
func TestIterator_NotFoundDegradesToInvalid(t *testing.T) {
	db, mem := openFaulty(t)
	it := mustIterator(t, db, nil)
	mem.Inject(memory.Faults{Seek: engine.ErrNotFound})

	if err := it.Seek([]byte("a")); err != nil {
		t.Errorf("Seek = %v, want nil", err)
	}
	if it.Valid() {
		t.Error("iterator must be invalid after a not-found seek")
	}
	if err := it.SeekForPrev([]byte("d")); err != nil {
		t.Errorf("SeekForPrev = %v, want nil", err)
	}
	if it.Valid() || it.Error() != nil {
		t.Errorf("after SeekForPrev: valid %v, error %v", it.Valid(), it.Error())
	}
	if _, err := it.Current(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Current = %v, want ErrIllegalState", err)
	}

	mem.Inject(memory.Faults{})
	if err := it.SeekForPrev([]byte("d")); err != nil || string(it.Key()) != "c" {
		t.Errorf("SeekForPrev after clearing faults = %q, %v, want c", it.Key(), err)
	}
}

// TestIterator_FaultsAreCursorErrors verifies that any other engine fault is
// returned as a *CursorError and invalidates the iterator.
func TestIterator_FaultsAreCursorErrors(t *testing.T) {
	db, mem := openFaulty(t)
	it := mustIterator(t, db, nil)

	mem.Inject(memory.Faults{Seek: boom})
	err := it.SeekToFirst()
	var cerr *CursorError
	if !errors.As(err, &cerr) || cerr.Op != "SeekToFirst" {
		t.Fatalf("SeekToFirst = %v, want CursorError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the engine fault", err)
	}
	if it.Valid() || !errors.Is(it.Error(), boom) {
		t.Errorf("after fault: valid %v, error %v", it.Valid(), it.Error())
	}
	if err := it.SeekForPrev([]byte("d")); !errors.As(err, &cerr) || cerr.Op != "SeekForPrev" {
		t.Errorf("SeekForPrev = %v, want CursorError", err)
	}

	mem.Inject(memory.Faults{Move: boom})
	if err := it.SeekToFirst(); err != nil {
		t.Fatalf("SeekToFirst failed: %v", err)
	}
	if _, err := it.Next(); !errors.As(err, &cerr) || cerr.Op != "Next" {
		t.Errorf("Next = %v, want CursorError", err)
	}
	if it.Valid() {
		t.Error("iterator must be invalid after a failed move")
	}

	// A fault on one call does not poison the next positioning call.
	mem.Inject(memory.Faults{})
	if err := it.SeekToLast(); err != nil || string(it.Key()) != "e" {
		t.Errorf("SeekToLast after clearing faults = %q, %v, want e", it.Key(), err)
	}
	if it.Error() != nil {
		t.Errorf("Error() = %v after successful seek", it.Error())
	}
}
