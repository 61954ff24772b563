// Package enginetest is the behavioural contract every engine backend must
// satisfy. Backend packages call Run from their own tests.
package enginetest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/levelbind/internal/engine"
)

// Config describes the backend under test.
type Config struct {
	// New returns a fresh engine. It is called once per subtest.
	New func(t *testing.T) engine.Engine

	// Comparators reports whether the backend accepts custom comparators.
	Comparators bool
}

// Run executes the contract suite.
func Run(t *testing.T, cfg Config) {
	tests := []struct {
		name string
		fn   func(t *testing.T, cfg Config)
	}{
		{"CreateIfMissing", testCreateIfMissing},
		{"ErrorIfExists", testErrorIfExists},
		{"PutGetDelete", testPutGetDelete},
		{"GetAlloc", testGetAlloc},
		{"BatchAtomic", testBatchAtomic},
		{"Reopen", testReopen},
		{"DestroyReopenEmpty", testDestroyReopenEmpty},
		{"DestroyKeepsForeignFiles", testDestroyKeepsForeignFiles},
		{"RepairMissing", testRepairMissing},
		{"IterateForward", testIterateForward},
		{"IterateBackward", testIterateBackward},
		{"Seek", testSeek},
		{"DirectionChange", testDirectionChange},
		{"EmptyIterator", testEmptyIterator},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"GrowWithOpenReaders", testGrowWithOpenReaders},
		{"KeysAreIteratorOwned", testKeysAreIteratorOwned},
		{"Comparator", testComparator},
		{"InfoLog", testInfoLog},
		{"Resources", testResources},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, cfg) })
	}
}

func defaultOptions() *engine.Options {
	return &engine.Options{
		CreateIfMissing: true,
		Compression:     engine.CompressionSnappy,
	}
}

func open(t *testing.T, eng engine.Engine, path string, o *engine.Options) engine.DB {
	t.Helper()
	db, err := eng.Open(path, o)
	require.NoError(t, err)
	return db
}

// RandomKeys returns n distinct non-empty keys in random order.
func RandomKeys(seed int64, n int) [][]byte {
	faker := gofakeit.New(seed)
	seen := make(map[string]bool, n)
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := fmt.Sprintf("%s-%d", faker.Word(), faker.Number(0, 1<<20))
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, []byte(k))
	}
	return keys
}

func sortedCopy(keys [][]byte) [][]byte {
	out := append([][]byte(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

func fill(t *testing.T, db engine.DB, keys [][]byte) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, db.Put(k, append([]byte("v:"), k...), false))
	}
}

func testCreateIfMissing(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	path := filepath.Join(t.TempDir(), "db")

	_, err := eng.Open(path, &engine.Options{})
	require.ErrorIs(t, err, engine.ErrMissing)

	db := open(t, eng, path, defaultOptions())
	require.NoError(t, db.Close())
}

func testErrorIfExists(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	path := filepath.Join(t.TempDir(), "db")
	require.NoError(t, open(t, eng, path, defaultOptions()).Close())

	o := defaultOptions()
	o.ErrorIfExists = true
	_, err := eng.Open(path, o)
	require.ErrorIs(t, err, engine.ErrExists)
}

func testPutGetDelete(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v"), true))
	v, err := db.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, db.Put([]byte("empty"), nil, false))
	v, err = db.Get([]byte("empty"), nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Empty(t, v)

	require.NoError(t, db.Delete([]byte("k"), false))
	_, err = db.Get([]byte("k"), nil)
	require.ErrorIs(t, err, engine.ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, db.Delete([]byte("missing"), false))
}

func testGetAlloc(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("value"), false))
	var calls int
	buf := make([]byte, 64)
	alloc := func(n int) []byte {
		calls++
		return buf[:n]
	}
	v, err := db.Get([]byte("k"), alloc)
	require.NoError(t, err)
	require.Equal(t, []byte("value"), v)
	require.Equal(t, 1, calls)
	require.Equal(t, &buf[0], &v[0])
}

func testBatchAtomic(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()

	require.NoError(t, db.Put([]byte("gone"), []byte("x"), false))
	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	ops := []engine.Op{
		{Kind: engine.OpPut, Key: []byte("a"), Value: []byte("1")},
		{Kind: engine.OpPut, Key: []byte("b"), Value: []byte("2")},
		{Kind: engine.OpDelete, Key: []byte("gone")},
		{Kind: engine.OpPut, Key: []byte("a"), Value: []byte("3")},
	}
	require.NoError(t, db.Write(ops, true))

	v, err := db.Get([]byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)
	_, err = db.Get([]byte("gone"), nil)
	require.ErrorIs(t, err, engine.ErrNotFound)

	_, err = snap.Get([]byte("a"), nil)
	require.ErrorIs(t, err, engine.ErrNotFound)
	v, err = snap.Get([]byte("gone"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), v)
}

func testReopen(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	path := filepath.Join(t.TempDir(), "db")
	keys := RandomKeys(1, 50)

	db := open(t, eng, path, defaultOptions())
	fill(t, db, keys)
	require.NoError(t, db.Close())

	db = open(t, eng, path, &engine.Options{})
	defer db.Close()
	for _, k := range keys {
		v, err := db.Get(k, nil)
		require.NoError(t, err)
		require.Equal(t, append([]byte("v:"), k...), v)
	}
}

func testDestroyReopenEmpty(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	path := filepath.Join(t.TempDir(), "db")

	db := open(t, eng, path, defaultOptions())
	require.NoError(t, db.Put([]byte("k"), []byte("v"), false))
	require.NoError(t, db.Close())

	require.NoError(t, eng.Destroy(path, defaultOptions()))
	_, err := eng.Open(path, &engine.Options{})
	require.ErrorIs(t, err, engine.ErrMissing)

	db = open(t, eng, path, defaultOptions())
	defer db.Close()
	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()
	require.False(t, it.First())

	// Destroying a path that never existed succeeds.
	require.NoError(t, eng.Destroy(filepath.Join(t.TempDir(), "none"), defaultOptions()))
}

func testDestroyKeepsForeignFiles(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep me"), 0o644))

	// Not a database: nothing is removed.
	require.NoError(t, eng.Destroy(dir, defaultOptions()))
	require.FileExists(t, notes)

	// A database sharing the directory loses only its own files.
	db := open(t, eng, dir, defaultOptions())
	fill(t, db, RandomKeys(4, 20))
	require.NoError(t, db.Close())
	require.NoError(t, eng.Destroy(dir, defaultOptions()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "notes.txt", entries[0].Name())
	_, err = eng.Open(dir, &engine.Options{})
	require.ErrorIs(t, err, engine.ErrMissing)
}

func testRepairMissing(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	path := filepath.Join(t.TempDir(), "db")
	require.Error(t, eng.Repair(path, defaultOptions()))

	db := open(t, eng, path, defaultOptions())
	require.NoError(t, db.Put([]byte("k"), []byte("v"), true))
	require.NoError(t, db.Close())
	require.NoError(t, eng.Repair(path, defaultOptions()))

	db = open(t, eng, path, defaultOptions())
	defer db.Close()
	v, err := db.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func testIterateForward(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	keys := RandomKeys(2, 200)
	fill(t, db, keys)

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	var got [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, bytes.Clone(it.Key()))
		require.Equal(t, append([]byte("v:"), it.Key()...), it.Value())
	}
	require.NoError(t, it.Error())
	require.Equal(t, sortedCopy(keys), got)
	require.False(t, it.Valid())
}

func testIterateBackward(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	keys := RandomKeys(3, 200)
	fill(t, db, keys)

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	var got [][]byte
	for ok := it.Last(); ok; ok = it.Prev() {
		got = append(got, bytes.Clone(it.Key()))
	}
	want := sortedCopy(keys)
	for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
		want[i], want[j] = want[j], want[i]
	}
	require.Equal(t, want, got)
	require.False(t, it.Valid())
}

func testSeek(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	fill(t, db, [][]byte{[]byte("a"), []byte("c"), []byte("e")})

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	tests := []struct {
		target string
		want   string
	}{
		{"0", "a"},
		{"a", "a"},
		{"b", "c"},
		{"d", "e"},
		{"e", "e"},
		{"f", ""},
	}
	for _, tt := range tests {
		ok := it.Seek([]byte(tt.target))
		if tt.want == "" {
			require.False(t, ok, "Seek(%q)", tt.target)
			require.False(t, it.Valid())
			continue
		}
		require.True(t, ok, "Seek(%q)", tt.target)
		require.Equal(t, tt.want, string(it.Key()), "Seek(%q)", tt.target)
	}
}

func testDirectionChange(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	fill(t, db, [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	require.True(t, it.Seek([]byte("b")))
	require.True(t, it.Next())
	require.Equal(t, "c", string(it.Key()))
	require.True(t, it.Prev())
	require.Equal(t, "b", string(it.Key()))
	require.True(t, it.Prev())
	require.Equal(t, "a", string(it.Key()))
	require.True(t, it.Next())
	require.Equal(t, "b", string(it.Key()))

	require.True(t, it.Last())
	require.True(t, it.Prev())
	require.Equal(t, "c", string(it.Key()))
	require.True(t, it.Next())
	require.Equal(t, "d", string(it.Key()))
	require.False(t, it.Next())

	require.True(t, it.First())
	require.False(t, it.Prev())
	require.False(t, it.Valid())
}

func testEmptyIterator(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()

	it, err := db.NewIterator()
	require.NoError(t, err)
	require.False(t, it.Valid())
	require.False(t, it.First())
	require.False(t, it.Last())
	require.False(t, it.Seek([]byte("x")))
	require.Nil(t, it.Key())
	require.NoError(t, it.Error())
	it.Release()
	it.Release()
}

func testSnapshotIsolation(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	fill(t, db, [][]byte{[]byte("a"), []byte("b")})

	snap, err := db.NewSnapshot()
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("c"), []byte("v:c"), false))
	require.NoError(t, db.Delete([]byte("a"), false))

	it, err := snap.NewIterator()
	require.NoError(t, err)
	var got []string
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Release()
	require.Equal(t, []string{"a", "b"}, got)

	snap.Release()
	snap.Release()

	_, err = db.Get([]byte("a"), nil)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

// growBytes is enough data to outgrow any initial file or memory map.
const growBytes = 96 << 20

func testGrowWithOpenReaders(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	require.NoError(t, db.Put([]byte("a"), []byte("v:a"), false))

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()
	require.True(t, it.First())
	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	value := bytes.Repeat([]byte{'x'}, 1<<20)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < growBytes/len(value); i++ {
			if err := db.Put(fmt.Appendf(nil, "grow-%03d", i), value, false); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Minute):
		t.Fatal("writes blocked behind an open iterator and snapshot")
	}

	require.Equal(t, "a", string(it.Key()))
	require.False(t, it.Next())
	_, err = snap.Get([]byte("grow-000"), nil)
	require.ErrorIs(t, err, engine.ErrNotFound)

	v, err := db.Get([]byte("grow-000"), nil)
	require.NoError(t, err)
	require.Len(t, v, len(value))
}

func testKeysAreIteratorOwned(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), defaultOptions())
	defer db.Close()
	fill(t, db, [][]byte{[]byte("a"), []byte("b"), []byte("c")})

	it, err := db.NewIterator()
	require.NoError(t, err)
	defer it.Release()

	require.True(t, it.First())
	it.Key()[0] = 'z'
	it.Value()[0] = '!'

	var got []string
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
	}
	require.Equal(t, []string{"a=v:a", "b=v:b", "c=v:c"}, got)
	v, err := db.Get([]byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v:a"), v)
}

type reverseComparator struct{}

func (reverseComparator) Compare(a, b []byte) int { return bytes.Compare(b, a) }
func (reverseComparator) Name() string            { return "enginetest.Reverse" }

func testComparator(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	cmp, err := eng.NewComparator(reverseComparator{})
	if !cfg.Comparators {
		require.ErrorIs(t, err, engine.ErrUnsupported)
		return
	}
	require.NoError(t, err)
	defer cmp.Release()

	o := defaultOptions()
	o.Comparator = cmp
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), o)
	fill(t, db, [][]byte{[]byte("a"), []byte("b"), []byte("c")})

	it, err := db.NewIterator()
	require.NoError(t, err)
	var got []string
	for ok := it.First(); ok; ok = it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Release()
	require.Equal(t, []string{"c", "b", "a"}, got)
	require.NoError(t, db.Close())
}

// Sink records messages for assertions. It is safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	msgs []string
}

// Log implements engine.Sink.
func (s *Sink) Log(msg string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

// Messages returns a copy of every message logged so far.
func (s *Sink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func testInfoLog(t *testing.T, cfg Config) {
	eng := cfg.New(t)
	sink := &Sink{}
	l, err := eng.NewLogger(sink)
	require.NoError(t, err)

	o := defaultOptions()
	o.InfoLog = l
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), o)
	require.NoError(t, db.Close())
	l.Release()
	l.Release()

	require.NotEmpty(t, sink.Messages())
}

func testResources(t *testing.T, cfg Config) {
	eng := cfg.New(t)

	_, err := eng.NewCache(0)
	require.Error(t, err)
	_, err = eng.NewFilter(0)
	require.Error(t, err)

	c, err := eng.NewCache(1 << 20)
	require.NoError(t, err)
	f, err := eng.NewFilter(10)
	require.NoError(t, err)

	o := defaultOptions()
	o.Cache, o.Filter, o.CacheCapacity = c, f, 1<<20
	db := open(t, eng, filepath.Join(t.TempDir(), "db"), o)
	fill(t, db, RandomKeys(4, 20))
	require.NoError(t, db.Close())

	f.Release()
	c.Release()
	c.Release()

	o = defaultOptions()
	o.Cache = engine.NewReleaseFunc(nil)
	_, err = eng.Open(filepath.Join(t.TempDir(), "foreign"), o)
	require.True(t, errors.Is(err, engine.ErrForeignResource), "got %v", err)
}
