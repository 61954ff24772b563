package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/engine/enginetest"
)

func TestContract(t *testing.T) {
	enginetest.Run(t, enginetest.Config{
		New: func(t *testing.T) engine.Engine { return New() },
	})
}

func TestWriteWhileIterating(t *testing.T) {
	db, err := New().Open(filepath.Join(t.TempDir(), "db"), &engine.Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Put([]byte("a"), []byte("1"), false))

	it, err := db.NewIterator()
	require.NoError(t, err)
	require.True(t, it.First())

	// Writes commit while the iterator's read transaction stays open.
	for _, k := range enginetest.RandomKeys(7, 100) {
		require.NoError(t, db.Put(k, k, false))
	}
	require.Equal(t, []byte("a"), it.Key())
	require.False(t, it.Next())
	it.Release()
	it.Release()

	v, ok := db.Property("bbolt.keys")
	require.True(t, ok)
	require.Equal(t, "101", v)
}

func collect(it engine.Iterator, reverse bool) []string {
	first, step := it.First, it.Next
	if reverse {
		first, step = it.Last, it.Prev
	}
	var got []string
	for ok := first(); ok; ok = step() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
	}
	return got
}

func TestSnapshotMergesSavedValues(t *testing.T) {
	db, err := New().Open(filepath.Join(t.TempDir(), "db"), &engine.Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer db.Close()
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.Put([]byte(k), []byte("1"), false))
	}

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	require.NoError(t, db.Write([]engine.Op{
		{Kind: engine.OpDelete, Key: []byte("b")},
		{Kind: engine.OpPut, Key: []byte("c"), Value: []byte("2")},
		{Kind: engine.OpPut, Key: []byte("bb"), Value: []byte("2")},
		{Kind: engine.OpPut, Key: []byte("e"), Value: []byte("2")},
		{Kind: engine.OpPut, Key: []byte("c"), Value: []byte("3")},
	}, false))

	it, err := snap.NewIterator()
	require.NoError(t, err)
	require.Equal(t, []string{"a=1", "b=1", "c=1", "d=1"}, collect(it, false))
	require.Equal(t, []string{"d=1", "c=1", "b=1", "a=1"}, collect(it, true))

	require.True(t, it.Seek([]byte("bb")))
	require.Equal(t, "c", string(it.Key()))
	require.True(t, it.Prev())
	require.Equal(t, "b", string(it.Key()))
	require.False(t, it.Seek([]byte("e")))

	v, err := snap.Get([]byte("c"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	_, err = snap.Get([]byte("e"), nil)
	require.ErrorIs(t, err, engine.ErrNotFound)

	live, err := db.NewIterator()
	require.NoError(t, err)
	require.Equal(t, []string{"a=1", "bb=2", "c=3", "d=1", "e=2"}, collect(live, false))
	live.Release()

	// The iterator keeps the view after the snapshot itself is released.
	snap.Release()
	require.NoError(t, db.Delete([]byte("a"), false))
	require.Equal(t, []string{"a=1", "b=1", "c=1", "d=1"}, collect(it, false))
	_, err = snap.NewIterator()
	require.Error(t, err)

	n, ok := db.Property("bbolt.views")
	require.True(t, ok)
	require.Equal(t, "1", n)
	it.Release()
	n, _ = db.Property("bbolt.views")
	require.Equal(t, "0", n)
}

func TestRepairReportsToSink(t *testing.T) {
	eng := New()
	sink := &enginetest.Sink{}
	l, err := eng.NewLogger(sink)
	require.NoError(t, err)
	defer l.Release()

	path := filepath.Join(t.TempDir(), "db")
	db, err := eng.Open(path, &engine.Options{CreateIfMissing: true, InfoLog: l})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, eng.Repair(path, &engine.Options{InfoLog: l}))
	require.Len(t, sink.Messages(), 2)
}
