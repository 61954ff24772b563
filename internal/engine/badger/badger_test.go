package badger

import (
	"math"
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

func TestFalsePositiveRate(t *testing.T) {
	require.InDelta(t, 0.0082, FalsePositiveRate(10), 0.0005)
	require.Less(t, FalsePositiveRate(20), FalsePositiveRate(10))
	require.False(t, math.IsNaN(FalsePositiveRate(1)))
}

func TestTranslateOptions(t *testing.T) {
	eng := New()
	c, err := eng.NewCache(8 << 20)
	require.NoError(t, err)
	f, err := eng.NewFilter(10)
	require.NoError(t, err)

	bo, err := translateOptions("/tmp/x", &engine.Options{
		BlockSize:       8192,
		WriteBufferSize: 4 << 20,
		MaxFileSize:     2 << 20,
		ParanoidChecks:  true,
		Compression:     engine.CompressionNone,
		Cache:           c,
		Filter:          f,
	})
	require.NoError(t, err)
	require.Equal(t, 8192, bo.BlockSize)
	require.Equal(t, int64(4<<20), bo.MemTableSize)
	require.LessOrEqual(t, bo.ValueThreshold, int64(15*(4<<20)/100))
	require.Equal(t, int64(2<<20), bo.BaseTableSize)
	require.Equal(t, int64(8<<20), bo.BlockCacheSize)
	require.True(t, bo.VerifyValueChecksum)
	require.InDelta(t, FalsePositiveRate(10), bo.BloomFalsePositive, 1e-9)
}

func TestSnapshotOutlivesRelease(t *testing.T) {
	db, err := New().Open(filepath.Join(t.TempDir(), "db"), &engine.Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Put([]byte("a"), []byte("1"), false))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	it, err := snap.NewIterator()
	require.NoError(t, err)

	// Releasing the snapshot first must not invalidate the open iterator.
	snap.Release()
	require.True(t, it.First())
	require.Equal(t, []byte("1"), it.Value())
	it.Release()

	_, err = snap.NewIterator()
	require.Error(t, err)
}

func TestSizeProperties(t *testing.T) {
	db, err := New().Open(filepath.Join(t.TempDir(), "db"), &engine.Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer db.Close()

	for _, name := range []string{"badger.lsm-size", "badger.vlog-size"} {
		_, ok := db.Property(name)
		require.True(t, ok, name)
	}
	_, ok := db.Property("leveldb.stats")
	require.False(t, ok)
}
