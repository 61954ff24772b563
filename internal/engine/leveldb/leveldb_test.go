package leveldb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/engine/enginetest"
)

func TestContract(t *testing.T) {
	enginetest.Run(t, enginetest.Config{
		New:         func(t *testing.T) engine.Engine { return New() },
		Comparators: true,
	})
}

func TestComparatorNameMismatch(t *testing.T) {
	eng := New()
	path := filepath.Join(t.TempDir(), "db")
	db, err := eng.Open(path, &engine.Options{CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cmp, err := eng.NewComparator(namedComparator("other"))
	require.NoError(t, err)
	defer cmp.Release()
	_, err = eng.Open(path, &engine.Options{Comparator: cmp})
	require.Error(t, err)
}

type namedComparator string

func (c namedComparator) Compare(a, b []byte) int { return compareBytes(a, b) }
func (c namedComparator) Name() string            { return string(c) }

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

func TestRepairAfterReopen(t *testing.T) {
	eng := New()
	path := filepath.Join(t.TempDir(), "db")
	db, err := eng.Open(path, &engine.Options{CreateIfMissing: true, ParanoidChecks: true})
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, db.Put([]byte(k), []byte(k), true))
	}
	require.NoError(t, db.Close())

	_, err = os.Stat(filepath.Join(path, currentFile))
	require.NoError(t, err)
	require.NoError(t, eng.Repair(path, &engine.Options{}))

	db, err = eng.Open(path, &engine.Options{})
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("b"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), v)
}

func TestStatsProperty(t *testing.T) {
	db, err := New().Open(filepath.Join(t.TempDir(), "db"), &engine.Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer db.Close()

	v, ok := db.Property("leveldb.stats")
	require.True(t, ok)
	require.NotEmpty(t, v)
	_, ok = db.Property("leveldb.nonexistent")
	require.False(t, ok)
}
