package levelbind

// dump.go implements portable export and import of a database's contents.
//
// A dump is a checksummed, compressed stream of every key-value pair in key
// order (see internal/dumpfile). It can be loaded into a database of any
// backend, which makes it the way to move data between engines.

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/levelbind/internal/compression"
	"github.com/aalhour/levelbind/internal/dumpfile"
	"github.com/aalhour/levelbind/internal/logging"
)

// Dump stream errors, matchable with errors.Is.
var (
	ErrDumpChecksum  = dumpfile.ErrChecksum
	ErrDumpTruncated = dumpfile.ErrTruncated
	ErrDumpCorrupt   = dumpfile.ErrCorrupt
	ErrDumpBadMagic  = dumpfile.ErrBadMagic
)

// DumpCodecs lists the codec names accepted by ExportOptions.Codec.
func DumpCodecs() []string {
	names := make([]string, len(compression.Types))
	for i, t := range compression.Types {
		names[i] = t.String()
	}
	return names
}

// ExportOptions controls Export.
type ExportOptions struct {
	// Codec compresses the dump frames: none, snappy, zlib, lz4, lz4hc or zstd.
	// Default: snappy
	Codec string

	// Snapshot, if set, exports the snapshot instead of the current state.
	Snapshot *Snapshot

	// FrameSize is the approximate number of key and value bytes per frame.
	// Default: 64KB
	FrameSize int
}

// importBatchSize is the number of records Import applies per write batch.
const importBatchSize = 1000

// Export writes every entry of the database to w and returns the number of
// entries written.
func (db *DB) Export(w io.Writer, eo *ExportOptions) (int64, error) {
	if eo == nil {
		eo = &ExportOptions{}
	}
	codec := compression.SnappyCompression
	if eo.Codec != "" {
		var err error
		if codec, err = compression.ParseType(eo.Codec); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}

	a := NewArena()
	it, err := db.NewIterator(&ReadOptions{Snapshot: eo.Snapshot, Arena: a})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	dw, err := dumpfile.NewWriter(w, dumpfile.Header{
		Codec:      codec,
		Comparator: db.cmpName,
		Backend:    string(db.backend),
	}, dumpfile.WithFrameSize(eo.FrameSize))
	if err != nil {
		return 0, err
	}

	// Entries are copied into an arena frame that is recycled every batch;
	// the writer keeps its own copies.
	a.Push(0)
	defer func() {
		for a.Depth() > 0 {
			a.Pop()
		}
	}()
	if err := it.SeekToFirst(); err != nil {
		return 0, err
	}
	for n := 1; it.Valid(); n++ {
		e, err := it.Next()
		if err != nil {
			return dw.Count(), err
		}
		if err := dw.Add(e.Key, e.Value); err != nil {
			return dw.Count(), err
		}
		if n%importBatchSize == 0 {
			a.Pop()
			a.Push(0)
		}
	}
	if err := it.Error(); err != nil {
		return dw.Count(), err
	}
	if err := dw.Close(); err != nil {
		return dw.Count(), err
	}
	db.log.Infof(logging.NSDump+"%s: exported %d entries (codec=%s)", db.id, dw.Count(), codec)
	return dw.Count(), nil
}

// Import loads a dump written by Export into the database and returns the
// number of entries loaded. Entries are applied in batches, so a failed
// import may leave a prefix of the dump written.
func (db *DB) Import(r io.Reader, wo *WriteOptions) (int64, error) {
	dr, err := dumpfile.NewReader(r)
	if err != nil {
		return 0, err
	}
	hdr := dr.Header()
	if hdr.Comparator != db.cmpName {
		db.log.Warnf(logging.NSDump+"%s: dump ordered by %q, database by %q",
			db.id, hdr.Comparator, db.cmpName)
	}

	var loaded int64
	wb := NewWriteBatch()
	flush := func() error {
		if err := db.Write(wo, wb); err != nil {
			return err
		}
		loaded += int64(wb.Count())
		wb.Clear()
		return nil
	}
	for {
		key, value, err := dr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return loaded, err
		}
		wb.Put(key, value)
		if wb.Count() >= importBatchSize {
			if err := flush(); err != nil {
				return loaded, err
			}
		}
	}
	if err := flush(); err != nil {
		return loaded, err
	}
	db.log.Infof(logging.NSDump+"%s: imported %d entries from %s dump", db.id, loaded, hdr.Backend)
	return loaded, nil
}
