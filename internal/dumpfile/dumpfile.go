// Package dumpfile implements the portable dump stream levelbind uses to
// export a key space from one database and load it into another, possibly
// under a different backend.
//
// A stream is a sequence of msgpack values:
//
//	header        {magic, version, codec, comparator, backend, entries}
//	frame ...     {count, size, checksum, data}
//	trailer       {final: true, total}
//
// Each frame's data is the msgpack encoding of its records, compressed as a
// whole with the header codec; size is its length before compression and
// never exceeds MaxFrameSize. The checksum is the xxh3 hash of the
// compressed bytes. Records appear in the order they were added, which for an
// exported database is iterator order.
package dumpfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	"github.com/aalhour/levelbind/internal/compression"
)

// Magic identifies a dump stream.
const Magic = "LVLBDUMP"

// Version is the stream format version written by this package.
const Version = 1

// DefaultFrameSize is the uncompressed payload size at which a frame is cut.
const DefaultFrameSize = 64 * 1024

// MaxFrameSize bounds the uncompressed payload of a single frame. A reader
// rejects any frame that declares or decodes to more.
const MaxFrameSize = 256 << 20

// recordOverhead is an upper bound on the msgpack framing of one record.
const recordOverhead = 16

var (
	// ErrBadMagic is returned when a stream does not start with a dump header.
	ErrBadMagic = errors.New("dumpfile: bad magic")

	// ErrVersion is returned for a stream written by a newer format version.
	ErrVersion = errors.New("dumpfile: unsupported version")

	// ErrChecksum is returned when a frame fails its checksum.
	ErrChecksum = errors.New("dumpfile: checksum mismatch")

	// ErrTruncated is returned when the stream ends before its trailer.
	ErrTruncated = errors.New("dumpfile: truncated stream")

	// ErrCorrupt is returned when frame or trailer counts disagree.
	ErrCorrupt = errors.New("dumpfile: corrupt stream")

	// ErrClosed is returned when adding to a closed writer.
	ErrClosed = errors.New("dumpfile: writer closed")

	// ErrRecordTooLarge is returned when a single record cannot fit in a
	// frame.
	ErrRecordTooLarge = errors.New("dumpfile: record exceeds frame limit")
)

// Header describes a dump stream.
type Header struct {
	Magic      string           `msgpack:"magic"`
	Version    int              `msgpack:"version"`
	Codec      compression.Type `msgpack:"codec"`
	Comparator string           `msgpack:"comparator"`
	Backend    string           `msgpack:"backend"`
	// Entries is the expected record count, or 0 when unknown. A reader
	// checks it against the trailer.
	Entries int64 `msgpack:"entries"`
}

type frame struct {
	Final    bool   `msgpack:"final,omitempty"`
	Count    int    `msgpack:"count,omitempty"`
	Size     int    `msgpack:"size,omitempty"`
	Total    int64  `msgpack:"total,omitempty"`
	Checksum uint64 `msgpack:"checksum,omitempty"`
	Data     []byte `msgpack:"data,omitempty"`
}

type record struct {
	_msgpack struct{} `msgpack:",as_array"`
	Key      []byte
	Value    []byte
}

// Writer writes a dump stream. It is not safe for concurrent use.
type Writer struct {
	enc       *msgpack.Encoder
	hdr       Header
	frameSize int

	pending      []record
	pendingBytes int
	total        int64
	closed       bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithFrameSize sets the uncompressed payload size at which frames are cut.
// Values above MaxFrameSize are clamped.
func WithFrameSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.frameSize = min(n, MaxFrameSize)
		}
	}
}

// NewWriter writes hdr to w and returns a Writer for the records. Magic and
// Version are filled in.
func NewWriter(w io.Writer, hdr Header, opts ...WriterOption) (*Writer, error) {
	if !hdr.Codec.IsSupported() {
		return nil, fmt.Errorf("dumpfile: unsupported codec %s", hdr.Codec)
	}
	hdr.Magic, hdr.Version = Magic, Version
	dw := &Writer{
		enc:       msgpack.NewEncoder(w),
		hdr:       hdr,
		frameSize: DefaultFrameSize,
	}
	for _, opt := range opts {
		opt(dw)
	}
	if err := dw.enc.Encode(&dw.hdr); err != nil {
		return nil, fmt.Errorf("dumpfile: write header: %w", err)
	}
	return dw, nil
}

// Add appends one record. Key and value are copied.
func (w *Writer) Add(key, value []byte) error {
	if w.closed {
		return ErrClosed
	}
	n := len(key) + len(value) + recordOverhead
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
	}
	if w.pendingBytes+n > MaxFrameSize {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, record{
		Key:   bytes.Clone(key),
		Value: append([]byte{}, value...),
	})
	w.pendingBytes += n
	w.total++
	if w.pendingBytes >= w.frameSize {
		return w.Flush()
	}
	return nil
}

// Count returns the number of records added so far.
func (w *Writer) Count() int64 { return w.total }

// Flush writes buffered records as one frame.
func (w *Writer) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	raw, err := msgpack.Marshal(w.pending)
	if err != nil {
		return fmt.Errorf("dumpfile: encode records: %w", err)
	}
	if len(raw) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", ErrRecordTooLarge, len(raw))
	}
	data, err := compression.Compress(w.hdr.Codec, raw)
	if err != nil {
		return fmt.Errorf("dumpfile: compress frame: %w", err)
	}
	f := frame{Count: len(w.pending), Size: len(raw), Checksum: xxh3.Hash(data), Data: data}
	if err := w.enc.Encode(&f); err != nil {
		return fmt.Errorf("dumpfile: write frame: %w", err)
	}
	w.pending = w.pending[:0]
	w.pendingBytes = 0
	return nil
}

// Close flushes buffered records and writes the trailer. It does not close
// the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.closed = true
	if err := w.enc.Encode(&frame{Final: true, Total: w.total}); err != nil {
		return fmt.Errorf("dumpfile: write trailer: %w", err)
	}
	return nil
}

// Reader reads a dump stream. It is not safe for concurrent use.
type Reader struct {
	dec  *msgpack.Decoder
	hdr  Header
	recs []record
	pos  int
	read int64
	done bool
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

// NewReader reads and validates the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	dr := &Reader{dec: msgpack.NewDecoder(r)}
	if err := dr.dec.Decode(&dr.hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if dr.hdr.Magic != Magic {
		return nil, ErrBadMagic
	}
	if dr.hdr.Version > Version {
		return nil, fmt.Errorf("%w %d", ErrVersion, dr.hdr.Version)
	}
	if !dr.hdr.Codec.IsSupported() {
		return nil, fmt.Errorf("dumpfile: unsupported codec %s", dr.hdr.Codec)
	}
	return dr, nil
}

// Header returns the stream header.
func (r *Reader) Header() Header { return r.hdr }

// Next returns the next record. It returns io.EOF after the trailer has been
// read and verified. The returned slices belong to the caller.
func (r *Reader) Next() (key, value []byte, err error) {
	for r.pos >= len(r.recs) {
		if r.done {
			return nil, nil, io.EOF
		}
		if err := r.readFrame(); err != nil {
			return nil, nil, err
		}
	}
	rec := r.recs[r.pos]
	r.pos++
	if rec.Value == nil {
		rec.Value = []byte{}
	}
	return rec.Key, rec.Value, nil
}

func (r *Reader) readFrame() error {
	var f frame
	if err := r.dec.Decode(&f); err != nil {
		return fmt.Errorf("dumpfile: read frame: %w", truncated(err))
	}
	if f.Final {
		if f.Total != r.read || (r.hdr.Entries > 0 && f.Total != r.hdr.Entries) {
			return fmt.Errorf("%w: trailer total %d, read %d", ErrCorrupt, f.Total, r.read)
		}
		r.done = true
		r.recs, r.pos = nil, 0
		return nil
	}
	if f.Size <= 0 || f.Size > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d", ErrCorrupt, f.Size)
	}
	if xxh3.Hash(f.Data) != f.Checksum {
		return ErrChecksum
	}
	raw, err := compression.DecompressLimit(r.hdr.Codec, f.Data, f.Size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != f.Size {
		return fmt.Errorf("%w: frame decodes to %d bytes, header says %d", ErrCorrupt, len(raw), f.Size)
	}
	var recs []record
	if err := msgpack.Unmarshal(raw, &recs); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(recs) != f.Count {
		return fmt.Errorf("%w: frame holds %d records, header says %d", ErrCorrupt, len(recs), f.Count)
	}
	r.recs, r.pos = recs, 0
	r.read += int64(len(recs))
	return nil
}
