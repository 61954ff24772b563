package levelbind

// comparator.go implements key comparison.
//
// Comparator defines the total ordering over keys in the database.
// The default is bytewise comparison. Custom comparators enable
// application-specific key ordering on engines that accept one.

import "bytes"

// Comparator defines a total ordering over keys.
type Comparator interface {
	// Compare returns a value < 0 if a < b, 0 if a == b, > 0 if a > b.
	Compare(a, b []byte) int

	// Name returns the name of the comparator. Engines persist it and refuse
	// to reopen a database under a comparator with a different name.
	Name() string
}

// BytewiseComparator is the default comparator that compares keys lexicographically.
type BytewiseComparator struct{}

// Compare compares two keys lexicographically.
func (c BytewiseComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Name returns the comparator name.
func (c BytewiseComparator) Name() string {
	return "leveldb.BytewiseComparator"
}

// ReverseBytewiseComparator orders keys in descending bytewise order.
type ReverseBytewiseComparator struct{}

// Compare compares two keys in reverse lexicographic order.
func (c ReverseBytewiseComparator) Compare(a, b []byte) int {
	return bytes.Compare(b, a)
}

// Name returns the comparator name.
func (c ReverseBytewiseComparator) Name() string {
	return "rocksdb.ReverseBytewiseComparator"
}

// comparatorShim forwards engine callbacks to the caller's comparator. It
// holds the comparator by reference for as long as the engine may call it.
type comparatorShim struct {
	user Comparator
}

func (s comparatorShim) Compare(a, b []byte) int { return s.user.Compare(a, b) }
func (s comparatorShim) Name() string            { return s.user.Name() }

// comparatorName returns the name of the ordering in effect for opts.
func comparatorName(opts *Options) string {
	if opts.Comparator == nil {
		return BytewiseComparator{}.Name()
	}
	return opts.Comparator.Name()
}
