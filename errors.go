package levelbind

// errors.go defines the error taxonomy of the public API.

import (
	"errors"
	"fmt"

	"github.com/aalhour/levelbind/internal/engine"
)

// Sentinel errors. Match them with errors.Is.
var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("levelbind: key not found")

	// ErrClosed is returned by operations on a closed DB, iterator or snapshot.
	ErrClosed = errors.New("levelbind: closed")

	// ErrIllegalState is returned by iterator operations that require a
	// current entry while the iterator is not positioned.
	ErrIllegalState = errors.New("levelbind: iterator is not positioned")

	// ErrDBExists is reachable from an OpenError when ErrorIfExists is set
	// and the database already exists.
	ErrDBExists = errors.New("levelbind: database already exists")

	// ErrDBNotFound is reachable from an OpenError when CreateIfMissing is
	// unset and the database does not exist.
	ErrDBNotFound = errors.New("levelbind: database not found")

	// ErrInvalidOptions is returned when Options fail validation.
	ErrInvalidOptions = errors.New("levelbind: invalid options")

	// ErrUnknownBackend is returned when Options name a backend the runtime
	// does not provide.
	ErrUnknownBackend = errors.New("levelbind: unknown backend")

	// ErrUnsupported is reachable from a ResourceError when the backend cannot
	// honour a resource, such as a custom comparator on badger or bbolt.
	ErrUnsupported = engine.ErrUnsupported
)

// ResourceError reports that an auxiliary engine resource could not be
// created. Resources built before the failure have already been released.
type ResourceError struct {
	// Resource is one of "cache", "filter", "comparator" or "logger".
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("levelbind: create %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// OpenError reports that the engine failed to open, destroy or repair a
// database. The resources built for the call have already been released.
type OpenError struct {
	// Op is "open", "destroy" or "repair".
	Op   string
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("levelbind: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

func newOpenError(op, path string, err error) *OpenError {
	switch {
	case errors.Is(err, engine.ErrExists):
		err = ErrDBExists
	case errors.Is(err, engine.ErrMissing):
		err = ErrDBNotFound
	}
	return &OpenError{Op: op, Path: path, Err: err}
}

// CursorError reports an engine fault during an iterator operation. The
// iterator is left unpositioned.
type CursorError struct {
	// Op is the iterator method that failed, e.g. "Seek" or "Next".
	Op  string
	Err error
}

func (e *CursorError) Error() string {
	return fmt.Sprintf("levelbind: iterator %s: %v", e.Op, e.Err)
}

func (e *CursorError) Unwrap() error { return e.Err }

// translateError maps engine errors on point operations to public ones.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}
