package levelbind

// runtime.go implements the initialization context.
//
// A Runtime owns the registry of engine backends. The registry is loaded
// lazily, exactly once, by the first call that needs it; a failed load
// leaves the runtime unloaded so a later call retries.

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/engine/badger"
	"github.com/aalhour/levelbind/internal/engine/bbolt"
	"github.com/aalhour/levelbind/internal/engine/leveldb"
	"github.com/aalhour/levelbind/internal/engine/memory"
	"github.com/aalhour/levelbind/internal/logging"
)

// Version is the levelbind library version.
const Version = "1.0.0"

// loader produces the engine registry of a runtime.
type loader func() ([]engine.Engine, error)

func builtinEngines() ([]engine.Engine, error) {
	return []engine.Engine{
		leveldb.New(),
		badger.New(),
		bbolt.New(),
		memory.New(),
	}, nil
}

// Runtime is an initialization context for engine backends.
// It is safe for concurrent use.
type Runtime struct {
	load loader
	log  logging.Logger

	mu      sync.Mutex
	loaded  atomic.Bool
	engines map[Backend]engine.Engine
}

// NewRuntime returns an unloaded runtime with the built-in backends.
func NewRuntime() *Runtime {
	return newRuntime(builtinEngines)
}

func newRuntime(load loader) *Runtime {
	return &Runtime{load: load, log: logging.OrDefault(nil)}
}

var defaultRuntime = NewRuntime()

// Default returns the process-wide runtime used by the package-level
// Open, DestroyDB and RepairDB.
func Default() *Runtime { return defaultRuntime }

// EnsureLoaded loads the engine registry if it is not loaded yet. Concurrent
// callers block while a load is in progress; once one succeeds every caller
// observes the loaded registry. A failed load is retried by the next caller.
func (r *Runtime) EnsureLoaded() error {
	if r.loaded.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded.Load() {
		return nil
	}

	engines, err := r.load()
	if err != nil {
		r.log.Errorf(logging.NSRuntime+"load failed: %v", err)
		return fmt.Errorf("levelbind: load engines: %w", err)
	}
	registry := make(map[Backend]engine.Engine, len(engines))
	for _, e := range engines {
		name := Backend(e.Name())
		if _, dup := registry[name]; dup {
			return fmt.Errorf("levelbind: load engines: duplicate backend %q", name)
		}
		registry[name] = e
	}
	r.engines = registry
	r.loaded.Store(true)
	r.log.Debugf(logging.NSRuntime+"loaded %d backends", len(registry))
	return nil
}

// Loaded reports whether the engine registry is loaded.
func (r *Runtime) Loaded() bool { return r.loaded.Load() }

func (r *Runtime) engine(b Backend) (engine.Engine, error) {
	if err := r.EnsureLoaded(); err != nil {
		return nil, err
	}
	e, ok := r.engines[Backend(b.String())]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, b)
	}
	return e, nil
}

// Backends returns the names of the loaded backends in sorted order.
func (r *Runtime) Backends() ([]Backend, error) {
	if err := r.EnsureLoaded(); err != nil {
		return nil, err
	}
	names := make([]Backend, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// String describes the runtime, e.g. "levelbind 1.0.0 (badger, bbolt, leveldb, memory)".
func (r *Runtime) String() string {
	if !r.loaded.Load() {
		return "levelbind " + Version + " (not loaded)"
	}
	names, _ := r.Backends()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return fmt.Sprintf("levelbind %s (%s)", Version, strings.Join(parts, ", "))
}

// Open opens the database at path with the given options.
func (r *Runtime) Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	eng, err := r.engine(opts.Backend)
	if err != nil {
		return nil, err
	}
	log := newLogger(opts)

	bundle, err := buildBundle(eng, opts, log)
	if err != nil {
		return nil, err
	}
	edb, err := eng.Open(path, bundle.engineOptions())
	if err != nil {
		bundle.release()
		log.Warnf(logging.NSDB+"open %s failed: %v", path, err)
		return nil, newOpenError("open", path, err)
	}
	db := newDB(path, opts, edb, bundle, log)
	log.Infof(logging.NSDB+"opened %s (backend=%s id=%s)", path, opts.Backend, db.id)
	return db, nil
}

// DestroyDB removes the database at path. The database must not be open.
func (r *Runtime) DestroyDB(path string, opts *Options) error {
	return r.static("destroy", path, opts, engine.Engine.Destroy)
}

// RepairDB attempts to recover a damaged database at path.
func (r *Runtime) RepairDB(path string, opts *Options) error {
	return r.static("repair", path, opts, engine.Engine.Repair)
}

func (r *Runtime) static(op, path string, opts *Options,
	call func(engine.Engine, string, *engine.Options) error) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return err
	}
	eng, err := r.engine(opts.Backend)
	if err != nil {
		return err
	}
	log := newLogger(opts)
	return withBundle(eng, opts, log, func(eo *engine.Options) error {
		if err := call(eng, path, eo); err != nil {
			log.Warnf(logging.NSDB+"%s %s failed: %v", op, path, err)
			return newOpenError(op, path, err)
		}
		log.Infof(logging.NSDB+"%s %s done", op, path)
		return nil
	})
}

// Open opens the database at path using the default runtime.
func Open(path string, opts *Options) (*DB, error) {
	return defaultRuntime.Open(path, opts)
}

// DestroyDB destroys the database at path using the default runtime.
func DestroyDB(path string, opts *Options) error {
	return defaultRuntime.DestroyDB(path, opts)
}

// RepairDB repairs the database at path using the default runtime.
func RepairDB(path string, opts *Options) error {
	return defaultRuntime.RepairDB(path, opts)
}

// newLogger returns the internal logger for one database. A user Logger
// receives levelbind's messages down to info; otherwise warnings go to stderr.
func newLogger(opts *Options) logging.Logger {
	var l logging.Logger
	if opts.Logger != nil {
		l = logging.NewSinkLogger(loggerShim{user: opts.Logger}, logging.LevelInfo)
	}
	return logging.OrDefault(l)
}
