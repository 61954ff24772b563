package levelbind

// resources.go implements the auxiliary resource lifecycle.
//
// A resourceBundle holds the engine-side cache, filter, comparator shim and
// logger shim built for one Open, DestroyDB or RepairDB call, together with
// the merged engine options that reference them. The bundle is either fully
// built or not at all: a failed step releases whatever was already built
// before the error is returned. Bundles are only released by DB.Close, by a
// failed Open and by withBundle, so no member can be freed while the engine
// still holds a reference to it.

import (
	"github.com/aalhour/levelbind/internal/engine"
	"github.com/aalhour/levelbind/internal/logging"
)

type member struct {
	name string
	res  engine.Resource
}

type resourceBundle struct {
	opts     engine.Options
	members  []member
	released bool
	log      logging.Logger
}

// engineOptions translates opts into engine options without resources.
func engineOptions(opts *Options) engine.Options {
	return engine.Options{
		BlockSize:            opts.BlockSize,
		BlockRestartInterval: opts.BlockRestartInterval,
		CreateIfMissing:      opts.CreateIfMissing,
		ErrorIfExists:        opts.ErrorIfExists,
		MaxOpenFiles:         opts.MaxOpenFiles,
		ParanoidChecks:       opts.ParanoidChecks,
		WriteBufferSize:      opts.WriteBufferSize,
		ReuseLogs:            opts.ReuseLogs,
		MaxFileSize:          opts.MaxFileSize,
		Compression:          opts.Compression.engine(),
	}
}

// buildBundle allocates the resources opts asks for, in the order cache,
// filter, comparator, logger.
func buildBundle(eng engine.Engine, opts *Options, log logging.Logger) (*resourceBundle, error) {
	b := &resourceBundle{opts: engineOptions(opts), log: log}
	built := false
	defer func() {
		if !built {
			b.rollback()
		}
	}()

	if opts.CacheSize > 0 {
		c, err := eng.NewCache(opts.CacheSize)
		if err != nil {
			return nil, &ResourceError{Resource: "cache", Err: err}
		}
		b.record("cache", c)
		b.opts.Cache = c
		b.opts.CacheCapacity = opts.CacheSize
	}
	if opts.BloomFilterBitsPerKey > 0 {
		f, err := eng.NewFilter(opts.BloomFilterBitsPerKey)
		if err != nil {
			return nil, &ResourceError{Resource: "filter", Err: err}
		}
		b.record("filter", f)
		b.opts.Filter = f
	}
	if opts.Comparator != nil {
		c, err := eng.NewComparator(comparatorShim{user: opts.Comparator})
		if err != nil {
			return nil, &ResourceError{Resource: "comparator", Err: err}
		}
		b.record("comparator", c)
		b.opts.Comparator = c
	}
	if opts.Logger != nil {
		l, err := eng.NewLogger(loggerShim{user: opts.Logger})
		if err != nil {
			return nil, &ResourceError{Resource: "logger", Err: err}
		}
		b.record("logger", l)
		b.opts.InfoLog = l
	}

	built = true
	return b, nil
}

func (b *resourceBundle) record(name string, r engine.Resource) {
	b.members = append(b.members, member{name: name, res: r})
	b.log.Debugf(logging.NSResource+"created %s", name)
}

func (b *resourceBundle) rollback() {
	if len(b.members) > 0 {
		b.log.Warnf(logging.NSResource+"rolling back %d resources", len(b.members))
	}
	b.release()
}

// engineOptions returns the merged options to hand to the engine.
func (b *resourceBundle) engineOptions() *engine.Options { return &b.opts }

// release releases every member in reverse construction order.
// Calls after the first are no-ops.
func (b *resourceBundle) release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	for i := len(b.members) - 1; i >= 0; i-- {
		b.members[i].res.Release()
		b.log.Debugf(logging.NSResource+"released %s", b.members[i].name)
	}
	b.members = nil
	b.opts.Cache, b.opts.Filter, b.opts.Comparator, b.opts.InfoLog = nil, nil, nil, nil
}

// withBundle builds a bundle for opts, runs fn with the merged engine options
// and releases the bundle on every exit path.
func withBundle(eng engine.Engine, opts *Options, log logging.Logger, fn func(*engine.Options) error) error {
	b, err := buildBundle(eng, opts, log)
	if err != nil {
		return err
	}
	defer b.release()
	return fn(b.engineOptions())
}
