/*
Package levelbind provides an idiomatic Go binding over embedded ordered
key/value stores.

The storage engine is an opaque collaborator chosen per database through
Options.Backend: goleveldb (the default), badger, bbolt, or an in-process
B-tree. levelbind owns the parts around the engine that are easy to get
wrong at a binding boundary: the lifetime of the auxiliary resources
(block cache, bloom filter, comparator and logger) the engine keeps
references to, and a bidirectional iterator with a derived SeekForPrev.

# Usage

For runnable examples, see the repository's examples directory and the
Example functions in this package.

# Resources

Open builds the resources Options asks for, hands them to the engine and
keeps them until DB.Close, which closes the engine database first and
releases the resources after it. If any step of Open fails, everything
built so far is released before the error is returned.

# Concurrency

A DB instance is safe for concurrent use by multiple goroutines. Individual
Iterator, WriteBatch and Arena instances are not safe for concurrent use;
each goroutine should use its own.

# Errors

Point reads of missing keys return ErrNotFound. Resource allocation
failures are *ResourceError, engine open, destroy and repair failures are
*OpenError, and iterator faults are *CursorError. An iterator that runs
out of entries simply becomes invalid.
*/
package levelbind
