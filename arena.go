package levelbind

// arena.go exposes the scoped buffer arena.

import "github.com/aalhour/levelbind/internal/arena"

// Arena is a stack-discipline buffer allocator. Set ReadOptions.Arena to
// have Get, Iterator.Next and Iterator.Prev place results in the arena
// instead of the heap:
//
//	a := levelbind.NewArena()
//	ro := &levelbind.ReadOptions{Arena: a}
//	a.Push(64 << 10)
//	for _, k := range keys {
//		v, err := db.Get(ro, k)
//		...
//	}
//	a.Pop() // every value read since Push is released
//
// Results are the same with or without an arena. An Arena is not safe for
// concurrent use.
type Arena = arena.Arena

// ArenaStats counts buffers handed out by an Arena.
type ArenaStats = arena.Stats

// NewArena returns an empty arena backed by the shared buffer pool.
func NewArena() *Arena {
	return arena.New()
}
