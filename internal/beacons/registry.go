package beacons

import (
	"sort"
	"sync"
	"time"
)

// Registry maps tracked beacon locations to the time they were last seen.
// It is safe for concurrent use; Keys returns a point-in-time copy so callers
// can iterate while other goroutines mutate the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[Location]entry
	gen     uint64
}

// entry.gen changes on every insert, so a stale verdict can be told apart
// from a beacon placed again at the same spot.
type entry struct {
	seen time.Time
	gen  uint64
}

// StaleKey is a location found invalid while it carried generation Gen.
type StaleKey struct {
	Loc Location
	Gen uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: map[Location]entry{}}
}

// Upsert inserts loc or refreshes it. Either way the entry gets a new
// generation.
func (r *Registry) Upsert(loc Location, ts time.Time) {
	r.mu.Lock()
	r.gen++
	r.entries[loc] = entry{seen: ts, gen: r.gen}
	r.mu.Unlock()
}

// Touch refreshes the timestamp of loc only if it is still tracked.
func (r *Registry) Touch(loc Location, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[loc]
	if !ok {
		return false
	}
	e.seen = ts
	r.entries[loc] = e
	return true
}

func (r *Registry) Remove(loc Location) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[loc]; !ok {
		return false
	}
	delete(r.entries, loc)
	return true
}

// Generation reports the current generation of loc.
func (r *Registry) Generation(loc Location) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[loc]
	return e.gen, ok
}

// RemoveStale deletes each key whose entry still carries the generation it
// was judged at and returns the locations it removed. Entries upserted again
// since then survive.
func (r *Registry) RemoveStale(keys []StaleKey) []Location {
	if len(keys) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Location
	for _, k := range keys {
		if e, ok := r.entries[k.Loc]; ok && e.gen == k.Gen {
			delete(r.entries, k.Loc)
			removed = append(removed, k.Loc)
		}
	}
	return removed
}

func (r *Registry) Contains(loc Location) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[loc]
	return ok
}

func (r *Registry) LastSeen(loc Location) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[loc]
	return e.seen, ok
}

// Keys returns the tracked locations in a stable order.
func (r *Registry) Keys() []Location {
	r.mu.RLock()
	out := make([]Location, 0, len(r.entries))
	for loc := range r.entries {
		out = append(out, loc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return lessLocation(out[i], out[j]) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = map[Location]entry{}
	r.mu.Unlock()
}

// Replace swaps the registry contents for fresh in one step.
func (r *Registry) Replace(fresh map[Location]time.Time) {
	r.mu.Lock()
	cp := make(map[Location]entry, len(fresh))
	for k, v := range fresh {
		r.gen++
		cp[k] = entry{seen: v, gen: r.gen}
	}
	r.entries = cp
	r.mu.Unlock()
}

// HasChunkSibling reports whether any tracked location lies in pos.
// This is a linear scan; tracked beacon counts are expected to stay small.
func (r *Registry) HasChunkSibling(pos ChunkPos) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for loc := range r.entries {
		if loc.Chunk() == pos {
			return true
		}
	}
	return false
}

func lessLocation(a, b Location) bool {
	if a.World != b.World {
		return a.World < b.World
	}
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.Y < b.Y
}
