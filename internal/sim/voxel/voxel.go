// Package voxel is the block model behind the bundled host simulation: named
// worlds made of 16x16 chunk columns holding block entities.
package voxel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const ChunkSize = 16

var ErrChunkNotLoaded = errors.New("chunk not loaded")

type Vec3i struct{ X, Y, Z int }

func (v Vec3i) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

type ChunkKey struct{ CX, CZ int }

func ChunkOf(p Vec3i) ChunkKey {
	return ChunkKey{CX: floorDiv(p.X, ChunkSize), CZ: floorDiv(p.Z, ChunkSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

type BlockKind string

const (
	Air    BlockKind = "AIR"
	Beacon BlockKind = "BEACON"
	Stone  BlockKind = "STONE"
)

// HasEntity reports whether blocks of kind k carry a block entity.
func (k BlockKind) HasEntity() bool { return k == Beacon }

// BlockEntity is the mutable state attached to an entity-bearing block.
type BlockEntity struct {
	pos  Vec3i
	kind BlockKind

	mu          sync.Mutex
	effectRange float64
	refreshes   int
}

func (e *BlockEntity) Pos() Vec3i      { return e.pos }
func (e *BlockEntity) Kind() BlockKind { return e.kind }

func (e *BlockEntity) SetEffectRange(r float64) {
	e.mu.Lock()
	e.effectRange = r
	e.mu.Unlock()
}

func (e *BlockEntity) EffectRange() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectRange
}

// Refresh re-applies the entity state to the world.
func (e *BlockEntity) Refresh() {
	e.mu.Lock()
	e.refreshes++
	e.mu.Unlock()
}

func (e *BlockEntity) Refreshes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

type Chunk struct {
	key ChunkKey

	mu          sync.Mutex
	blocks      map[Vec3i]BlockKind
	entities    map[Vec3i]*BlockEntity
	forceLoaded bool
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{key: k, blocks: map[Vec3i]BlockKind{}, entities: map[Vec3i]*BlockEntity{}}
}

func (c *Chunk) Key() ChunkKey { return c.key }

func (c *Chunk) SetForceLoaded(v bool) {
	c.mu.Lock()
	c.forceLoaded = v
	c.mu.Unlock()
}

func (c *Chunk) ForceLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceLoaded
}

// Entities returns the chunk's block entities ordered by position.
func (c *Chunk) Entities() []*BlockEntity {
	c.mu.Lock()
	out := make([]*BlockEntity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return lessVec(out[i].pos, out[j].pos) })
	return out
}

func (c *Chunk) block(p Vec3i) BlockKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.blocks[p]; ok {
		return k
	}
	return Air
}

func (c *Chunk) set(p Vec3i, k BlockKind) (prev BlockKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = Air
	if old, ok := c.blocks[p]; ok {
		prev = old
	}
	delete(c.entities, p)
	if k == Air {
		delete(c.blocks, p)
		return prev
	}
	c.blocks[p] = k
	if k.HasEntity() {
		c.entities[p] = &BlockEntity{pos: p, kind: k}
	}
	return prev
}

func (c *Chunk) entity(p Vec3i) *BlockEntity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entities[p]
}

// World is a named set of loaded chunks. Block data of an unloaded chunk is
// kept so reloading it restores its contents.
type World struct {
	name string

	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
	loaded map[ChunkKey]bool
}

func NewWorld(name string) *World {
	return &World{name: name, chunks: map[ChunkKey]*Chunk{}, loaded: map[ChunkKey]bool{}}
}

func (w *World) Name() string { return w.name }

// LoadChunk loads k, creating an empty chunk on first use.
func (w *World) LoadChunk(k ChunkKey) *Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.chunks[k]
	if !ok {
		c = newChunk(k)
		w.chunks[k] = c
	}
	w.loaded[k] = true
	return c
}

// UnloadChunk unloads k unless it is force-loaded. It reports whether the
// chunk is unloaded afterwards.
func (w *World) UnloadChunk(k ChunkKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.chunks[k]
	if !ok || !w.loaded[k] {
		return true
	}
	if c.ForceLoaded() {
		return false
	}
	delete(w.loaded, k)
	return true
}

func (w *World) Chunk(k ChunkKey) (*Chunk, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.loaded[k] {
		return nil, false
	}
	return w.chunks[k], true
}

func (w *World) LoadedChunks() []*Chunk {
	w.mu.RLock()
	out := make([]*Chunk, 0, len(w.loaded))
	for k := range w.loaded {
		out = append(out, w.chunks[k])
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.CX != out[j].key.CX {
			return out[i].key.CX < out[j].key.CX
		}
		return out[i].key.CZ < out[j].key.CZ
	})
	return out
}

// SetBlock places k at p and returns the block it replaced. The chunk must be
// loaded.
func (w *World) SetBlock(p Vec3i, k BlockKind) (BlockKind, error) {
	c, ok := w.Chunk(ChunkOf(p))
	if !ok {
		return Air, fmt.Errorf("set block %s: %w", p, ErrChunkNotLoaded)
	}
	return c.set(p, k), nil
}

func (w *World) Block(p Vec3i) (BlockKind, error) {
	c, ok := w.Chunk(ChunkOf(p))
	if !ok {
		return Air, fmt.Errorf("block %s: %w", p, ErrChunkNotLoaded)
	}
	return c.block(p), nil
}

// BlockEntityAt returns the entity at p, or nil when there is none.
func (w *World) BlockEntityAt(p Vec3i) (*BlockEntity, error) {
	c, ok := w.Chunk(ChunkOf(p))
	if !ok {
		return nil, fmt.Errorf("block entity %s: %w", p, ErrChunkNotLoaded)
	}
	return c.entity(p), nil
}

func lessVec(a, b Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.Y < b.Y
}
