package voxel

import (
	"errors"
	"testing"
)

func TestChunkOfNegative(t *testing.T) {
	if got := ChunkOf(Vec3i{X: -1, Y: 0, Z: 16}); got != (ChunkKey{CX: -1, CZ: 1}) {
		t.Fatalf("got %+v", got)
	}
	if got := ChunkOf(Vec3i{X: 15, Z: -16}); got != (ChunkKey{CX: 0, CZ: -1}) {
		t.Fatalf("got %+v", got)
	}
}

func TestSetBlockRequiresLoadedChunk(t *testing.T) {
	w := NewWorld("world")
	p := Vec3i{X: 1, Y: 64, Z: 1}
	if _, err := w.SetBlock(p, Beacon); !errors.Is(err, ErrChunkNotLoaded) {
		t.Fatalf("expected ErrChunkNotLoaded, got %v", err)
	}
	w.LoadChunk(ChunkOf(p))
	if prev, err := w.SetBlock(p, Beacon); err != nil || prev != Air {
		t.Fatalf("set: %v %v", prev, err)
	}
	e, err := w.BlockEntityAt(p)
	if err != nil || e == nil || e.Kind() != Beacon || e.Pos() != p {
		t.Fatalf("entity: %+v %v", e, err)
	}
	if prev, _ := w.SetBlock(p, Stone); prev != Beacon {
		t.Fatalf("prev: %v", prev)
	}
	if e, _ := w.BlockEntityAt(p); e != nil {
		t.Fatalf("stone should carry no entity")
	}
}

func TestUnloadRefusesForceLoaded(t *testing.T) {
	w := NewWorld("world")
	k := ChunkKey{CX: 2, CZ: 3}
	c := w.LoadChunk(k)
	c.SetForceLoaded(true)
	if w.UnloadChunk(k) {
		t.Fatalf("force-loaded chunk unloaded")
	}
	c.SetForceLoaded(false)
	if !w.UnloadChunk(k) {
		t.Fatalf("unload failed")
	}
	if _, ok := w.Chunk(k); ok || len(w.LoadedChunks()) != 0 {
		t.Fatalf("chunk still loaded")
	}
}

func TestReloadKeepsBlocks(t *testing.T) {
	w := NewWorld("world")
	p := Vec3i{X: 40, Y: 70, Z: -5}
	w.LoadChunk(ChunkOf(p))
	if _, err := w.SetBlock(p, Beacon); err != nil {
		t.Fatalf("set: %v", err)
	}
	w.UnloadChunk(ChunkOf(p))
	if _, err := w.BlockEntityAt(p); !errors.Is(err, ErrChunkNotLoaded) {
		t.Fatalf("expected unloaded, got %v", err)
	}
	w.LoadChunk(ChunkOf(p))
	if e, err := w.BlockEntityAt(p); err != nil || e == nil {
		t.Fatalf("entity lost across reload: %v", err)
	}
}

func TestEntityState(t *testing.T) {
	w := NewWorld("world")
	p := Vec3i{}
	c := w.LoadChunk(ChunkOf(p))
	w.SetBlock(p, Beacon)
	e := c.Entities()[0]
	e.SetEffectRange(250)
	e.Refresh()
	e.Refresh()
	if e.EffectRange() != 250 || e.Refreshes() != 2 {
		t.Fatalf("range=%v refreshes=%d", e.EffectRange(), e.Refreshes())
	}
}
