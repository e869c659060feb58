// Package host simulates the two server execution models the beacon tracker
// runs on: a single authoritative tick thread, and region-owned tick loops
// with no global thread.
package host

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/sim/voxel"
)

var (
	ErrUnknownWorld = errors.New("unknown world")
	ErrUnsupported  = errors.New("operation not supported by this host")
)

// WorldSpec describes one world created at startup.
type WorldSpec struct {
	Name string
	// Preload loads every chunk within this many chunks of the origin.
	Preload int
	Beacons []voxel.Vec3i
}

type Config struct {
	TickRateHz int
	// PreciseRange exposes the set-effect-range capability.
	PreciseRange bool
	// RegionShift sets the region size to 2^RegionShift chunks per side.
	RegionShift int
	Worlds      []WorldSpec
}

func (c Config) normalized() Config {
	if c.TickRateHz <= 0 {
		c.TickRateHz = beacons.TicksPerSecond
	}
	if c.RegionShift < 0 {
		c.RegionShift = 0
	}
	if len(c.Worlds) == 0 {
		c.Worlds = []WorldSpec{{Name: "world"}}
	}
	return c
}

// base holds the world model and listener registry shared by both host
// flavours.
type base struct {
	cfg     Config
	log     *log.Logger
	worlds  map[string]*voxel.World
	order   []string
	precise bool

	mu        sync.RWMutex
	listeners []beacons.Listener
}

func newBase(cfg Config, logger *log.Logger) (*base, error) {
	b := &base{cfg: cfg, log: logger, worlds: map[string]*voxel.World{}, precise: cfg.PreciseRange}
	for _, ws := range cfg.Worlds {
		if ws.Name == "" {
			return nil, fmt.Errorf("world name is required")
		}
		if _, dup := b.worlds[ws.Name]; dup {
			return nil, fmt.Errorf("duplicate world %q", ws.Name)
		}
		w := voxel.NewWorld(ws.Name)
		for cx := -ws.Preload; cx <= ws.Preload; cx++ {
			for cz := -ws.Preload; cz <= ws.Preload; cz++ {
				w.LoadChunk(voxel.ChunkKey{CX: cx, CZ: cz})
			}
		}
		for _, p := range ws.Beacons {
			w.LoadChunk(voxel.ChunkOf(p))
			if _, err := w.SetBlock(p, voxel.Beacon); err != nil {
				return nil, fmt.Errorf("seed beacon %s in %s: %w", p, ws.Name, err)
			}
		}
		b.worlds[ws.Name] = w
		b.order = append(b.order, ws.Name)
	}
	sort.Strings(b.order)
	return b, nil
}

func (b *base) world(name string) (*voxel.World, error) {
	w, ok := b.worlds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, name)
	}
	return w, nil
}

// World exposes the underlying model, mainly for tests and admin tooling.
func (b *base) World(name string) (*voxel.World, bool) {
	w, ok := b.worlds[name]
	return w, ok
}

func (b *base) Worlds() []beacons.World {
	out := make([]beacons.World, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, worldHandle{w: b.worlds[name]})
	}
	return out
}

func (b *base) ChunkAt(pos beacons.ChunkPos) (beacons.Chunk, bool) {
	w, ok := b.worlds[pos.World]
	if !ok {
		return nil, false
	}
	c, ok := w.Chunk(voxel.ChunkKey{CX: pos.CX, CZ: pos.CZ})
	if !ok {
		return nil, false
	}
	return chunkHandle{world: pos.World, c: c}, true
}

func (b *base) BlockEntityAt(loc beacons.Location) (beacons.BlockEntity, error) {
	w, err := b.world(loc.World)
	if err != nil {
		return nil, err
	}
	e, err := w.BlockEntityAt(vec(loc))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	return entityHandle{world: loc.World, e: e}, nil
}

func (b *base) Capability(name string) (any, bool) {
	if name != beacons.CapabilitySetEffectRange || !b.precise {
		return nil, false
	}
	return beacons.EffectRangeFunc(setEffectRange), true
}

func (b *base) RegisterListener(l beacons.Listener) error {
	if l == nil {
		return fmt.Errorf("nil listener")
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
	return nil
}

// setBlock changes one block and notifies listeners about entities that
// disappeared or appeared. It must run on the context owning loc.
func (b *base) setBlock(loc beacons.Location, kind voxel.BlockKind) error {
	w, err := b.world(loc.World)
	if err != nil {
		return err
	}
	p := vec(loc)
	w.LoadChunk(voxel.ChunkOf(p))
	prev, err := w.SetBlock(p, kind)
	if err != nil {
		return err
	}
	if prev.HasEntity() {
		b.notify(func(l beacons.Listener) { l.OnEntityRemoved(beacons.Event{Location: loc, Kind: string(prev)}) })
	}
	if kind.HasEntity() {
		b.notify(func(l beacons.Listener) { l.OnEntityCreated(beacons.Event{Location: loc, Kind: string(kind)}) })
	}
	return nil
}

func (b *base) loadChunk(pos beacons.ChunkPos) error {
	w, err := b.world(pos.World)
	if err != nil {
		return err
	}
	w.LoadChunk(voxel.ChunkKey{CX: pos.CX, CZ: pos.CZ})
	return nil
}

func (b *base) unloadChunk(pos beacons.ChunkPos) (bool, error) {
	w, err := b.world(pos.World)
	if err != nil {
		return false, err
	}
	return w.UnloadChunk(voxel.ChunkKey{CX: pos.CX, CZ: pos.CZ}), nil
}

func (b *base) notify(fn func(beacons.Listener)) {
	b.mu.RLock()
	ls := append([]beacons.Listener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil && b.log != nil {
					b.log.Printf("listener panic: %v", r)
				}
			}()
			fn(l)
		}()
	}
}

func setEffectRange(e beacons.BlockEntity, radius float64) error {
	h, ok := e.(entityHandle)
	if !ok {
		return fmt.Errorf("foreign block entity %T", e)
	}
	h.e.SetEffectRange(radius)
	return nil
}

func vec(loc beacons.Location) voxel.Vec3i {
	return voxel.Vec3i{X: loc.X, Y: loc.Y, Z: loc.Z}
}

type worldHandle struct{ w *voxel.World }

func (h worldHandle) Name() string { return h.w.Name() }

func (h worldHandle) LoadedChunks() ([]beacons.Chunk, error) {
	cs := h.w.LoadedChunks()
	out := make([]beacons.Chunk, 0, len(cs))
	for _, c := range cs {
		out = append(out, chunkHandle{world: h.w.Name(), c: c})
	}
	return out, nil
}

type chunkHandle struct {
	world string
	c     *voxel.Chunk
}

func (h chunkHandle) Pos() beacons.ChunkPos {
	k := h.c.Key()
	return beacons.ChunkPos{World: h.world, CX: k.CX, CZ: k.CZ}
}

func (h chunkHandle) BlockEntities() ([]beacons.BlockEntity, error) {
	es := h.c.Entities()
	out := make([]beacons.BlockEntity, 0, len(es))
	for _, e := range es {
		out = append(out, entityHandle{world: h.world, e: e})
	}
	return out, nil
}

func (h chunkHandle) SetForceLoaded(v bool) error {
	h.c.SetForceLoaded(v)
	return nil
}

func (h chunkHandle) ForceLoaded() bool { return h.c.ForceLoaded() }

type entityHandle struct {
	world string
	e     *voxel.BlockEntity
}

func (h entityHandle) Location() beacons.Location {
	p := h.e.Pos()
	return beacons.Location{World: h.world, X: p.X, Y: p.Y, Z: p.Z}
}

func (h entityHandle) Kind() string { return string(h.e.Kind()) }

func (h entityHandle) Update(force, applyPhysics bool) error {
	h.e.Refresh()
	return nil
}
