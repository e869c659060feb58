package beacons

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type fakeEntity struct {
	loc        Location
	kind       string
	updates    atomic.Int64
	lastRange  atomic.Int64
	failUpdate bool
	panicOn    bool
}

func (e *fakeEntity) Location() Location { return e.loc }
func (e *fakeEntity) Kind() string       { return e.kind }
func (e *fakeEntity) Update(force, applyPhysics bool) error {
	if e.panicOn {
		panic("entity vanished")
	}
	if e.failUpdate {
		return errors.New("update rejected")
	}
	e.updates.Add(1)
	return nil
}

type fakeChunk struct {
	pos     ChunkPos
	mu      sync.Mutex
	ents    []BlockEntity
	forced  bool
	failErr error
	pinOps  int
	// onRead runs before BlockEntities returns.
	onRead func()
}

func (c *fakeChunk) Pos() ChunkPos { return c.pos }
func (c *fakeChunk) BlockEntities() ([]BlockEntity, error) {
	if c.onRead != nil {
		c.onRead()
	}
	if c.failErr != nil {
		return nil, c.failErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BlockEntity(nil), c.ents...), nil
}
func (c *fakeChunk) SetForceLoaded(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced = v
	c.pinOps++
	return nil
}
func (c *fakeChunk) ForceLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

type fakeWorld struct {
	name   string
	chunks []Chunk
	err    error
}

func (w *fakeWorld) Name() string { return w.name }
func (w *fakeWorld) LoadedChunks() ([]Chunk, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.chunks, nil
}

// fakeScheduler queues work until the test drains it, standing in for the
// authoritative thread.
type fakeScheduler struct {
	mu     sync.Mutex
	queue  []func()
	delays []int64
	timers []*fakeTimer
	err    error
}

type fakeTimer struct {
	work      func()
	delay     int64
	period    int64
	cancelled atomic.Int64
}

func (t *fakeTimer) Cancel() { t.cancelled.Add(1) }

func (s *fakeScheduler) RunTask(work func()) error { return s.RunTaskLater(work, 0) }

func (s *fakeScheduler) RunTaskLater(work func(), delayTicks int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.queue = append(s.queue, work)
	s.delays = append(s.delays, delayTicks)
	return nil
}

func (s *fakeScheduler) RunTaskTimer(work func(), delayTicks, periodTicks int64) (Cancelable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t := &fakeTimer{work: work, delay: delayTicks, period: periodTicks}
	s.timers = append(s.timers, t)
	return t, nil
}

// drain runs queued work, including work queued while draining.
func (s *fakeScheduler) drain() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return n
		}
		work := s.queue[0]
		s.queue = s.queue[1:]
		s.delays = s.delays[1:]
		s.mu.Unlock()
		work()
		n++
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *fakeScheduler) lastTimer() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type fakeHost struct {
	mu        sync.Mutex
	sched     *fakeScheduler
	worlds    []World
	chunks    map[ChunkPos]*fakeChunk
	entities  map[Location]*fakeEntity
	caps      map[string]any
	listeners []Listener
	regErr    error
	lookupErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		sched:    &fakeScheduler{},
		chunks:   map[ChunkPos]*fakeChunk{},
		entities: map[Location]*fakeEntity{},
		caps:     map[string]any{},
	}
}

func (h *fakeHost) Scheduler() Scheduler { return h.sched }
func (h *fakeHost) Worlds() []World      { return h.worlds }

func (h *fakeHost) ChunkAt(pos ChunkPos) (Chunk, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chunks[pos]
	if !ok {
		return nil, false
	}
	return c, true
}

func (h *fakeHost) BlockEntityAt(loc Location) (BlockEntity, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lookupErr != nil {
		return nil, h.lookupErr
	}
	e, ok := h.entities[loc]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (h *fakeHost) Capability(name string) (any, bool) {
	v, ok := h.caps[name]
	return v, ok
}

func (h *fakeHost) RegisterListener(l Listener) error {
	if h.regErr != nil {
		return h.regErr
	}
	h.listeners = append(h.listeners, l)
	return nil
}

// place adds a beacon to the host world, loading its chunk if needed.
func (h *fakeHost) place(loc Location) *fakeEntity {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &fakeEntity{loc: loc, kind: KindBeacon}
	h.entities[loc] = e
	pos := loc.Chunk()
	c, ok := h.chunks[pos]
	if !ok {
		c = &fakeChunk{pos: pos}
		h.chunks[pos] = c
		h.attachChunkLocked(c)
	}
	c.mu.Lock()
	c.ents = append(c.ents, e)
	c.mu.Unlock()
	return e
}

func (h *fakeHost) attachChunkLocked(c *fakeChunk) {
	for _, w := range h.worlds {
		fw := w.(*fakeWorld)
		if fw.name == c.pos.World {
			fw.chunks = append(fw.chunks, c)
			return
		}
	}
	h.worlds = append(h.worlds, &fakeWorld{name: c.pos.World, chunks: []Chunk{c}})
}

func (h *fakeHost) breakBlock(loc Location) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entities, loc)
	if c, ok := h.chunks[loc.Chunk()]; ok {
		c.mu.Lock()
		kept := c.ents[:0]
		for _, e := range c.ents {
			if e.Location() != loc {
				kept = append(kept, e)
			}
		}
		c.ents = kept
		c.mu.Unlock()
	}
}

func (h *fakeHost) chunk(pos ChunkPos) *fakeChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chunks[pos]
}

// regionHost is a partitioned fake: region work runs on its own goroutine.
type regionHost struct {
	*fakeHost
	regions *fakeRegions
	global  *fakeGlobal
}

func newRegionHost() *regionHost {
	return &regionHost{
		fakeHost: newFakeHost(),
		regions:  &fakeRegions{},
		global:   &fakeGlobal{},
	}
}

func (h *regionHost) RegionScheduler() RegionScheduler       { return h.regions }
func (h *regionHost) GlobalRegionScheduler() GlobalScheduler { return h.global }

type fakeRegions struct {
	wg     sync.WaitGroup
	routed atomic.Int64
	err    error
}

func (r *fakeRegions) Run(loc Location, work func()) error {
	return r.RunDelayed(loc, work, 0)
}

func (r *fakeRegions) RunDelayed(loc Location, work func(), delayTicks int64) error {
	if r.err != nil {
		return r.err
	}
	r.routed.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		work()
	}()
	return nil
}

type fakeGlobal struct {
	mu    sync.Mutex
	tasks []*fakeScheduledTask
	runs  atomic.Int64
}

func (g *fakeGlobal) Run(work func()) error {
	g.runs.Add(1)
	work()
	return nil
}

func (g *fakeGlobal) RunDelayed(work func(), delayTicks int64) error { return g.Run(work) }

func (g *fakeGlobal) RunAtFixedRate(work func(), initialDelayTicks, periodTicks int64) (ScheduledTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := &fakeScheduledTask{work: work, period: periodTicks}
	g.tasks = append(g.tasks, t)
	return t, nil
}

func (g *fakeGlobal) lastTask() *fakeScheduledTask {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tasks) == 0 {
		return nil
	}
	return g.tasks[len(g.tasks)-1]
}

type fakeScheduledTask struct {
	work      func()
	period    int64
	cancels   atomic.Int64
	cancelled atomic.Bool
}

func (t *fakeScheduledTask) Cancel() CancelResult {
	t.cancels.Add(1)
	if t.cancelled.Swap(true) {
		return AlreadyCancelled
	}
	return CancelledBeforeRun
}

func (t *fakeScheduledTask) Cancelled() bool { return t.cancelled.Load() }

func at(world string, x, y, z int) Location {
	return Location{World: world, X: x, Y: y, Z: z}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
