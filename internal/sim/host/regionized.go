package host

import (
	"context"
	"fmt"
	"log"
	"sync"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/sim/scheduler"
	"beaconranger.dev/internal/sim/voxel"
)

type regionKey struct {
	world  string
	rx, rz int
}

// Regionized is a partitioned host. Each region of chunks has its own tick
// loop, created on first use; a global loop handles work not tied to a
// location. There is no main thread: Scheduler rejects every submission.
type Regionized struct {
	*base
	global *scheduler.Loop

	mu      sync.Mutex
	regions map[regionKey]*scheduler.Loop
	ctx     context.Context
	wg      sync.WaitGroup
	stopped bool
}

func NewRegionized(cfg Config, logger *log.Logger) (*Regionized, error) {
	cfg = cfg.normalized()
	b, err := newBase(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Regionized{
		base:    b,
		global:  scheduler.New("global", cfg.TickRateHz, logger),
		regions: map[regionKey]*scheduler.Loop{},
	}, nil
}

// Run drives the global loop and every region loop until ctx is done or
// Stop is called.
func (r *Regionized) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	for _, l := range r.regions {
		r.startLocked(l)
	}
	r.mu.Unlock()

	err := r.global.Run(ctx)
	r.Stop()
	r.wg.Wait()
	return err
}

func (r *Regionized) Stop() {
	r.mu.Lock()
	r.stopped = true
	for _, l := range r.regions {
		l.Stop()
	}
	r.mu.Unlock()
	r.global.Stop()
}

// Regions reports how many region loops exist.
func (r *Regionized) Regions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regions)
}

func (r *Regionized) Scheduler() beacons.Scheduler { return rejectingScheduler{} }

func (r *Regionized) RegionScheduler() beacons.RegionScheduler { return regionScheduler{r: r} }

func (r *Regionized) GlobalRegionScheduler() beacons.GlobalScheduler {
	return globalScheduler{loop: r.global}
}

func (r *Regionized) PlaceBlock(ctx context.Context, loc beacons.Location, kind voxel.BlockKind) error {
	l, err := r.region(loc)
	if err != nil {
		return err
	}
	return callOn(ctx, l, func() error { return r.setBlock(loc, kind) })
}

func (r *Regionized) BreakBlock(ctx context.Context, loc beacons.Location) error {
	return r.PlaceBlock(ctx, loc, voxel.Air)
}

func (r *Regionized) LoadChunk(ctx context.Context, pos beacons.ChunkPos) error {
	l, err := r.region(chunkOrigin(pos))
	if err != nil {
		return err
	}
	return callOn(ctx, l, func() error { return r.loadChunk(pos) })
}

func (r *Regionized) UnloadChunk(ctx context.Context, pos beacons.ChunkPos) (bool, error) {
	l, err := r.region(chunkOrigin(pos))
	if err != nil {
		return false, err
	}
	var unloaded bool
	err = callOn(ctx, l, func() error {
		var err error
		unloaded, err = r.unloadChunk(pos)
		return err
	})
	return unloaded, err
}

// region returns the loop owning loc, creating it if needed.
func (r *Regionized) region(loc beacons.Location) (*scheduler.Loop, error) {
	if _, err := r.world(loc.World); err != nil {
		return nil, err
	}
	c := voxel.ChunkOf(vec(loc))
	shift := r.cfg.RegionShift
	key := regionKey{world: loc.World, rx: c.CX >> shift, rz: c.CZ >> shift}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, scheduler.ErrStopped
	}
	if l, ok := r.regions[key]; ok {
		return l, nil
	}
	l := scheduler.New(fmt.Sprintf("region %s[%d,%d]", key.world, key.rx, key.rz), r.cfg.TickRateHz, r.log)
	r.regions[key] = l
	if r.ctx != nil {
		r.startLocked(l)
	}
	return l, nil
}

func (r *Regionized) startLocked(l *scheduler.Loop) {
	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := l.Run(ctx); err != nil && ctx.Err() == nil && r.log != nil {
			r.log.Printf("%s: %v", l.Name(), err)
		}
	}()
}

func chunkOrigin(pos beacons.ChunkPos) beacons.Location {
	return beacons.Location{World: pos.World, X: pos.CX * voxel.ChunkSize, Z: pos.CZ * voxel.ChunkSize}
}

type rejectingScheduler struct{}

func (rejectingScheduler) RunTask(func()) error { return ErrUnsupported }

func (rejectingScheduler) RunTaskLater(func(), int64) error { return ErrUnsupported }

func (rejectingScheduler) RunTaskTimer(func(), int64, int64) (beacons.Cancelable, error) {
	return nil, ErrUnsupported
}

type regionScheduler struct{ r *Regionized }

func (s regionScheduler) Run(loc beacons.Location, work func()) error {
	return s.RunDelayed(loc, work, 0)
}

func (s regionScheduler) RunDelayed(loc beacons.Location, work func(), delayTicks int64) error {
	l, err := s.r.region(loc)
	if err != nil {
		return fmt.Errorf("route %s: %w", loc, err)
	}
	_, err = l.Submit(work, delayTicks, 0)
	return err
}

type globalScheduler struct{ loop *scheduler.Loop }

func (s globalScheduler) Run(work func()) error {
	_, err := s.loop.Submit(work, 0, 0)
	return err
}

func (s globalScheduler) RunDelayed(work func(), delayTicks int64) error {
	_, err := s.loop.Submit(work, delayTicks, 0)
	return err
}

func (s globalScheduler) RunAtFixedRate(work func(), initialDelayTicks, periodTicks int64) (beacons.ScheduledTask, error) {
	if periodTicks <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", periodTicks)
	}
	t, err := s.loop.Submit(work, initialDelayTicks, periodTicks)
	if err != nil {
		return nil, err
	}
	return scheduledTask{t: t}, nil
}

type scheduledTask struct{ t *scheduler.Task }

func (s scheduledTask) Cancel() beacons.CancelResult {
	switch s.t.Cancel() {
	case scheduler.CancelledRunning:
		return beacons.CancelledRunning
	case scheduler.AlreadyCancelled:
		return beacons.AlreadyCancelled
	case scheduler.AlreadyExecuted:
		return beacons.AlreadyExecuted
	default:
		return beacons.CancelledBeforeRun
	}
}

func (s scheduledTask) Cancelled() bool { return s.t.Cancelled() }
