package host

import (
	"context"
	"fmt"
	"log"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/sim/scheduler"
	"beaconranger.dev/internal/sim/voxel"
)

// Server is an unpartitioned host: one tick loop owns every world.
type Server struct {
	*base
	loop *scheduler.Loop
}

func NewServer(cfg Config, logger *log.Logger) (*Server, error) {
	cfg = cfg.normalized()
	b, err := newBase(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Server{base: b, loop: scheduler.New("main", cfg.TickRateHz, logger)}, nil
}

func (s *Server) Run(ctx context.Context) error { return s.loop.Run(ctx) }
func (s *Server) Stop()                         { s.loop.Stop() }
func (s *Server) Loop() *scheduler.Loop         { return s.loop }

func (s *Server) Scheduler() beacons.Scheduler { return loopScheduler{loop: s.loop} }

// PlaceBlock sets a block on the main thread and waits for it to be applied.
func (s *Server) PlaceBlock(ctx context.Context, loc beacons.Location, kind voxel.BlockKind) error {
	return s.call(ctx, func() error { return s.setBlock(loc, kind) })
}

func (s *Server) BreakBlock(ctx context.Context, loc beacons.Location) error {
	return s.PlaceBlock(ctx, loc, voxel.Air)
}

func (s *Server) LoadChunk(ctx context.Context, pos beacons.ChunkPos) error {
	return s.call(ctx, func() error { return s.loadChunk(pos) })
}

// UnloadChunk reports false when the chunk is force-loaded and stays.
func (s *Server) UnloadChunk(ctx context.Context, pos beacons.ChunkPos) (bool, error) {
	var unloaded bool
	err := s.call(ctx, func() error {
		var err error
		unloaded, err = s.unloadChunk(pos)
		return err
	})
	return unloaded, err
}

func (s *Server) call(ctx context.Context, fn func() error) error {
	return callOn(ctx, s.loop, fn)
}

// callOn runs fn on loop and waits for its result.
func callOn(ctx context.Context, loop *scheduler.Loop, fn func() error) error {
	res := make(chan error, 1)
	if _, err := loop.Submit(func() { res <- fn() }, 0, 0); err != nil {
		return fmt.Errorf("%s: %w", loop.Name(), err)
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loopScheduler struct{ loop *scheduler.Loop }

func (s loopScheduler) RunTask(work func()) error {
	_, err := s.loop.Submit(work, 0, 0)
	return err
}

func (s loopScheduler) RunTaskLater(work func(), delayTicks int64) error {
	_, err := s.loop.Submit(work, delayTicks, 0)
	return err
}

func (s loopScheduler) RunTaskTimer(work func(), delayTicks, periodTicks int64) (beacons.Cancelable, error) {
	t, err := s.loop.Submit(work, delayTicks, periodTicks)
	if err != nil {
		return nil, err
	}
	return timerTask{t: t}, nil
}

type timerTask struct{ t *scheduler.Task }

func (t timerTask) Cancel() { t.t.Cancel() }
