package host

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/sim/voxel"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func testConfig(precise bool) Config {
	return Config{
		TickRateHz:   500,
		PreciseRange: precise,
		RegionShift:  1,
		Worlds: []WorldSpec{{
			Name:    "world",
			Preload: 1,
			Beacons: []voxel.Vec3i{{X: 5, Y: 64, Z: 5}, {X: 100, Y: 64, Z: 100}},
		}},
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func entity(t *testing.T, w *voxel.World, p voxel.Vec3i) *voxel.BlockEntity {
	t.Helper()
	e, err := w.BlockEntityAt(p)
	if err != nil || e == nil {
		t.Fatalf("entity at %s: %v", p, err)
	}
	return e
}

func TestNewServerRejectsDuplicateWorlds(t *testing.T) {
	_, err := NewServer(Config{Worlds: []WorldSpec{{Name: "a"}, {Name: "a"}}}, quiet())
	if err == nil {
		t.Fatalf("expected duplicate world error")
	}
}

func TestServerTrackerLifecycle(t *testing.T) {
	srv, err := NewServer(testConfig(true), quiet())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	tr := beacons.New(srv, beacons.Settings{Radius: 250, IntervalSeconds: 1, RetainChunks: true}, beacons.WithLogger(quiet()))
	if tr.Mode() != beacons.Unpartitioned {
		t.Fatalf("mode: %s", tr.Mode())
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, "initial scan", func() bool { return tr.Registry().Len() == 2 })

	w, _ := srv.World("world")
	seeded := voxel.Vec3i{X: 100, Y: 64, Z: 100}
	pinned := beacons.ChunkPos{World: "world", CX: 6, CZ: 6}
	if ok, err := srv.UnloadChunk(ctx, pinned); err != nil || ok {
		t.Fatalf("pinned chunk unloaded: %v %v", ok, err)
	}

	placed := beacons.Location{World: "world", X: -20, Y: 64, Z: -20}
	if err := srv.PlaceBlock(ctx, placed, voxel.Beacon); err != nil {
		t.Fatalf("place: %v", err)
	}
	if !tr.Registry().Contains(placed) {
		t.Fatalf("placed beacon not tracked")
	}
	p := voxel.Vec3i{X: -20, Y: 64, Z: -20}
	waitUntil(t, "delayed update", func() bool { return entity(t, w, p).Refreshes() >= 1 })
	if got := entity(t, w, p).EffectRange(); got != 250 {
		t.Fatalf("effect range: %v", got)
	}

	// The periodic pass reaches seeded beacons too.
	waitUntil(t, "periodic pass", func() bool { return tr.Status().Passes >= 1 })
	if entity(t, w, seeded).EffectRange() != 250 {
		t.Fatalf("seeded beacon not updated")
	}

	if err := srv.BreakBlock(ctx, placed); err != nil {
		t.Fatalf("break: %v", err)
	}
	if tr.Registry().Contains(placed) {
		t.Fatalf("broken beacon still tracked")
	}

	tr.Shutdown()
	if ok, err := srv.UnloadChunk(ctx, pinned); err != nil || !ok {
		t.Fatalf("chunk still pinned after shutdown: %v %v", ok, err)
	}
}

func TestServerWithoutPreciseRangeRefreshes(t *testing.T) {
	srv, err := NewServer(testConfig(false), quiet())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if _, ok := srv.Capability(beacons.CapabilitySetEffectRange); ok {
		t.Fatalf("capability should be absent")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	tr := beacons.New(srv, beacons.DefaultSettings(), beacons.WithLogger(quiet()))
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Shutdown()
	waitUntil(t, "scan", func() bool { return tr.Registry().Len() == 2 })
	tr.ReconcileNow()
	waitUntil(t, "pass", func() bool { return tr.Status().Passes == 1 })

	w, _ := srv.World("world")
	e := entity(t, w, voxel.Vec3i{X: 5, Y: 64, Z: 5})
	if e.Refreshes() != 1 || e.EffectRange() != 0 {
		t.Fatalf("refreshes=%d range=%v", e.Refreshes(), e.EffectRange())
	}
	if tr.Status().CapabilityMode != "fallback" {
		t.Fatalf("capability mode: %s", tr.Status().CapabilityMode)
	}
}

func TestRegionizedTrackerLifecycle(t *testing.T) {
	rh, err := NewRegionized(testConfig(true), quiet())
	if err != nil {
		t.Fatalf("NewRegionized: %v", err)
	}
	if err := rh.Scheduler().RunTask(func() {}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("main scheduler should be unsupported, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rh.Run(ctx) }()

	tr := beacons.New(rh, beacons.Settings{Radius: 300, IntervalSeconds: 300, RetainChunks: true}, beacons.WithLogger(quiet()))
	if tr.Mode() != beacons.Partitioned {
		t.Fatalf("mode: %s", tr.Mode())
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.Registry().Len() != 0 {
		t.Fatalf("partitioned host must not scan")
	}

	placed := beacons.Location{World: "world", X: 40, Y: 70, Z: 40}
	if err := rh.PlaceBlock(ctx, placed, voxel.Beacon); err != nil {
		t.Fatalf("place: %v", err)
	}
	if !tr.Registry().Contains(placed) {
		t.Fatalf("placed beacon not tracked")
	}
	w, _ := rh.World("world")
	p := voxel.Vec3i{X: 40, Y: 70, Z: 40}
	waitUntil(t, "routed update", func() bool { return entity(t, w, p).EffectRange() == 300 })
	if rh.Regions() == 0 {
		t.Fatalf("no region loop created")
	}

	// Chunks are never pinned here, so the chunk can unload; the next pass
	// prunes the beacon it can no longer see.
	pos := placed.Chunk()
	if ok, err := rh.UnloadChunk(ctx, pos); err != nil || !ok {
		t.Fatalf("unload: %v %v", ok, err)
	}
	// A timer pass still in flight makes ReconcileNow a no-op, so keep asking.
	waitUntil(t, "prune", func() bool {
		if last := tr.Status().LastPass; last != nil && last.Pruned == 1 {
			return true
		}
		tr.ReconcileNow()
		return false
	})
	if tr.Registry().Contains(placed) {
		t.Fatalf("pruned beacon still tracked")
	}
	if last := tr.Status().LastPass; last.Routed != 1 || tr.Counters().Pruned != 1 {
		t.Fatalf("last pass: %+v", last)
	}
	if tr.Counters().Fallbacks != 0 {
		t.Fatalf("fallbacks: %d", tr.Counters().Fallbacks)
	}

	tr.Shutdown()
	rh.Stop()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("regionized host did not stop")
	}
}

func TestRegionizedRejectsUnknownWorld(t *testing.T) {
	rh, err := NewRegionized(testConfig(false), quiet())
	if err != nil {
		t.Fatalf("NewRegionized: %v", err)
	}
	err = rh.RegionScheduler().Run(beacons.Location{World: "nether"}, func() {})
	if !errors.Is(err, ErrUnknownWorld) {
		t.Fatalf("expected ErrUnknownWorld, got %v", err)
	}
}

func TestScheduledTaskCancelResult(t *testing.T) {
	rh, err := NewRegionized(testConfig(false), quiet())
	if err != nil {
		t.Fatalf("NewRegionized: %v", err)
	}
	task, err := rh.GlobalRegionScheduler().RunAtFixedRate(func() {}, 20, 20)
	if err != nil {
		t.Fatalf("RunAtFixedRate: %v", err)
	}
	if got := task.Cancel(); got != beacons.CancelledBeforeRun {
		t.Fatalf("cancel: %v", got)
	}
	if got := task.Cancel(); got != beacons.AlreadyCancelled || !task.Cancelled() {
		t.Fatalf("second cancel: %v", got)
	}
	if _, err := rh.GlobalRegionScheduler().RunAtFixedRate(func() {}, 1, 0); err == nil {
		t.Fatalf("zero period accepted")
	}
}
