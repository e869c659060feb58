package beacons

import (
	"bytes"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
)

func testLogger() logger {
	var debug atomic.Bool
	debug.Store(true)
	return logger{l: quietLogger(), debug: &debug}
}

// gatedRegions accepts work and runs it on another goroutine once released.
type gatedRegions struct {
	release chan struct{}
	wg      sync.WaitGroup
}

func (g *gatedRegions) Run(loc Location, work func()) error { return g.RunDelayed(loc, work, 0) }

func (g *gatedRegions) RunDelayed(_ Location, work func(), _ int64) error {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		<-g.release
		work()
	}()
	return nil
}

func TestRegionDispatcherNeverRunsInlineOnSuccess(t *testing.T) {
	regions := &gatedRegions{release: make(chan struct{})}
	d := &regionDispatcher{regions: regions, global: &fakeGlobal{}, log: testLogger()}

	var ran atomic.Bool
	d.RunAtLocation(at("w", 1, 2, 3), func() { ran.Store(true) }, 0)
	if ran.Load() {
		t.Fatalf("work ran on the calling goroutine")
	}
	close(regions.release)
	regions.wg.Wait()
	if !ran.Load() {
		t.Fatalf("work never ran")
	}
	if d.Fallbacks() != 0 {
		t.Fatalf("fallbacks: %d", d.Fallbacks())
	}
}

func TestRegionDispatcherFallsBackInline(t *testing.T) {
	d := &regionDispatcher{regions: &fakeRegions{err: errors.New("region unloaded")}, log: testLogger()}

	ran := false
	d.RunAtLocation(at("w", 0, 0, 0), func() { ran = true }, 20)
	if !ran {
		t.Fatalf("fallback should run work before returning")
	}
	d.RunNow(func() { panic("boom") })
	if got := d.Fallbacks(); got != 2 {
		t.Fatalf("fallbacks: got %d want 2", got)
	}
}

func TestRegionDispatcherPeriodicUsesGlobal(t *testing.T) {
	g := &fakeGlobal{}
	d := &regionDispatcher{regions: &fakeRegions{}, global: g, log: testLogger()}
	h, err := d.RunPeriodic(func() {}, 20, 6000)
	if err != nil {
		t.Fatalf("RunPeriodic: %v", err)
	}
	task := g.lastTask()
	if task == nil || task.period != 6000 {
		t.Fatalf("global task: %+v", task)
	}
	h.Cancel()
	if !task.Cancelled() {
		t.Fatalf("task not cancelled")
	}
}

func TestAuthoritativeDispatcherQueuesOnScheduler(t *testing.T) {
	s := &fakeScheduler{}
	d := &authoritativeDispatcher{sched: s, log: testLogger()}

	ran := 0
	d.RunAtLocation(at("w", 0, 0, 0), func() { ran++ }, CreateUpdateDelayTicks)
	d.RunNow(func() { ran++ })
	if ran != 0 {
		t.Fatalf("work ran before the scheduler did")
	}
	if s.delays[0] != CreateUpdateDelayTicks || s.delays[1] != 0 {
		t.Fatalf("delays: %v", s.delays)
	}
	s.drain()
	if ran != 2 {
		t.Fatalf("ran: %d", ran)
	}
}

func TestAuthoritativeDispatcherDropsOnFailure(t *testing.T) {
	s := &fakeScheduler{err: errors.New("plugin disabled")}
	d := &authoritativeDispatcher{sched: s, log: testLogger()}
	ran := false
	d.RunNow(func() { ran = true })
	if ran {
		t.Fatalf("work must not run inline")
	}
	if d.dropped.Load() != 1 {
		t.Fatalf("dropped: %d", d.dropped.Load())
	}
	if _, err := d.RunPeriodic(func() {}, 20, 20); err == nil {
		t.Fatalf("expected timer error")
	}
}

func TestAuthoritativeDispatcherDropIsDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	var debug atomic.Bool
	lg := logger{l: log.New(&buf, "", 0), debug: &debug}
	d := &authoritativeDispatcher{sched: &fakeScheduler{err: errors.New("plugin disabled")}, log: lg}

	d.RunNow(func() {})
	d.RunDelayed(func() {}, 20)
	if buf.Len() != 0 {
		t.Fatalf("drop logged outside debug: %q", buf.String())
	}
	if d.dropped.Load() != 2 {
		t.Fatalf("dropped: %d", d.dropped.Load())
	}

	debug.Store(true)
	d.RunNow(func() {})
	if !bytes.Contains(buf.Bytes(), []byte("dropped")) {
		t.Fatalf("debug log missing: %q", buf.String())
	}
}

func TestNewDispatcherByMode(t *testing.T) {
	if _, ok := newDispatcher(Unpartitioned, newFakeHost(), testLogger()).(*authoritativeDispatcher); !ok {
		t.Fatalf("unpartitioned should use the authoritative dispatcher")
	}
	rh := newRegionHost()
	d, ok := newDispatcher(Partitioned, rh, testLogger()).(*regionDispatcher)
	if !ok || d.regions == nil || d.global == nil {
		t.Fatalf("partitioned dispatcher: %+v", d)
	}
}
