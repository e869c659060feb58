package beacons

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	reconcilerIdle int32 = iota
	reconcilerRunning
	reconcilerClosed
)

// Reconciler periodically re-validates every tracked beacon, updates the
// ones that still exist and prunes the rest in one batch per pass.
type Reconciler struct {
	reg     *Registry
	host    Host
	disp    Dispatcher
	applier *Applier
	now     func() time.Time
	log     logger

	// onPruned runs for each key a pass actually removed.
	onPruned func(loc Location)
	onPass   func(PassStats)

	state atomic.Int32

	mu     sync.Mutex
	handle *TaskHandle

	seq     atomic.Uint64
	passes  atomic.Uint64
	updated atomic.Uint64
	pruned  atomic.Uint64
	last    atomic.Pointer[PassStats]
}

// Start (re)arms the periodic pass. An interval of 0 only stops the current
// timer.
func (r *Reconciler) Start(intervalSeconds int) error {
	r.Stop()
	if intervalSeconds <= 0 || r.state.Load() == reconcilerClosed {
		return nil
	}
	period := int64(intervalSeconds) * TicksPerSecond
	h, err := r.disp.RunPeriodic(r.Tick, TicksPerSecond, period)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
	return nil
}

// Stop cancels the periodic pass, if any.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.mu.Unlock()
	h.Cancel()
}

// Close stops the timer for good; later ticks are ignored.
func (r *Reconciler) Close() {
	r.state.Store(reconcilerClosed)
	r.Stop()
}

func (r *Reconciler) Scheduled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle != nil && !r.handle.Cancelled()
}

// Tick runs one pass. Overlapping ticks are skipped; a routed pass counts
// as running until its last unit finishes.
func (r *Reconciler) Tick() {
	if !r.state.CompareAndSwap(reconcilerIdle, reconcilerRunning) {
		if r.state.Load() == reconcilerRunning {
			r.log.Debugf("reconcile pass still running; tick skipped")
		}
		return
	}

	r.log.Debugf("updating beacons (%s)", r.disp.Mode())
	if r.disp.Mode() == Partitioned {
		r.reconcileRouted()
		return
	}
	defer r.release()
	r.reconcileDirect()
}

func (r *Reconciler) release() {
	r.state.CompareAndSwap(reconcilerRunning, reconcilerIdle)
}

type checkResult int

const (
	checkGone checkResult = iota
	checkInvalid
	checkUpdated
	checkFailed
)

// check validates loc and applies the radius when it is still a beacon. A
// key removed since the pass began is reported as gone.
func (r *Reconciler) check(loc Location) (checkResult, StaleKey) {
	gen, ok := r.reg.Generation(loc)
	if !ok {
		return checkGone, StaleKey{}
	}
	e, ok := r.validate(loc)
	if !ok {
		return checkInvalid, StaleKey{Loc: loc, Gen: gen}
	}
	if r.applier.Apply(e) {
		return checkUpdated, StaleKey{}
	}
	return checkFailed, StaleKey{}
}

func (r *Reconciler) reconcileDirect() {
	stats := r.newPass()
	var invalid []StaleKey
	for _, loc := range r.reg.Keys() {
		stats.Checked++
		res, key := r.check(loc)
		switch res {
		case checkInvalid:
			invalid = append(invalid, key)
		case checkUpdated:
			stats.Updated++
		case checkFailed:
			stats.Failed++
		}
	}
	stats.Pruned = r.prune(invalid)
	r.finish(stats)
}

// reconcileRouted never touches world state itself: each key is validated
// and updated on the region that owns it. The last unit to finish prunes the
// pass's invalid keys and releases the pass.
func (r *Reconciler) reconcileRouted() {
	keys := r.reg.Keys()
	stats := r.newPass()
	if len(keys) == 0 {
		r.finish(stats)
		r.release()
		return
	}
	p := &routedPass{stats: stats}
	p.pending.Store(int64(len(keys)))
	for _, loc := range keys {
		loc := loc
		p.addRouted()
		r.disp.RunAtLocation(loc, func() { r.reconcileOne(p, loc) }, 0)
	}
}

func (r *Reconciler) reconcileOne(p *routedPass, loc Location) {
	defer func() {
		if p.pending.Add(-1) != 0 {
			return
		}
		stats, invalid := p.result()
		stats.Pruned = r.prune(invalid)
		r.finish(stats)
		r.release()
	}()
	p.record(r.check(loc))
}

func (r *Reconciler) validate(loc Location) (BlockEntity, bool) {
	var e BlockEntity
	err := safely(func() error {
		var err error
		e, err = r.host.BlockEntityAt(loc)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("%w: no block entity", ErrStaleEntity)
		}
		if kind := e.Kind(); kind != KindBeacon {
			return fmt.Errorf("%w: kind %s", ErrStaleEntity, kind)
		}
		if got := e.Location(); got != loc {
			return fmt.Errorf("%w: entity reports %s", ErrStaleEntity, got)
		}
		return nil
	})
	if err != nil {
		r.log.Debugf("validate beacon at %s: %v", loc, err)
		return nil, false
	}
	r.reg.Touch(loc, r.now())
	return e, true
}

func (r *Reconciler) prune(invalid []StaleKey) int {
	removed := r.reg.RemoveStale(invalid)
	if kept := len(invalid) - len(removed); kept > 0 {
		r.log.Debugf("%d invalid beacons changed during the pass; kept", kept)
	}
	if r.onPruned != nil {
		for _, loc := range removed {
			r.onPruned(loc)
		}
	}
	return len(removed)
}

func (r *Reconciler) newPass() PassStats {
	return PassStats{
		Seq:     r.seq.Add(1),
		Mode:    r.disp.Mode().String(),
		Started: r.now(),
	}
}

func (r *Reconciler) finish(stats PassStats) {
	stats.Duration = r.now().Sub(stats.Started)
	r.passes.Add(1)
	r.updated.Add(uint64(stats.Updated))
	r.pruned.Add(uint64(stats.Pruned))
	r.last.Store(&stats)
	if r.onPass != nil {
		r.onPass(stats)
	}
}

func (r *Reconciler) Passes() uint64       { return r.passes.Load() }
func (r *Reconciler) UpdatedTotal() uint64 { return r.updated.Load() }
func (r *Reconciler) PrunedTotal() uint64  { return r.pruned.Load() }
func (r *Reconciler) LastPass() *PassStats {
	p := r.last.Load()
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

type routedPass struct {
	pending atomic.Int64

	mu      sync.Mutex
	stats   PassStats
	invalid []StaleKey
}

func (p *routedPass) addRouted() {
	p.mu.Lock()
	p.stats.Routed++
	p.mu.Unlock()
}

func (p *routedPass) record(res checkResult, key StaleKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Checked++
	switch res {
	case checkInvalid:
		p.invalid = append(p.invalid, key)
	case checkUpdated:
		p.stats.Updated++
	case checkFailed:
		p.stats.Failed++
	}
}

func (p *routedPass) result() (PassStats, []StaleKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, append([]StaleKey(nil), p.invalid...)
}
