package beacons

import (
	"fmt"
	"sync/atomic"
)

// Dispatcher runs units of work on the execution context the host mode
// requires. None of its methods wait for the work to finish.
type Dispatcher interface {
	Mode() Mode
	RunNow(work func())
	RunDelayed(work func(), delayTicks int64)
	// RunAtLocation runs work on the context owning loc. delayTicks <= 0 means
	// as soon as possible.
	RunAtLocation(loc Location, work func(), delayTicks int64)
	RunPeriodic(work func(), initialDelayTicks, intervalTicks int64) (*TaskHandle, error)
	// Fallbacks counts units that ran inline because routing failed.
	Fallbacks() uint64
}

func newDispatcher(mode Mode, h Host, lg logger) Dispatcher {
	if mode == Partitioned {
		d := &regionDispatcher{log: lg}
		_ = safely(func() error {
			rh := h.(Regionized)
			d.regions = rh.RegionScheduler()
			d.global = rh.GlobalRegionScheduler()
			return nil
		})
		return d
	}
	return &authoritativeDispatcher{sched: h.Scheduler(), log: lg}
}

// authoritativeDispatcher sends everything to the single owning thread;
// locations are irrelevant.
type authoritativeDispatcher struct {
	sched   Scheduler
	log     logger
	dropped atomic.Uint64
}

func (d *authoritativeDispatcher) Mode() Mode { return Unpartitioned }

func (d *authoritativeDispatcher) RunNow(work func()) {
	d.RunDelayed(work, 0)
}

func (d *authoritativeDispatcher) RunDelayed(work func(), delayTicks int64) {
	err := safely(func() error {
		if d.sched == nil {
			return fmt.Errorf("no scheduler")
		}
		if delayTicks > 0 {
			return d.sched.RunTaskLater(work, delayTicks)
		}
		return d.sched.RunTask(work)
	})
	if err != nil {
		// Running on the caller's goroutine is not safe in this mode.
		d.dropped.Add(1)
		d.log.Debugf("schedule task: %v (dropped)", err)
	}
}

func (d *authoritativeDispatcher) RunAtLocation(_ Location, work func(), delayTicks int64) {
	d.RunDelayed(work, delayTicks)
}

func (d *authoritativeDispatcher) RunPeriodic(work func(), initialDelayTicks, intervalTicks int64) (*TaskHandle, error) {
	var task Cancelable
	err := safely(func() error {
		if d.sched == nil {
			return fmt.Errorf("no scheduler")
		}
		var err error
		task, err = d.sched.RunTaskTimer(work, initialDelayTicks, intervalTicks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start timer: %w", err)
	}
	return timerHandle(task), nil
}

func (d *authoritativeDispatcher) Fallbacks() uint64 { return 0 }

// regionDispatcher routes location-bound work to the owning region and
// global work to the host-wide scheduler. When routing fails the work runs
// inline so the update is not lost.
type regionDispatcher struct {
	regions   RegionScheduler
	global    GlobalScheduler
	log       logger
	fallbacks atomic.Uint64
}

func (d *regionDispatcher) Mode() Mode { return Partitioned }

func (d *regionDispatcher) RunNow(work func()) {
	d.RunDelayed(work, 0)
}

func (d *regionDispatcher) RunDelayed(work func(), delayTicks int64) {
	err := safely(func() error {
		if d.global == nil {
			return ErrRoutingFailure
		}
		if delayTicks > 0 {
			return d.global.RunDelayed(work, delayTicks)
		}
		return d.global.Run(work)
	})
	if err != nil {
		d.fallback("global", err, work)
	}
}

func (d *regionDispatcher) RunAtLocation(loc Location, work func(), delayTicks int64) {
	err := safely(func() error {
		if d.regions == nil {
			return ErrRoutingFailure
		}
		if delayTicks > 0 {
			return d.regions.RunDelayed(loc, work, delayTicks)
		}
		return d.regions.Run(loc, work)
	})
	if err != nil {
		d.fallback(loc.String(), err, work)
	}
}

func (d *regionDispatcher) RunPeriodic(work func(), initialDelayTicks, intervalTicks int64) (*TaskHandle, error) {
	var task ScheduledTask
	err := safely(func() error {
		if d.global == nil {
			return ErrRoutingFailure
		}
		var err error
		task, err = d.global.RunAtFixedRate(work, initialDelayTicks, intervalTicks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start global timer: %w", err)
	}
	return scheduledHandle(task), nil
}

func (d *regionDispatcher) Fallbacks() uint64 { return d.fallbacks.Load() }

func (d *regionDispatcher) fallback(target string, err error, work func()) {
	d.fallbacks.Add(1)
	d.log.Debugf("route %s: %v; running inline", target, err)
	if perr := safely(func() error { work(); return nil }); perr != nil {
		d.log.Debugf("inline task %s: %v", target, perr)
	}
}
