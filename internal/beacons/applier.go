package beacons

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// CapabilitySetEffectRange names the optional host operation that sets a
// beacon's effect radius directly.
const CapabilitySetEffectRange = "beacon.set-effect-range"

// EffectRangeFunc sets the effect radius of a block entity, in blocks.
type EffectRangeFunc func(e BlockEntity, radius float64) error

// ProbeEffectRange looks the set-effect-range capability up once. A nil
// function with ErrCapabilityUnavailable means callers must fall back to a
// plain refresh.
func ProbeEffectRange(h Host) (EffectRangeFunc, error) {
	var fn EffectRangeFunc
	err := safely(func() error {
		v, ok := h.Capability(CapabilitySetEffectRange)
		if !ok || v == nil {
			return ErrCapabilityUnavailable
		}
		switch f := v.(type) {
		case EffectRangeFunc:
			fn = f
		case func(BlockEntity, float64) error:
			fn = f
		default:
			return fmt.Errorf("%w: unexpected type %T", ErrCapabilityUnavailable, v)
		}
		if fn == nil {
			return ErrCapabilityUnavailable
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCapabilityUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
		}
		return nil, err
	}
	return fn, nil
}

// Applier pushes the configured radius to one beacon.
type Applier struct {
	setRange EffectRangeFunc
	radius   func() int
	log      logger

	applied atomic.Uint64
	failed  atomic.Uint64
}

func newApplier(setRange EffectRangeFunc, radius func() int, lg logger) *Applier {
	return &Applier{setRange: setRange, radius: radius, log: lg}
}

func (a *Applier) Precise() bool { return a.setRange != nil }

func (a *Applier) CapabilityMode() string {
	if a.Precise() {
		return "direct"
	}
	return "fallback"
}

// Apply sets the radius when the host supports it and refreshes the beacon.
// Failures are logged in debug mode and reported as false; they never
// propagate.
func (a *Applier) Apply(e BlockEntity) bool {
	if e == nil {
		a.failed.Add(1)
		return false
	}
	radius := a.radius()
	err := safely(func() error {
		if a.setRange != nil {
			if err := a.setRange(e, float64(radius)); err != nil {
				return fmt.Errorf("set effect range: %w", err)
			}
		}
		return e.Update(true, false)
	})
	if err != nil {
		a.failed.Add(1)
		a.log.Debugf("update beacon: %v", err)
		return false
	}
	a.applied.Add(1)
	if a.setRange != nil {
		a.log.Debugf("beacon range set directly: %v -> %d blocks", safeLocation(e), radius)
	} else {
		a.log.Debugf("beacon refreshed: %v", safeLocation(e))
	}
	return true
}

func (a *Applier) Applied() uint64 { return a.applied.Load() }
func (a *Applier) Failed() uint64  { return a.failed.Load() }

func safeLocation(e BlockEntity) (s string) {
	s = "?"
	_ = safely(func() error {
		s = e.Location().String()
		return nil
	})
	return s
}
