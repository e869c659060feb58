package beacons

import "sync"

// Mode is the host execution model, fixed for the process lifetime.
type Mode int

const (
	Unpartitioned Mode = iota + 1
	Partitioned
)

func (m Mode) String() string {
	switch m {
	case Unpartitioned:
		return "unpartitioned"
	case Partitioned:
		return "partitioned"
	default:
		return "unknown"
	}
}

// ModeDetector resolves the host mode lazily and caches it.
type ModeDetector struct {
	host Host
	once sync.Once
	mode Mode
}

func NewModeDetector(h Host) *ModeDetector {
	return &ModeDetector{host: h}
}

func (d *ModeDetector) Detect() Mode {
	d.once.Do(func() {
		d.mode = detectMode(d.host)
	})
	return d.mode
}

// detectMode treats any failure while probing the regionized marker as the
// marker being absent.
func detectMode(h Host) (mode Mode) {
	defer func() {
		if r := recover(); r != nil {
			mode = Unpartitioned
		}
	}()
	rh, ok := h.(Regionized)
	if !ok {
		return Unpartitioned
	}
	if rh.RegionScheduler() == nil {
		return Unpartitioned
	}
	return Partitioned
}
