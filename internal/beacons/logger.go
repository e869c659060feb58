package beacons

import (
	"log"
	"sync/atomic"
)

// logger gates per-entity chatter behind the debug setting.
type logger struct {
	l     *log.Logger
	debug *atomic.Bool
}

func (lg logger) Printf(format string, args ...any) {
	if lg.l == nil {
		return
	}
	lg.l.Printf(format, args...)
}

func (lg logger) Debugf(format string, args ...any) {
	if lg.debug == nil || !lg.debug.Load() {
		return
	}
	lg.Printf(format, args...)
}
