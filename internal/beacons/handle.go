package beacons

import (
	"sync"
	"sync/atomic"
)

type handleKind int

const (
	handleTimer handleKind = iota + 1
	handleScheduled
)

// TaskHandle wraps a periodic task from either scheduler family behind one
// Cancel method. Cancel is idempotent and safe for concurrent use.
type TaskHandle struct {
	kind      handleKind
	timer     Cancelable
	scheduled ScheduledTask

	once      sync.Once
	cancelled atomic.Bool
}

func timerHandle(c Cancelable) *TaskHandle {
	return &TaskHandle{kind: handleTimer, timer: c}
}

func scheduledHandle(t ScheduledTask) *TaskHandle {
	return &TaskHandle{kind: handleScheduled, scheduled: t}
}

func (h *TaskHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancelled.Store(true)
		_ = safely(func() error {
			switch h.kind {
			case handleTimer:
				if h.timer != nil {
					h.timer.Cancel()
				}
			case handleScheduled:
				if h.scheduled != nil && !h.scheduled.Cancelled() {
					h.scheduled.Cancel()
				}
			}
			return nil
		})
	})
}

func (h *TaskHandle) Cancelled() bool {
	return h == nil || h.cancelled.Load()
}
