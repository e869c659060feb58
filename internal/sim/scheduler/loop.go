// Package scheduler runs work on a single goroutine driven by a fixed-rate
// tick, the way a game server thread owns its world.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrStopped = errors.New("scheduler stopped")
	ErrBusy    = errors.New("scheduler queue full")
)

const submitBuffer = 4096

// CancelState reports what Task.Cancel found.
type CancelState int

const (
	CancelledBeforeRun CancelState = iota + 1
	CancelledRunning
	AlreadyCancelled
	AlreadyExecuted
)

func (s CancelState) String() string {
	switch s {
	case CancelledBeforeRun:
		return "cancelled_before_run"
	case CancelledRunning:
		return "cancelled_running"
	case AlreadyCancelled:
		return "already_cancelled"
	case AlreadyExecuted:
		return "already_executed"
	default:
		return "unknown"
	}
}

type taskState int

const (
	taskPending taskState = iota
	taskRunning
	taskDone
	taskCancelled
)

// Task is one submitted unit of work. Periodic tasks stay pending between
// runs until cancelled.
type Task struct {
	work   func()
	delay  uint64
	period uint64
	due    uint64

	mu    sync.Mutex
	state taskState
	runs  int
}

func (t *Task) Cancel() CancelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case taskCancelled:
		return AlreadyCancelled
	case taskDone:
		return AlreadyExecuted
	case taskRunning:
		t.state = taskCancelled
		return CancelledRunning
	default:
		t.state = taskCancelled
		return CancelledBeforeRun
	}
}

func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskCancelled
}

// Runs reports how many times the task has run.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Loop executes tasks in submission order on the goroutine running Run.
type Loop struct {
	name     string
	interval time.Duration
	log      *log.Logger

	submit   chan *Task
	stop     chan struct{}
	stopOnce sync.Once

	tick   atomic.Uint64
	queue  []*Task
	panics atomic.Uint64
}

func New(name string, tickRateHz int, logger *log.Logger) *Loop {
	if tickRateHz <= 0 {
		tickRateHz = 20
	}
	return &Loop{
		name:     name,
		interval: time.Second / time.Duration(tickRateHz),
		log:      logger,
		submit:   make(chan *Task, submitBuffer),
		stop:     make(chan struct{}),
	}
}

func (l *Loop) Name() string { return l.name }

// Submit queues work to run after delayTicks ticks (at the next tick when
// delayTicks <= 0). A positive periodTicks makes the task repeat.
func (l *Loop) Submit(work func(), delayTicks, periodTicks int64) (*Task, error) {
	if work == nil {
		return nil, fmt.Errorf("%s: nil task", l.name)
	}
	t := &Task{work: work}
	if delayTicks > 0 {
		t.delay = uint64(delayTicks)
	}
	if periodTicks > 0 {
		t.period = uint64(periodTicks)
	}
	select {
	case <-l.stop:
		return nil, ErrStopped
	default:
	}
	select {
	case l.submit <- t:
		return t, nil
	default:
		return nil, ErrBusy
	}
}

func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case t := <-l.submit:
			l.enqueue(t)
		case <-ticker.C:
			l.step()
		}
	}
}

func (l *Loop) Stop() { l.stopOnce.Do(func() { close(l.stop) }) }

func (l *Loop) Stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// StepOnce accepts pending submissions and advances one tick on the calling
// goroutine. It must not be used while Run is active.
func (l *Loop) StepOnce() uint64 {
	for {
		select {
		case t := <-l.submit:
			l.enqueue(t)
			continue
		default:
		}
		break
	}
	l.step()
	return l.tick.Load()
}

func (l *Loop) CurrentTick() uint64 { return l.tick.Load() }

// Panics counts tasks that panicked.
func (l *Loop) Panics() uint64 { return l.panics.Load() }

func (l *Loop) enqueue(t *Task) {
	// A task submitted during tick N with no delay runs at tick N+1.
	t.due = l.tick.Load() + 1 + t.delay
	l.queue = append(l.queue, t)
}

func (l *Loop) step() {
	now := l.tick.Add(1)
	due := l.queue[:0:0]
	kept := l.queue[:0]
	for _, t := range l.queue {
		if t.due <= now {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	l.queue = kept
	for _, t := range due {
		if l.runTask(t) {
			t.due = now + t.period
			l.queue = append(l.queue, t)
		}
	}
}

// runTask reports whether t should be rescheduled.
func (l *Loop) runTask(t *Task) bool {
	t.mu.Lock()
	if t.state == taskCancelled {
		t.mu.Unlock()
		return false
	}
	t.state = taskRunning
	t.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				l.panics.Add(1)
				if l.log != nil {
					l.log.Printf("%s: task panic: %v", l.name, r)
				}
			}
		}()
		t.work()
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	if t.state != taskRunning {
		return false
	}
	if t.period > 0 {
		t.state = taskPending
		return true
	}
	t.state = taskDone
	return false
}
