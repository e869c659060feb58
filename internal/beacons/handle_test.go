package beacons

import (
	"sync"
	"testing"
)

type panicCancel struct{}

func (panicCancel) Cancel() { panic("already gone") }

func TestTaskHandleCancelTwiceTimer(t *testing.T) {
	timer := &fakeTimer{}
	h := timerHandle(timer)
	h.Cancel()
	h.Cancel()
	if got := timer.cancelled.Load(); got != 1 {
		t.Fatalf("timer cancelled %d times", got)
	}
	if !h.Cancelled() {
		t.Fatalf("handle should report cancelled")
	}
}

func TestTaskHandleCancelTwiceScheduled(t *testing.T) {
	task := &fakeScheduledTask{}
	h := scheduledHandle(task)
	h.Cancel()
	h.Cancel()
	if got := task.cancels.Load(); got != 1 {
		t.Fatalf("task cancelled %d times", got)
	}
}

func TestTaskHandleSkipsAlreadyCancelledTask(t *testing.T) {
	task := &fakeScheduledTask{}
	task.cancelled.Store(true)
	scheduledHandle(task).Cancel()
	if got := task.cancels.Load(); got != 0 {
		t.Fatalf("expected no cancel call, got %d", got)
	}
}

func TestTaskHandleCancelConcurrentAndNil(t *testing.T) {
	var nilHandle *TaskHandle
	nilHandle.Cancel()

	timer := &fakeTimer{}
	h := timerHandle(timer)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Cancel()
		}()
	}
	wg.Wait()
	if got := timer.cancelled.Load(); got != 1 {
		t.Fatalf("timer cancelled %d times", got)
	}

	// A panicking host cancel must not escape.
	timerHandle(panicCancel{}).Cancel()
}
