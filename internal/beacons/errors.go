package beacons

import (
	"errors"
	"fmt"
)

var (
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrRoutingFailure        = errors.New("region routing failed")
	ErrStaleEntity           = errors.New("stale block entity")
	ErrPartitionAccess       = errors.New("partition access failed")
	ErrStartup               = errors.New("tracker startup failed")
	ErrInvalidRadius         = errors.New("please provide a number between 10 and 1000")
	ErrClosed                = errors.New("tracker closed")
)

// safely runs fn and converts a panic raised by host code into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("host panic: %w", e)
				return
			}
			err = fmt.Errorf("host panic: %v", r)
		}
	}()
	return fn()
}
