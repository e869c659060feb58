package beacons

import (
	"errors"
	"sort"
	"sync"
)

var errPinsClosed = errors.New("pin set closed")

// pinSet remembers which chunks the tracker force-loaded so shutdown can
// release exactly those. Once closed it refuses new pins.
type pinSet struct {
	mu     sync.Mutex
	set    map[ChunkPos]struct{}
	closed bool
}

func newPinSet() *pinSet {
	return &pinSet{set: map[ChunkPos]struct{}{}}
}

// pin holds mu across the host call so a concurrent close either sees the
// chunk in the set or makes pin fail.
func (p *pinSet) pin(c Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPinsClosed
	}
	var pos ChunkPos
	err := safely(func() error {
		pos = c.Pos()
		return c.SetForceLoaded(true)
	})
	if err != nil {
		return errPartition(pos, err)
	}
	p.set[pos] = struct{}{}
	return nil
}

// close stops further pins and returns the chunks pinned so far.
func (p *pinSet) close() []ChunkPos {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.positions()
}

func (p *pinSet) unpin(c Chunk) error {
	var pos ChunkPos
	err := safely(func() error {
		pos = c.Pos()
		return c.SetForceLoaded(false)
	})
	if err != nil {
		return errPartition(pos, err)
	}
	p.forget(pos)
	return nil
}

func (p *pinSet) forget(pos ChunkPos) {
	p.mu.Lock()
	delete(p.set, pos)
	p.mu.Unlock()
}

func (p *pinSet) has(pos ChunkPos) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.set[pos]
	return ok
}

func (p *pinSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.set)
}

func (p *pinSet) positions() []ChunkPos {
	p.mu.Lock()
	out := make([]ChunkPos, 0, len(p.set))
	for pos := range p.set {
		out = append(out, pos)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].World != out[j].World {
			return out[i].World < out[j].World
		}
		if out[i].CX != out[j].CX {
			return out[i].CX < out[j].CX
		}
		return out[i].CZ < out[j].CZ
	})
	return out
}

func errPartition(pos ChunkPos, err error) error {
	return &partitionError{Pos: pos, Err: err}
}

type partitionError struct {
	Pos ChunkPos
	Err error
}

func (e *partitionError) Error() string {
	return "chunk " + e.Pos.String() + ": " + e.Err.Error()
}

func (e *partitionError) Unwrap() []error { return []error{ErrPartitionAccess, e.Err} }
