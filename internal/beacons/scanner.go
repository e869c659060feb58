package beacons

import (
	"fmt"
	"time"
)

// ScanResult summarizes one full scan.
type ScanResult struct {
	Worlds int `json:"worlds"`
	Chunks int `json:"chunks"`
	Found  int `json:"found"`
	Failed int `json:"failed"`
}

// Scanner walks every loaded chunk and rebuilds the registry from what it
// finds. It touches global world state, so it must only run on the
// authoritative thread of an unpartitioned host.
type Scanner struct {
	host   Host
	reg    *Registry
	pins   *pinSet
	retain func() bool
	closed func() bool
	now    func() time.Time
	log    logger
}

func (s *Scanner) ScanAll() ScanResult {
	var res ScanResult
	fresh := map[Location]time.Time{}

	var worlds []World
	if err := safely(func() error { worlds = s.host.Worlds(); return nil }); err != nil {
		s.log.Debugf("list worlds: %v", err)
		res.Failed++
	}
	retain := s.retain()
	for _, w := range worlds {
		res.Worlds++
		var (
			name   string
			chunks []Chunk
		)
		err := safely(func() error {
			name = w.Name()
			var err error
			chunks, err = w.LoadedChunks()
			return err
		})
		if err != nil {
			res.Failed++
			s.log.Debugf("scan world %s: %v", name, fmt.Errorf("%w: %v", ErrPartitionAccess, err))
			continue
		}
		for _, c := range chunks {
			res.Chunks++
			found, err := s.scanChunk(c, fresh, retain)
			res.Found += found
			if err != nil {
				res.Failed++
				s.log.Debugf("scan %s: %v", name, err)
			}
		}
	}

	if s.closed != nil && s.closed() {
		s.log.Debugf("tracker closed during scan; %d beacons discarded", len(fresh))
		return res
	}
	s.reg.Replace(fresh)
	s.log.Debugf("%d beacons found", len(fresh))
	return res
}

func (s *Scanner) scanChunk(c Chunk, fresh map[Location]time.Time, retain bool) (int, error) {
	var ents []BlockEntity
	var pos ChunkPos
	err := safely(func() error {
		pos = c.Pos()
		var err error
		ents, err = c.BlockEntities()
		return err
	})
	if err != nil {
		return 0, errPartition(pos, err)
	}
	found := 0
	for _, e := range ents {
		var (
			kind string
			loc  Location
		)
		if err := safely(func() error { kind, loc = e.Kind(), e.Location(); return nil }); err != nil {
			continue
		}
		if kind != KindBeacon {
			continue
		}
		fresh[loc] = s.now()
		found++
	}
	if found > 0 && retain {
		if err := s.pins.pin(c); err != nil {
			s.log.Debugf("force-load %s: %v", pos, err)
		}
	}
	return found, nil
}
