package beacons

import (
	"errors"
	"testing"
	"time"
)

func TestScannerIsolatesFailures(t *testing.T) {
	h := newFakeHost()
	good := h.place(at("w", 1, 64, 1))
	other := h.place(at("w", 100, 64, 1))
	h.chunk(other.loc.Chunk()).failErr = errors.New("chunk data corrupt")
	h.worlds = append(h.worlds, &fakeWorld{name: "nether", err: errors.New("world unloading")})

	reg := NewRegistry()
	reg.Upsert(at("w", 500, 0, 500), time.Now()) // stale, dropped by rebuild
	s := &Scanner{
		host:   h,
		reg:    reg,
		pins:   newPinSet(),
		retain: func() bool { return true },
		now:    time.Now,
		log:    testLogger(),
	}
	res := s.ScanAll()

	if res.Worlds != 2 || res.Chunks != 2 || res.Found != 1 || res.Failed != 2 {
		t.Fatalf("result: %+v", res)
	}
	if keys := reg.Keys(); len(keys) != 1 || keys[0] != good.loc {
		t.Fatalf("registry: %v", keys)
	}
	if !h.chunk(good.loc.Chunk()).ForceLoaded() || !s.pins.has(good.loc.Chunk()) {
		t.Fatalf("chunk with a beacon should be pinned")
	}
}

func TestScannerSkipsNonBeacons(t *testing.T) {
	h := newFakeHost()
	e := h.place(at("w", 1, 64, 1))
	e.kind = "FURNACE"
	s := &Scanner{host: h, reg: NewRegistry(), pins: newPinSet(), retain: func() bool { return true }, now: time.Now, log: testLogger()}
	if res := s.ScanAll(); res.Found != 0 {
		t.Fatalf("found: %d", res.Found)
	}
	if h.chunk(e.loc.Chunk()).ForceLoaded() {
		t.Fatalf("chunk without beacons pinned")
	}
}
