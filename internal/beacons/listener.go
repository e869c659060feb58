package beacons

import "time"

// CreateUpdateDelayTicks delays the first update of a newly placed beacon so
// the host finishes initializing it.
const CreateUpdateDelayTicks = TicksPerSecond

// EventListener keeps the registry in step with host notifications. Neither
// handler lets a failure escape into the host's event pipeline.
type EventListener struct {
	reg      *Registry
	disp     Dispatcher
	host     Host
	applier  *Applier
	pins     *pinSet
	settings func() Settings
	closed   func() bool
	audit    func(AuditEntry)
	now      func() time.Time
	log      logger
}

func (l *EventListener) OnEntityCreated(ev Event) {
	defer l.isolate("created", ev)
	if l.closed() || ev.Kind != KindBeacon {
		return
	}
	loc := ev.Location
	l.reg.Upsert(loc, l.now())
	l.disp.RunAtLocation(loc, func() { l.updateOne(loc) }, CreateUpdateDelayTicks)

	if l.disp.Mode() == Unpartitioned && l.settings().RetainChunks {
		l.pinChunk(loc.Chunk())
	}
	l.log.Debugf("new beacon placed at %s", loc)
	l.audit(AuditEntry{Kind: AuditCreated, Location: &loc})
}

func (l *EventListener) OnEntityRemoved(ev Event) {
	defer l.isolate("removed", ev)
	if l.closed() || ev.Kind != KindBeacon {
		return
	}
	loc := ev.Location
	l.reg.Remove(loc)
	if l.disp.Mode() == Unpartitioned && l.settings().RetainChunks {
		l.releaseChunk(loc.Chunk())
	}
	l.log.Debugf("beacon removed at %s", loc)
	l.audit(AuditEntry{Kind: AuditRemoved, Location: &loc})
}

// updateOne re-reads the entity on its owning context before applying, since
// the block may have changed during the delay.
func (l *EventListener) updateOne(loc Location) {
	var e BlockEntity
	err := safely(func() error {
		var err error
		e, err = l.host.BlockEntityAt(loc)
		return err
	})
	if err != nil {
		l.log.Debugf("update new beacon at %s: %v", loc, err)
		return
	}
	if e == nil || e.Kind() != KindBeacon {
		return
	}
	l.applier.Apply(e)
}

func (l *EventListener) pinChunk(pos ChunkPos) {
	c, ok := l.chunk(pos)
	if !ok {
		return
	}
	if err := l.pins.pin(c); err != nil {
		l.log.Debugf("force-load %s: %v", pos, err)
	}
}

// releaseChunk unpins pos unless another tracked beacon still lives there.
func (l *EventListener) releaseChunk(pos ChunkPos) {
	if l.reg.HasChunkSibling(pos) {
		return
	}
	c, ok := l.chunk(pos)
	if !ok {
		l.pins.forget(pos)
		return
	}
	if err := l.pins.unpin(c); err != nil {
		l.log.Debugf("release %s: %v", pos, err)
	}
}

func (l *EventListener) chunk(pos ChunkPos) (Chunk, bool) {
	var (
		c  Chunk
		ok bool
	)
	if err := safely(func() error { c, ok = l.host.ChunkAt(pos); return nil }); err != nil {
		l.log.Debugf("lookup %s: %v", pos, err)
		return nil, false
	}
	return c, ok && c != nil
}

func (l *EventListener) isolate(what string, ev Event) {
	if r := recover(); r != nil {
		l.log.Debugf("handle %s event at %s: %v", what, ev.Location, r)
	}
}
