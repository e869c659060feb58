package beacons

// Host is the simulation runtime the tracker is attached to.
type Host interface {
	// Scheduler returns the single authoritative scheduler. Regionized hosts
	// may return a scheduler that rejects every submission.
	Scheduler() Scheduler
	Worlds() []World
	ChunkAt(pos ChunkPos) (Chunk, bool)
	// BlockEntityAt returns the block entity at loc, or nil when the block has none.
	BlockEntityAt(loc Location) (BlockEntity, error)
	// Capability looks up an optional host operation by name.
	Capability(name string) (any, bool)
	RegisterListener(l Listener) error
}

type World interface {
	Name() string
	LoadedChunks() ([]Chunk, error)
}

type Chunk interface {
	Pos() ChunkPos
	BlockEntities() ([]BlockEntity, error)
	SetForceLoaded(v bool) error
	ForceLoaded() bool
}

type BlockEntity interface {
	Location() Location
	Kind() string
	// Update pushes the entity's state to observers. applyPhysics=false keeps
	// neighbouring blocks untouched.
	Update(force, applyPhysics bool) error
}

// Listener receives block entity notifications from the host.
type Listener interface {
	OnEntityCreated(ev Event)
	OnEntityRemoved(ev Event)
}

// Cancelable is the task handle returned by the authoritative scheduler.
type Cancelable interface {
	Cancel()
}

type Scheduler interface {
	RunTask(work func()) error
	RunTaskLater(work func(), delayTicks int64) error
	RunTaskTimer(work func(), delayTicks, periodTicks int64) (Cancelable, error)
}

// Regionized is implemented by hosts that split the world into independently
// scheduled regions. Only region-local access is safe on such hosts.
type Regionized interface {
	RegionScheduler() RegionScheduler
	GlobalRegionScheduler() GlobalScheduler
}

type RegionScheduler interface {
	Run(loc Location, work func()) error
	RunDelayed(loc Location, work func(), delayTicks int64) error
}

type GlobalScheduler interface {
	Run(work func()) error
	RunDelayed(work func(), delayTicks int64) error
	RunAtFixedRate(work func(), initialDelayTicks, periodTicks int64) (ScheduledTask, error)
}

// CancelResult reports what a ScheduledTask.Cancel call did.
type CancelResult int

const (
	CancelledBeforeRun CancelResult = iota + 1
	CancelledRunning
	AlreadyCancelled
	AlreadyExecuted
)

// ScheduledTask is the task handle returned by the global region scheduler.
type ScheduledTask interface {
	Cancel() CancelResult
	Cancelled() bool
}
