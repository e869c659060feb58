package beacons

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type Option func(*Tracker)

func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) { t.log.l = l }
}

// WithAuditLogger sends the audit trail to a.
func WithAuditLogger(a AuditLogger) Option {
	return func(t *Tracker) { t.auditLog = a }
}

// WithSettingsSaver persists settings changed through SetRadius.
func WithSettingsSaver(fn func(Settings) error) Option {
	return func(t *Tracker) { t.save = fn }
}

// WithPassObserver is called after every finished reconciliation pass, on the
// goroutine that finished it.
func WithPassObserver(fn func(PassStats)) Option {
	return func(t *Tracker) { t.onPass = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker owns all beacon tracking state for one host.
type Tracker struct {
	host     Host
	log      logger
	debug    atomic.Bool
	auditLog AuditLogger
	save     func(Settings) error
	onPass   func(PassStats)
	now      func() time.Time

	settingsMu sync.RWMutex
	settings   Settings

	detector   *ModeDetector
	reg        *Registry
	pins       *pinSet
	disp       Dispatcher
	applier    *Applier
	scanner    *Scanner
	reconciler *Reconciler
	listener   *EventListener

	lifecycleMu sync.Mutex
	started     bool
	closed      atomic.Bool
}

// New builds a tracker for h. The host mode and the set-effect-range
// capability are resolved here, once.
func New(h Host, s Settings, opts ...Option) *Tracker {
	t := &Tracker{
		host:     h,
		settings: s.Normalize(),
		now:      time.Now,
		reg:      NewRegistry(),
		pins:     newPinSet(),
	}
	t.log.debug = &t.debug
	for _, opt := range opts {
		opt(t)
	}
	t.debug.Store(t.settings.Debug)
	t.detector = NewModeDetector(h)

	mode := t.detector.Detect()
	t.disp = newDispatcher(mode, h, t.log)

	setRange, err := ProbeEffectRange(h)
	if err != nil {
		t.log.Printf("set-effect-range not available (%v); using refresh fallback", err)
	} else {
		t.log.Printf("set-effect-range available; direct range control enabled")
	}
	t.applier = newApplier(setRange, t.Radius, t.log)
	t.scanner = &Scanner{
		host:   h,
		reg:    t.reg,
		pins:   t.pins,
		retain: func() bool { return t.Settings().RetainChunks },
		closed: t.closed.Load,
		now:    t.now,
		log:    t.log,
	}
	t.listener = &EventListener{
		reg:      t.reg,
		disp:     t.disp,
		host:     h,
		applier:  t.applier,
		pins:     t.pins,
		settings: t.Settings,
		closed:   t.closed.Load,
		audit:    t.audit,
		now:      t.now,
		log:      t.log,
	}
	t.reconciler = &Reconciler{
		reg:     t.reg,
		host:    h,
		disp:    t.disp,
		applier: t.applier,
		now:     t.now,
		log:     t.log,
		onPass:  t.passFinished,
	}
	t.reconciler.onPruned = func(loc Location) {
		t.audit(AuditEntry{Kind: AuditPruned, Location: &loc})
		if mode == Unpartitioned && t.Settings().RetainChunks && t.pins.has(loc.Chunk()) {
			t.listener.releaseChunk(loc.Chunk())
		}
	}
	return t
}

// Start registers the event listener, arms the periodic pass and, on an
// unpartitioned host, schedules the initial scan. A registration failure is
// fatal and leaves the tracker closed.
func (t *Tracker) Start() error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	if t.started {
		return nil
	}
	mode := t.Mode()
	t.log.Printf("host mode: %s", mode)

	if err := safely(func() error { return t.host.RegisterListener(t.listener) }); err != nil {
		t.closed.Store(true)
		t.reconciler.Close()
		return fmt.Errorf("%w: register listener: %v", ErrStartup, err)
	}

	s := t.Settings()
	if err := t.reconciler.Start(s.IntervalSeconds); err != nil {
		t.log.Printf("start update task: %v", err)
	} else if s.IntervalSeconds > 0 {
		t.log.Debugf("update task started (%d seconds)", s.IntervalSeconds)
	}

	if mode == Unpartitioned {
		t.disp.RunNow(func() { t.Scan() })
	} else {
		t.log.Printf("partitioned host: beacons are discovered from events only (no global scan)")
	}
	t.started = true
	return nil
}

// Scan rebuilds the registry from loaded chunks. It is a no-op on
// partitioned hosts, where a global walk is unsafe.
func (t *Tracker) Scan() ScanResult {
	if t.closed.Load() || t.Mode() != Unpartitioned {
		return ScanResult{}
	}
	res := t.scanner.ScanAll()
	t.audit(AuditEntry{Kind: AuditScan, Reason: fmt.Sprintf("worlds=%d chunks=%d found=%d failed=%d", res.Worlds, res.Chunks, res.Found, res.Failed)})
	return res
}

// ReconcileTick runs one reconciliation pass on the calling goroutine. Hosts
// call it from their periodic primitive.
func (t *Tracker) ReconcileTick() {
	if t.closed.Load() {
		return
	}
	t.reconciler.Tick()
}

// ReconcileNow schedules an immediate pass through the dispatcher.
func (t *Tracker) ReconcileNow() {
	if t.closed.Load() {
		return
	}
	t.disp.RunNow(t.reconciler.Tick)
}

// Reload swaps in a new settings snapshot. The periodic pass is re-armed
// when the interval changed, and unpartitioned hosts are rescanned.
func (t *Tracker) Reload(s Settings) error {
	if t.closed.Load() {
		return ErrClosed
	}
	s = s.Normalize()
	t.settingsMu.Lock()
	prev := t.settings
	t.settings = s
	t.settingsMu.Unlock()
	t.debug.Store(s.Debug)
	t.log.Debugf("configuration loaded - radius: %d", s.Radius)

	if prev.IntervalSeconds != s.IntervalSeconds {
		if err := t.reconciler.Start(s.IntervalSeconds); err != nil {
			t.log.Printf("restart update task: %v", err)
		}
	}
	if t.Mode() == Unpartitioned {
		t.disp.RunNow(func() { t.Scan() })
	}
	return nil
}

// SetRadius clamps r, stores and persists it, and triggers an immediate pass.
// It returns the value actually applied.
func (t *Tracker) SetRadius(r int) int {
	r = ClampRadius(r)
	t.settingsMu.Lock()
	t.settings.Radius = r
	s := t.settings
	t.settingsMu.Unlock()

	if t.save != nil {
		if err := t.save(s); err != nil {
			t.log.Printf("save settings: %v", err)
		}
	}
	t.audit(AuditEntry{Kind: AuditRadius, Radius: r})
	t.ReconcileNow()
	return r
}

// SetRadiusInput parses admin input and applies it. Non-numeric input is
// rejected with ErrInvalidRadius and changes nothing.
func (t *Tracker) SetRadiusInput(raw string) (int, error) {
	r, err := ParseRadius(raw)
	if err != nil {
		return t.Radius(), err
	}
	return t.SetRadius(r), nil
}

func (t *Tracker) Settings() Settings {
	t.settingsMu.RLock()
	defer t.settingsMu.RUnlock()
	return t.settings
}

func (t *Tracker) Radius() int { return t.Settings().Radius }

func (t *Tracker) Mode() Mode { return t.detector.Detect() }

func (t *Tracker) Registry() *Registry { return t.reg }

func (t *Tracker) Listener() Listener { return t.listener }

func (t *Tracker) Dispatcher() Dispatcher { return t.disp }

func (t *Tracker) Status() Status {
	s := t.Settings()
	return Status{
		Mode:            t.Mode().String(),
		Radius:          s.Radius,
		Tracked:         t.reg.Len(),
		CapabilityMode:  t.applier.CapabilityMode(),
		IntervalSeconds: s.IntervalSeconds,
		RetainChunks:    s.RetainChunks,
		Debug:           s.Debug,
		PinnedChunks:    t.pins.len(),
		Passes:          t.reconciler.Passes(),
		LastPass:        t.reconciler.LastPass(),
	}
}

// Counters exposes running totals for metrics.
type Counters struct {
	Passes    uint64
	Updated   uint64
	Pruned    uint64
	Applied   uint64
	Failed    uint64
	Fallbacks uint64
}

func (t *Tracker) Counters() Counters {
	return Counters{
		Passes:    t.reconciler.Passes(),
		Updated:   t.reconciler.UpdatedTotal(),
		Pruned:    t.reconciler.PrunedTotal(),
		Applied:   t.applier.Applied(),
		Failed:    t.applier.Failed(),
		Fallbacks: t.disp.Fallbacks(),
	}
}

// Shutdown cancels the periodic pass, clears the registry and releases every
// chunk the tracker pinned. Chunks that are already unloaded are skipped. A
// scan still running elsewhere can no longer pin once this starts.
func (t *Tracker) Shutdown() {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.closed.Swap(true) {
		return
	}
	t.reconciler.Close()
	t.reg.Clear()
	pinned := t.pins.close()
	if t.Mode() == Unpartitioned {
		for _, pos := range pinned {
			c, ok := t.listener.chunk(pos)
			if !ok {
				t.pins.forget(pos)
				continue
			}
			if err := t.pins.unpin(c); err != nil {
				t.log.Debugf("release %s: %v", pos, err)
			}
		}
	}
	t.log.Printf("beacon tracker stopped")
}

func (t *Tracker) Closed() bool { return t.closed.Load() }

func (t *Tracker) passFinished(stats PassStats) {
	t.audit(AuditEntry{Kind: AuditPass, Pass: &stats})
	if t.onPass != nil {
		t.onPass(stats)
	}
}

func (t *Tracker) audit(e AuditEntry) {
	if t.auditLog == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = t.now()
	}
	if e.Mode == "" {
		e.Mode = t.Mode().String()
	}
	e.Tracked = t.reg.Len()
	if err := t.auditLog.WriteAudit(e); err != nil {
		t.log.Debugf("audit: %v", err)
	}
}
