package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/config"
	persistlog "beaconranger.dev/internal/persistence/log"
	"beaconranger.dev/internal/sim/host"
	"beaconranger.dev/internal/transport/ws"
)

// simHost is the bundled host simulation in either threading model.
type simHost interface {
	beacons.Host
	Run(ctx context.Context) error
	Stop()
}

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		configPath = flag.String("config", "./configs/beaconranger.yaml", "path to beaconranger.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the audit/pass index")
		regions    = flag.Bool("regions", false, "force the regionized host (overrides host.regions)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *regions {
		cfg.Host.Regions = true
	}
	_ = os.MkdirAll(*dataDir, 0o755)

	h, err := newHost(cfg, log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("host: %v", err)
	}

	idx, err := openRuntimeIndex(*dataDir, serverID(*addr), *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}

	auditLog := persistlog.NewAuditLogger(*dataDir)
	passLog := persistlog.NewPassLogger(*dataDir)

	a := &app{
		cfgPath: *configPath,
		cfg:     cfg,
		logger:  logger,
		idx:     idx,
	}

	var stream *ws.Server
	tracker := beacons.New(h, cfg.Settings(),
		beacons.WithLogger(log.New(os.Stdout, "[beacons] ", log.LstdFlags|log.Lmicroseconds)),
		beacons.WithAuditLogger(multiAuditLogger{a: auditLog, b: idx}),
		beacons.WithSettingsSaver(a.saveSettings),
		beacons.WithPassObserver(func(p beacons.PassStats) {
			_ = passLog.WritePass(p)
			if idx != nil {
				_ = idx.WritePass(p)
			}
			if stream != nil {
				stream.PublishPass(p)
			}
		}),
	)
	stream = ws.NewServer(tracker, log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lmicroseconds))
	a.tracker = tracker
	a.stream = stream

	ctx, cancel := signalContext()
	defer cancel()

	hostCtx, stopHost := context.WithCancel(context.Background())
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := h.Run(hostCtx); err != nil && err != context.Canceled {
			logger.Printf("host stopped: %v", err)
		}
	}()

	if err := tracker.Start(); err != nil {
		logger.Printf("tracker start: %v", err)
	} else {
		logger.Printf("tracker started mode=%s radius=%d interval=%ds", tracker.Mode(), tracker.Radius(), tracker.Settings().IntervalSeconds)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.buildMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}

	// Release pins while the host is still running, then stop it.
	tracker.Shutdown()
	stopHost()
	h.Stop()
	select {
	case <-hostDone:
	case <-time.After(5 * time.Second):
		logger.Printf("host did not stop in time")
	}
	_ = passLog.Close()
	_ = auditLog.Close()
	if idx != nil {
		_ = idx.Close()
	}
	logger.Printf("stopped")
}

func newHost(cfg config.Config, logger *log.Logger) (simHost, error) {
	if cfg.Host.Regions {
		return host.NewRegionized(cfg.HostConfig(), logger)
	}
	return host.NewServer(cfg.HostConfig(), logger)
}

// app holds what the admin handlers need.
type app struct {
	cfgPath string
	logger  *log.Logger

	tracker *beacons.Tracker
	stream  *ws.Server
	idx     runtimeIndex

	mu  sync.Mutex
	cfg config.Config
}

func (a *app) saveSettings(s beacons.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.ApplySettings(s)
	if strings.TrimSpace(a.cfgPath) == "" {
		return nil
	}
	return config.Save(a.cfgPath, a.cfg)
}

// reload rereads the config file. Host changes need a restart.
func (a *app) reload() (beacons.Settings, error) {
	next, err := config.Load(a.cfgPath)
	if err != nil {
		return beacons.Settings{}, err
	}
	if err := a.tracker.Reload(next.Settings()); err != nil {
		return beacons.Settings{}, err
	}
	a.mu.Lock()
	hostChanged := !sameHost(a.cfg.Host, next.Host)
	keep := a.cfg.Host
	a.cfg = next
	a.cfg.Host = keep
	a.mu.Unlock()
	if hostChanged {
		a.logger.Printf("reload: host section changed; restart to apply")
	}
	return a.tracker.Settings(), nil
}

func sameHost(a, b config.HostConfig) bool {
	if a.TickRateHz != b.TickRateHz || a.Regions != b.Regions || a.RegionShift != b.RegionShift || a.PreciseRange != b.PreciseRange {
		return false
	}
	if len(a.Worlds) != len(b.Worlds) {
		return false
	}
	for i := range a.Worlds {
		if a.Worlds[i].Name != b.Worlds[i].Name || a.Worlds[i].PreloadRadius != b.Worlds[i].PreloadRadius || len(a.Worlds[i].Beacons) != len(b.Worlds[i].Beacons) {
			return false
		}
	}
	return true
}

func serverID(addr string) string {
	name, _ := os.Hostname()
	if name == "" {
		name = "beaconranger"
	}
	if _, port, err := net.SplitHostPort(addr); err == nil && port != "" {
		return name + ":" + port
	}
	return name
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiAuditLogger struct {
	a beacons.AuditLogger
	b beacons.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry beacons.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
