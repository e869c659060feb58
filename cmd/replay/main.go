// Command replay folds the compressed audit log into a summary: event counts,
// radius history, pass totals and the beacons known to be tracked.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"beaconranger.dev/internal/beacons"
	persistlog "beaconranger.dev/internal/persistence/log"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		world   = flag.String("world", "", "only list beacons in this world (optional)")
		list    = flag.Bool("list", false, "print every known beacon location")
	)
	flag.Parse()

	r := newReplay()
	if err := persistlog.ReadAudit(*dataDir, r.apply); err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	if r.entries == 0 {
		fmt.Println("audit log is empty")
		return
	}

	fmt.Printf("entries=%d first=%s last=%s\n", r.entries, r.first.Format(time.RFC3339), r.last.Format(time.RFC3339))
	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-8s %d\n", k, r.kinds[k])
	}
	fmt.Printf("passes=%d updated=%d failed=%d pruned=%d routed=%d\n", r.passes, r.updated, r.failed, r.pruned, r.routed)
	for _, c := range r.radius {
		fmt.Printf("radius %s -> %d\n", c.at.Format(time.RFC3339), c.value)
	}
	fmt.Printf("last reported tracked=%d known=%d unresolved=%d\n", r.lastTracked, len(r.known), r.unresolved())

	if *list {
		for _, loc := range r.locations(strings.TrimSpace(*world)) {
			fmt.Println(loc)
		}
	}
}

type radiusChange struct {
	at    time.Time
	value int
}

// replay tracks membership from CREATED/REMOVED/PRUNED entries. A SCAN
// replaces the registry wholesale without listing it, so only the reported
// count survives a scan and membership restarts from the entries after it.
type replay struct {
	entries     int
	first, last time.Time
	kinds       map[string]int

	passes, updated, failed, pruned, routed int

	radius []radiusChange

	known        map[beacons.Location]struct{}
	scanBaseline int
	lastTracked  int
}

func newReplay() *replay {
	return &replay{
		kinds: map[string]int{},
		known: map[beacons.Location]struct{}{},
	}
}

func (r *replay) apply(e beacons.AuditEntry) error {
	r.entries++
	if r.first.IsZero() || e.Time.Before(r.first) {
		r.first = e.Time
	}
	if e.Time.After(r.last) {
		r.last = e.Time
	}
	r.kinds[e.Kind]++
	r.lastTracked = e.Tracked

	switch e.Kind {
	case beacons.AuditCreated:
		if e.Location != nil {
			r.known[*e.Location] = struct{}{}
		}
	case beacons.AuditRemoved, beacons.AuditPruned:
		if e.Location != nil {
			if _, ok := r.known[*e.Location]; ok {
				delete(r.known, *e.Location)
			} else if r.scanBaseline > 0 {
				r.scanBaseline--
			}
		}
	case beacons.AuditScan:
		r.known = map[beacons.Location]struct{}{}
		r.scanBaseline = e.Tracked
	case beacons.AuditPass:
		if p := e.Pass; p != nil {
			r.passes++
			r.updated += p.Updated
			r.failed += p.Failed
			r.pruned += p.Pruned
			r.routed += p.Routed
		}
	case beacons.AuditRadius:
		r.radius = append(r.radius, radiusChange{at: e.Time, value: e.Radius})
	}
	return nil
}

// unresolved counts beacons that came from a scan and were never named since.
func (r *replay) unresolved() int {
	return r.scanBaseline
}

func (r *replay) locations(world string) []beacons.Location {
	out := make([]beacons.Location, 0, len(r.known))
	for loc := range r.known {
		if world != "" && loc.World != world {
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.World != b.World {
			return a.World < b.World
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
	return out
}
