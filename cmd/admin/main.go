package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"beaconranger.dev/internal/beacons"
	persistlog "beaconranger.dev/internal/persistence/log"
)

const usage = `usage: admin <command> [flags]

commands:
  status                 print tracker status
  radius [n]             show or set the beacon effect radius
  reload                 reload beaconranger.yaml
  reconcile              run a reconciliation pass now
  watch                  stream STATUS/PASS frames
  db [audits|passes|counts]
                         query the sqlite index
  audit                  replay the compressed audit log
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "status", "info":
		statusCmd(args)
	case "radius", "size":
		radiusCmd(args)
	case "reload":
		postCmd("reload", "/admin/v1/reload", args)
	case "reconcile":
		postCmd("reconcile", "/admin/v1/reconcile", args)
	case "watch":
		watchCmd(args)
	case "db":
		dbCmd(args)
	case "audit":
		auditCmd(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// auditFilter selects audit entries for the audit command.
type auditFilter struct {
	Kind  string
	World string
	Since time.Time
}

func (f auditFilter) match(e beacons.AuditEntry) bool {
	if f.Kind != "" && !strings.EqualFold(f.Kind, e.Kind) {
		return false
	}
	if f.World != "" && (e.Location == nil || e.Location.World != f.World) {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "entry kind filter (CREATED, REMOVED, PRUNED, RADIUS, ...)")
	world := fs.String("world", "", "world filter")
	since := fs.Duration("since", 0, "only entries newer than this (e.g. 2h)")
	_ = fs.Parse(args)

	f := auditFilter{Kind: strings.TrimSpace(*kind), World: strings.TrimSpace(*world)}
	if *since > 0 {
		f.Since = time.Now().Add(-*since)
	}
	n := 0
	err := persistlog.ReadAudit(*dataDir, func(e beacons.AuditEntry) error {
		if f.match(e) {
			printJSON(e)
			n++
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no matching audit entries")
	}
}
