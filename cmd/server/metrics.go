package main

import (
	"fmt"
	"io"
	"net/http"

	"beaconranger.dev/internal/persistence/indexdb"
)

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	st := a.tracker.Status()
	c := a.tracker.Counters()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP beaconranger_tracked Beacons currently tracked.\n")
	fmt.Fprintf(rw, "# TYPE beaconranger_tracked gauge\n")
	fmt.Fprintf(rw, "beaconranger_tracked{mode=%q} %d\n", st.Mode, st.Tracked)

	fmt.Fprintf(rw, "# HELP beaconranger_radius Configured effect radius in blocks.\n")
	fmt.Fprintf(rw, "# TYPE beaconranger_radius gauge\n")
	fmt.Fprintf(rw, "beaconranger_radius %d\n", st.Radius)

	fmt.Fprintf(rw, "# HELP beaconranger_pinned_chunks Chunks held force-loaded by the tracker.\n")
	fmt.Fprintf(rw, "# TYPE beaconranger_pinned_chunks gauge\n")
	fmt.Fprintf(rw, "beaconranger_pinned_chunks %d\n", st.PinnedChunks)

	fmt.Fprintf(rw, "# HELP beaconranger_events_total Tracker event counters.\n")
	fmt.Fprintf(rw, "# TYPE beaconranger_events_total counter\n")
	fmt.Fprintf(rw, "beaconranger_events_total{event=%q} %d\n", "pass", c.Passes)
	fmt.Fprintf(rw, "beaconranger_events_total{event=%q} %d\n", "updated", c.Updated)
	fmt.Fprintf(rw, "beaconranger_events_total{event=%q} %d\n", "pruned", c.Pruned)
	fmt.Fprintf(rw, "beaconranger_events_total{event=%q} %d\n", "applied", c.Applied)
	fmt.Fprintf(rw, "beaconranger_events_total{event=%q} %d\n", "failed", c.Failed)
	fmt.Fprintf(rw, "beaconranger_events_total{event=%q} %d\n", "inline_fallback", c.Fallbacks)

	if st.LastPass != nil {
		fmt.Fprintf(rw, "# HELP beaconranger_last_pass_ms Duration of the last reconciliation pass in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE beaconranger_last_pass_ms gauge\n")
		fmt.Fprintf(rw, "beaconranger_last_pass_ms %.3f\n", float64(st.LastPass.Duration.Microseconds())/1000)
	}

	if a.stream != nil {
		fmt.Fprintf(rw, "# HELP beaconranger_stream_clients Connected status stream clients.\n")
		fmt.Fprintf(rw, "# TYPE beaconranger_stream_clients gauge\n")
		fmt.Fprintf(rw, "beaconranger_stream_clients %d\n", a.stream.Clients())
	}

	writeIndexMetrics(rw, a.idx)
}

func writeIndexMetrics(w io.Writer, idx runtimeIndex) {
	switch v := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := v.Stats()
		fmt.Fprintf(w, "# HELP beaconranger_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(w, "# TYPE beaconranger_index_queue_depth gauge\n")
		fmt.Fprintf(w, "beaconranger_index_queue_depth{backend=%q} %d\n", "sqlite", s.QueueDepth)
		fmt.Fprintf(w, "# HELP beaconranger_index_dropped_total Records dropped because the index queue was full.\n")
		fmt.Fprintf(w, "# TYPE beaconranger_index_dropped_total counter\n")
		fmt.Fprintf(w, "beaconranger_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "audit", s.DropAuditTotal)
		fmt.Fprintf(w, "beaconranger_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "pass", s.DropPassTotal)
		fmt.Fprintf(w, "# HELP beaconranger_index_written_total Records committed to the index.\n")
		fmt.Fprintf(w, "# TYPE beaconranger_index_written_total counter\n")
		fmt.Fprintf(w, "beaconranger_index_written_total{backend=%q} %d\n", "sqlite", s.WrittenTotal)
		fmt.Fprintf(w, "beaconranger_index_failed_total{backend=%q} %d\n", "sqlite", s.FailedTotal)
	case *indexdb.RemoteIndex:
		s := v.Stats()
		fmt.Fprintf(w, "# HELP beaconranger_index_dropped_total Records dropped because the index queue was full.\n")
		fmt.Fprintf(w, "# TYPE beaconranger_index_dropped_total counter\n")
		fmt.Fprintf(w, "beaconranger_index_dropped_total{backend=%q} %d\n", "remote", s.QueueDroppedTotal)
		fmt.Fprintf(w, "# HELP beaconranger_index_written_total Records committed to the index.\n")
		fmt.Fprintf(w, "# TYPE beaconranger_index_written_total counter\n")
		fmt.Fprintf(w, "beaconranger_index_written_total{backend=%q} %d\n", "remote", s.DeliveredTotal)
		fmt.Fprintf(w, "beaconranger_index_failed_total{backend=%q} %d\n", "remote", s.FlushFailTotal)
	}
}
