package main

import (
	"testing"
	"time"

	"beaconranger.dev/internal/beacons"
)

func TestStreamURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":   "ws://127.0.0.1:8080/admin/v1/stream",
		"http://127.0.0.1:8080/ ": "ws://127.0.0.1:8080/admin/v1/stream",
		"https://ranger.local":    "wss://ranger.local/admin/v1/stream",
	}
	for in, want := range cases {
		if got := streamURL(in); got != want {
			t.Fatalf("streamURL(%q) = %q, want %q", in, got, want)
		}
	}
	if got := adminURL("http://x/", "/admin/v1/status"); got != "http://x/admin/v1/status" {
		t.Fatalf("adminURL: %q", got)
	}
}

func TestAuditFilter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	loc := beacons.Location{World: "world_nether", X: 1, Y: 2, Z: 3}
	created := beacons.AuditEntry{Time: now, Kind: beacons.AuditCreated, Location: &loc}
	radius := beacons.AuditEntry{Time: now.Add(-time.Hour), Kind: beacons.AuditRadius, Radius: 300}

	if !(auditFilter{}).match(created) || !(auditFilter{}).match(radius) {
		t.Fatalf("empty filter must match everything")
	}
	if !(auditFilter{Kind: "created"}).match(created) {
		t.Fatalf("kind filter is case-insensitive")
	}
	if (auditFilter{Kind: "CREATED"}).match(radius) {
		t.Fatalf("kind filter matched wrong kind")
	}
	if (auditFilter{World: "world_nether"}).match(radius) {
		t.Fatalf("entries without a location never match a world filter")
	}
	if !(auditFilter{World: "world_nether"}).match(created) {
		t.Fatalf("world filter")
	}
	if (auditFilter{Since: now.Add(-time.Minute)}).match(radius) {
		t.Fatalf("since filter")
	}
}
