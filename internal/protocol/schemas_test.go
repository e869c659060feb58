package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through JSON so the validator sees plain maps.
	asAny := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(asAny(v)); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	statusSchema := compile("status.schema.json")
	passSchema := compile("pass.schema.json")
	errorSchema := compile("error.schema.json")

	validate(helloSchema, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, IntervalMS: 1000})

	last := beacons.PassStats{Seq: 4, Mode: "unpartitioned", Started: time.Unix(1700000000, 0).UTC(), Duration: 3 * time.Millisecond, Checked: 3, Updated: 3}
	st := beacons.Status{
		Mode:            "unpartitioned",
		Radius:          250,
		Tracked:         3,
		CapabilityMode:  "direct",
		IntervalSeconds: 300,
		RetainChunks:    true,
		PinnedChunks:    2,
		Passes:          4,
		LastPass:        &last,
	}
	validate(statusSchema, protocol.NewStatus(st, time.Now()))
	validate(statusSchema, protocol.NewStatus(beacons.Status{Mode: "partitioned", Radius: 100, CapabilityMode: "fallback", IntervalSeconds: 60}, time.Now()))
	validate(passSchema, protocol.NewPass(last))
	validate(errorSchema, protocol.NewError(protocol.ErrBadRadius, "radius must be an integer"))

	// Negative radius is never reported.
	bad := asAny(protocol.NewStatus(st, time.Now()))
	bad.(map[string]any)["status"].(map[string]any)["radius"] = -1
	if err := statusSchema.Validate(bad); err == nil {
		t.Fatalf("expected negative radius to fail validation")
	}
	var wrongType any
	_ = json.Unmarshal([]byte(`{"type":"STATUS","protocol_version":1,"interval_ms":5}`), &wrongType)
	if err := helloSchema.Validate(wrongType); err == nil {
		t.Fatalf("expected STATUS to fail hello schema")
	}
}
