package streams

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/scourhq/scour/internal/telemetry"
)

func TestRunEventSchemaAcceptsTelemetryEvents(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	ev := telemetry.Event{
		ID:      "ev-1",
		Session: "sess-1",
		Type:    telemetry.EventPageLoad,
		At:      time.Now().UTC(),
		Message: "loaded https://docs.example.com/pricing",
		Fields:  map[string]string{"domain": "docs.example.com", "status": "200"},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := reg.Validate("run.event", "v1", data); err != nil {
		t.Fatalf("expected telemetry event to validate: %v", err)
	}

	// Missing required fields must be rejected.
	bad, _ := json.Marshal(map[string]interface{}{"session": "sess-1"})
	if err := reg.Validate("run.event", "v1", bad); err == nil {
		t.Fatalf("expected validation error for incomplete event")
	}
}

func TestRunLifecycleSchemasValidate(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	start, err := json.Marshal(StartPayload{
		Session:     "sess-1",
		ObjectiveID: "obj-1",
		Query:       "What does Acme Analytics cost per seat?",
		Mode:        "balanced",
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal start payload: %v", err)
	}
	if err := reg.Validate("run.started", "v1", start); err != nil {
		t.Fatalf("expected run.started payload to validate: %v", err)
	}

	done, err := json.Marshal(RunSummary{
		Session:      "sess-1",
		Reason:       "confidence_reached",
		Confidence:   0.85,
		PagesVisited: 12,
		ElapsedMS:    42000,
	})
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	if err := reg.Validate("run.completed", "v1", done); err != nil {
		t.Fatalf("expected run.completed payload to validate: %v", err)
	}

	badMode, _ := json.Marshal(map[string]interface{}{
		"session": "s", "objective_id": "o", "query": "q", "mode": "warp",
	})
	if err := reg.Validate("run.started", "v1", badMode); err == nil {
		t.Fatalf("expected validation error for unknown mode")
	}
}

func TestEnvelopeRoundTripKeepsSession(t *testing.T) {
	env := Envelope{
		EventID:        "id-1",
		EventType:      "run.event",
		Session:        "sess-9",
		PayloadVersion: "v1",
		Data:           json.RawMessage(`{"id":"ev","session":"sess-9","type":"page_load","at":"2026-01-02T03:04:05Z"}`),
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	back, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if back.Session != "sess-9" || back.EventType != "run.event" {
		t.Fatalf("unexpected envelope after round trip: %+v", back)
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	missing := Envelope{EventType: "run.event", PayloadVersion: "v1", Data: json.RawMessage(`{}`)}
	if err := missing.ValidateBasic(); err == nil {
		t.Fatalf("expected error for missing event id")
	}
	noData := Envelope{EventID: "x", EventType: "run.event", PayloadVersion: "v1"}
	if err := noData.ValidateBasic(); err == nil {
		t.Fatalf("expected error for empty data payload")
	}
}
