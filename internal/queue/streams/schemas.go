package streams

import "fmt"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

// baseDefinitions covers the events the bridge emits for out-of-process
// hosts: a run announcement, the mirrored telemetry events and the terminal
// summary.
var baseDefinitions = []Definition{
	{
		EventType: "run.started",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session", "objective_id", "query", "mode"],
  "properties": {
    "session": {"type": "string"},
    "objective_id": {"type": "string"},
    "query": {"type": "string"},
    "mode": {"type": "string", "enum": ["fast", "balanced", "deep"]},
    "known_domains": {
      "type": "array",
      "items": {"type": "string"}
    },
    "required_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "started_at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "run.event",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "session", "type", "at"],
  "properties": {
    "id": {"type": "string"},
    "session": {"type": "string"},
    "type": {"type": "string"},
    "at": {"type": "string", "format": "date-time"},
    "message": {"type": "string"},
    "fields": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "run.completed",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session", "reason", "confidence"],
  "properties": {
    "session": {"type": "string"},
    "plan_id": {"type": "string"},
    "objective_id": {"type": "string"},
    "reason": {"type": "string"},
    "detail": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "pages_visited": {"type": "integer", "minimum": 0},
    "claims_found": {"type": "integer", "minimum": 0},
    "verifications": {"type": "integer", "minimum": 0},
    "elapsed_ms": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the baseline event schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
