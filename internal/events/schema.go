package events

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/events.v1.json
var schemaFS embed.FS

// ErrInvalidEvent can be used with errors.Is to detect schema violations.
var ErrInvalidEvent = errors.New("invalid event")

// SchemaValidator checks event data against the published contract before it
// leaves the process.
type SchemaValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidator compiles the embedded schema of every event type.
func NewSchemaValidator() (*SchemaValidator, error) {
	data, err := schemaFS.ReadFile("schemas/events.v1.json")
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse event schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(raw))
	for eventType, body := range raw {
		id := "https://mmomarket.dev/schemas/events/" + eventType
		schemas[eventType], err = jsonschema.CompileString(id, string(body))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", eventType, err)
		}
	}
	return &SchemaValidator{schemas: schemas}, nil
}

// Validate returns an ErrInvalidEvent error if the event type is unknown or
// its data does not match the schema.
func (v *SchemaValidator) Validate(evt Event) error {
	schema, ok := v.schemas[evt.Type]
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, evt.Type)
	}
	body, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, evt.Type, err)
	}
	return nil
}

// Types lists the event types with a schema.
func (v *SchemaValidator) Types() []string {
	out := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		out = append(out, t)
	}
	return out
}
