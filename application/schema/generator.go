// Package schema generates JSON Schemas for the documents the bridge sends.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/frontrow-dev/bridge/wireformat"
)

// Option adjusts a generated schema.
type Option func(*jsonschema.Schema)

// WithTitle sets the schema title.
func WithTitle(title string) Option {
	return func(s *jsonschema.Schema) {
		s.Title = title
	}
}

// WithDescription sets the schema description.
func WithDescription(desc string) Option {
	return func(s *jsonschema.Schema) {
		s.Description = desc
	}
}

// GenerateSchema reflects v into a JSON Schema (Draft 2020-12) with the top
// level struct expanded inline. Unknown properties are not allowed.
func GenerateSchema(v any, opts ...Option) ([]byte, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	s := reflector.Reflect(v)
	for _, opt := range opts {
		opt(s)
	}

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}

// MachineDescriptionSchema returns the schema of the machine_description
// body, without the message_id and message_type envelope fields.
func MachineDescriptionSchema() ([]byte, error) {
	return GenerateSchema(&wireformat.MachineDescription{},
		WithTitle(string(wireformat.TypeMachineDescription)),
		WithDescription("Features a client offers to the server"),
	)
}
