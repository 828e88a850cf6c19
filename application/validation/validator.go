// Package validation checks outgoing documents against their JSON Schemas.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/frontrow-dev/bridge/application/schema"
	"github.com/frontrow-dev/bridge/domain/entities"
	"github.com/frontrow-dev/bridge/domain/ports"
)

const descriptionResource = "machine_description.json"

// DescriptionValidator validates machine descriptions against the schema
// generated from wireformat.MachineDescription. The schema is compiled once.
type DescriptionValidator struct {
	schema *jsonschema.Schema
}

var _ ports.DescriptionValidator = (*DescriptionValidator)(nil)

// NewDescriptionValidator compiles the machine description schema.
func NewDescriptionValidator() (*DescriptionValidator, error) {
	raw, err := schema.MachineDescriptionSchema()
	if err != nil {
		return nil, err
	}
	return compile(raw)
}

func compile(raw []byte) (*DescriptionValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(descriptionResource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(descriptionResource)
	if err != nil {
		return nil, fmt.Errorf("invalid machine description schema: %w", err)
	}
	return &DescriptionValidator{schema: sch}, nil
}

// Validate checks body. A body that is not JSON is an error; schema
// violations are reported in the result.
func (v *DescriptionValidator) Validate(body []byte) (*entities.ValidationResult, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to prepare validation object: %w", err)
	}

	result := &entities.ValidationResult{Valid: true}
	err := v.schema.Validate(doc)
	if err == nil {
		return result, nil
	}

	result.Valid = false
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		result.Errors = append(result.Errors, entities.ValidationError{Message: err.Error()})
		return result, nil
	}
	for _, e := range leaves(ve) {
		result.Errors = append(result.Errors, entities.ValidationError{
			Field:   e.InstanceLocation,
			Message: e.Message,
		})
	}
	return result, nil
}

// leaves returns the innermost causes of ve, which name the failing keyword.
func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
