package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/module-definition-v1.json
var moduleDefinitionSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("module-definition-v1.json",
		strings.NewReader(moduleDefinitionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("module-definition-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON checks raw definition JSON against the schema.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateDefinition runs the schema and the semantic checks of the
// definition itself (index keys, lengths against formats).
func (v *Validator) ValidateDefinition(def *types.ModuleDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	if err := v.ValidateJSON(data); err != nil {
		return err
	}
	return def.Validate()
}
