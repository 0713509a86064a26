package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error

	compiledOnce   sync.Once
	compiledSchema *jsonschemavalidate.Schema
	compiledErr    error
)

const schemaResourceName = "continuum-config.json"

// JSONSchema returns the JSON Schema for the Config struct, reflected from
// its Go field tags by invopop/jsonschema.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag: "yaml",
		}
		schema := r.Reflect(&Config{})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// compiledConfigSchema compiles the reflected JSON Schema once, using
// santhosh-tekuri/jsonschema as the validating engine for ValidateRaw.
func compiledConfigSchema() (*jsonschemavalidate.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := JSONSchema()
		if err != nil {
			compiledErr = err
			return
		}
		compiler := jsonschemavalidate.NewCompiler()
		if err := compiler.AddResource(schemaResourceName, bytes.NewReader(raw)); err != nil {
			compiledErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compiledErr = compiler.Compile(schemaResourceName)
	})
	return compiledSchema, compiledErr
}

// ValidateRaw structurally validates a decoded (YAML or JSON5) config
// document against the Config struct's reflected JSON Schema, catching
// type mismatches and unknown-shape errors that validateConfig's
// hand-written field checks don't cover. It is intentionally separate from
// Load/validateConfig: the reflected schema is necessarily looser than the
// hand-written semantic checks (it can't express "APIKey required only
// when this provider is selected"), so schema violations are reported as
// ConfigValidationError for the doctor command rather than blocking serve.
func ValidateRaw(raw map[string]any) error {
	schema, err := compiledConfigSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	doc, err := jsonRoundtrip(raw)
	if err != nil {
		return fmt.Errorf("normalize config document: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return &ConfigValidationError{Issues: []string{err.Error()}}
	}
	return nil
}

// jsonRoundtrip normalizes a map[string]any (as decoded by yaml.v3 or
// json5) into the map[string]interface{}/[]interface{}/float64 shape
// jsonschema.Validate expects, the same way a plain encoding/json.Unmarshal
// would produce it.
func jsonRoundtrip(raw map[string]any) (any, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
