package telemetry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// payloadSchemas carries one JSON Schema per payload_type, per DESIGN NOTES
// "tagged variants at the envelope boundary drive which schema is applied,
// strict validation for each variant."
var payloadSchemas = map[PayloadType]string{
	PayloadTrace: `{
		"type": "object",
		"required": ["trace_id", "started_at", "model", "provider"],
		"properties": {
			"trace_id": {"type": "string", "minLength": 1},
			"started_at": {"type": "string", "minLength": 1},
			"model": {"type": "string", "minLength": 1},
			"provider": {"type": "string", "minLength": 1},
			"steps": {"type": "array"}
		}
	}`,
	PayloadAudit: `{
		"type": "object",
		"required": ["event_type", "actor"],
		"properties": {
			"event_type": {"type": "string", "minLength": 1},
			"actor": {"type": "string", "minLength": 1},
			"target_id": {"type": "string"},
			"event_data": {"type": "object"}
		}
	}`,
	PayloadCost: `{
		"type": "object",
		"required": ["amount_usd"],
		"properties": {
			"amount_usd": {"type": "number"},
			"unit": {"type": "string"}
		}
	}`,
	PayloadMetrics: `{
		"type": "object",
		"required": ["name", "value"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"value": {"type": "number"}
		}
	}`,
	PayloadViolations: `{
		"type": "object",
		"required": ["violation_type", "detail"],
		"properties": {
			"violation_type": {"type": "string", "minLength": 1},
			"detail": {"type": "string"}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[PayloadType]*jsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[PayloadType]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[PayloadType]*jsonschema.Schema, len(payloadSchemas))
		compiler := jsonschema.NewCompiler()
		for pt, schemaJSON := range payloadSchemas {
			url := "mem://" + string(pt) + ".json"
			if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
				compileErr = fmt.Errorf("telemetry: failed to add schema resource for %s: %w", pt, err)
				return
			}
			s, err := compiler.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("telemetry: failed to compile schema for %s: %w", pt, err)
				return
			}
			compiled[pt] = s
		}
	})
	return compiled, compileErr
}

// validatePayload schema-validates payload against the schema registered
// for payloadType, per spec §4.10 step 1.
func validatePayload(payloadType PayloadType, payload interface{}) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "telemetry schema compilation failed", err)
	}
	s, ok := schemas[payloadType]
	if !ok {
		return clasperrors.New(clasperrors.KindSchemaInvalid, "unknown payload_type: "+string(payloadType))
	}
	if err := s.Validate(payload); err != nil {
		return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "payload failed schema validation", err)
	}
	return nil
}
