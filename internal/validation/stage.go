package validation

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/pkg/apperr"
)

const msgInvalidJSON = "Invalid JSON payload"

// Validator builds validation stages from a schema registry.
type Validator struct {
	registry *Registry
}

// New returns a Validator over registry.
func New(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks payload against the named schema.
func (v *Validator) Validate(payload map[string]any, schemaName string) (map[string]any, error) {
	schema, err := v.registry.Schema(schemaName)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return Validate(payload, schema)
}

// Body validates the JSON request body and stores the result in State.Payload.
// The schema is resolved immediately; an unknown name panics at route setup.
func (v *Validator) Body(schemaName string) pipeline.Stage {
	schema := v.registry.MustSchema(schemaName)
	return pipeline.StageFunc("validate-body-"+schemaName, func(_ context.Context, req *pipeline.Request, st *pipeline.State) pipeline.Outcome {
		payload, err := decodeBody(req.Body)
		if err != nil {
			return pipeline.Reject(err)
		}
		clean, err := Validate(payload, schema)
		if err != nil {
			return pipeline.Reject(err)
		}
		st.Payload = clean
		return pipeline.Allow()
	})
}

// Query validates query parameters and stores the result in State.Query.
func (v *Validator) Query(schemaName string) pipeline.Stage {
	schema := v.registry.MustSchema(schemaName)
	return pipeline.StageFunc("validate-query-"+schemaName, func(_ context.Context, req *pipeline.Request, st *pipeline.State) pipeline.Outcome {
		payload := make(map[string]any, len(req.Query))
		for k, val := range req.Query {
			payload[k] = val
		}
		clean, err := Validate(payload, schema)
		if err != nil {
			return pipeline.Reject(err)
		}
		st.Query = clean
		return pipeline.Allow()
	})
}

func decodeBody(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Validation(msgInvalidJSON, nil)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}
