package questions

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// batchSchema is the shape the prompt instructs the model to return and the
// shape the strict parser stage validates against. Looser variants (keyed
// options, isCorrect flags) are recovered by the later stages instead.
var batchSchema = map[string]any{
	"type":     "object",
	"required": []any{"questions"},
	"properties": map[string]any{
		"questions": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"question", "options", "correct_option"},
				"properties": map[string]any{
					"id":       map[string]any{"type": "integer"},
					"question": map[string]any{"type": "string", "minLength": 1},
					"options": map[string]any{
						"type":     "array",
						"minItems": 4,
						"maxItems": 4,
						"items":    map[string]any{"type": "string", "minLength": 1},
					},
					"correct_option": map[string]any{
						"type": "string",
						"enum": []any{"A", "B", "C", "D"},
					},
					"explanation": map[string]any{"type": "string"},
				},
			},
		},
	},
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// compileBatchSchema compiles batchSchema once and caches the result.
func compileBatchSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		// The compiler wants a parsed JSON value, so round-trip the map.
		raw, err := json.Marshal(batchSchema)
		if err != nil {
			schemaErr = fmt.Errorf("marshal batch schema: %w", err)
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			schemaErr = fmt.Errorf("parse batch schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema://question-batch.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("schema://question-batch.json")
	})
	return compiledSchema, schemaErr
}
