// Package pricing provides the models configuration table: per-1k-token
// unit prices and feature flags for each supported model.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelConfig holds the unit prices and capabilities of one model.
// Prices are per 1,000 tokens.
type ModelConfig struct {
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	Cache      float64 `yaml:"cache"`
	JSONSchema bool    `yaml:"json_schema"`
}

// Table is an immutable mapping from model name to its configuration.
type Table struct {
	models map[string]ModelConfig
}

// NewTable creates a table from an in-memory mapping. The mapping is
// copied; later mutation of the argument does not affect the table.
func NewTable(models map[string]ModelConfig) *Table {
	copied := make(map[string]ModelConfig, len(models))
	for name, cfg := range models {
		copied[name] = cfg
	}
	return &Table{models: copied}
}

// LoadFile reads a models configuration file (YAML mapping model name to
// ModelConfig). The file is required: a missing, unreadable, or empty file
// is a fatal configuration error.
//
// Example file:
//
//	gpt-4o:
//	  input: 2.5
//	  output: 10.0
//	  cache: 1.25
//	  json_schema: true
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("models config: %w", err)
	}

	var models map[string]ModelConfig
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("models config %s: %w", path, err)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("models config %s: no models defined", path)
	}

	return &Table{models: models}, nil
}

// Lookup returns the configuration for a model.
func (t *Table) Lookup(model string) (ModelConfig, bool) {
	cfg, ok := t.models[model]
	return cfg, ok
}

// SupportsJSONSchema reports whether the model accepts JSON-schema
// structured output. Unknown models do not.
func (t *Table) SupportsJSONSchema(model string) bool {
	return t.models[model].JSONSchema
}

// Cost computes the dollar cost of one request. Cached prompt tokens are
// billed at the cache rate instead of the input rate. Unknown models cost
// zero.
func (t *Table) Cost(model string, inputTokens, outputTokens, cachedTokens int) float64 {
	cfg, ok := t.models[model]
	if !ok {
		return 0
	}

	uncached := inputTokens - cachedTokens
	if uncached < 0 {
		uncached = 0
	}

	return float64(uncached)/1000*cfg.Input +
		float64(cachedTokens)/1000*cfg.Cache +
		float64(outputTokens)/1000*cfg.Output
}
