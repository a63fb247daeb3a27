package pricing

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestCost(t *testing.T) {
	table := NewTable(map[string]ModelConfig{
		"gpt-4o": {Input: 2.5, Output: 10.0, Cache: 1.25, JSONSchema: true},
	})

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		cached int
		want   float64
	}{
		{"input and output", "gpt-4o", 1000, 1000, 0, 12.5},
		{"cached discount", "gpt-4o", 1000, 0, 400, 0.6*2.5 + 0.4*1.25},
		{"fully cached", "gpt-4o", 1000, 0, 1000, 1.25},
		{"cached exceeds input clamps", "gpt-4o", 100, 0, 500, 0.5 * 1.25},
		{"unknown model", "nope", 1000, 1000, 0, 0},
		{"zero usage", "gpt-4o", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Cost(tt.model, tt.input, tt.output, tt.cached)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cost = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCostScalesLinearly(t *testing.T) {
	table := NewTable(map[string]ModelConfig{
		"m": {Input: 1.0, Output: 2.0},
	})

	one := table.Cost("m", 100, 50, 0)
	ten := table.Cost("m", 1000, 500, 0)
	if math.Abs(ten-10*one) > 1e-9 {
		t.Errorf("10x tokens cost %v, want %v", ten, 10*one)
	}
}

func TestSupportsJSONSchema(t *testing.T) {
	table := NewTable(map[string]ModelConfig{
		"schema-model": {JSONSchema: true},
		"plain-model":  {},
	})

	if !table.SupportsJSONSchema("schema-model") {
		t.Error("schema-model should support JSON schema")
	}
	if table.SupportsJSONSchema("plain-model") {
		t.Error("plain-model should not support JSON schema")
	}
	if table.SupportsJSONSchema("unknown") {
		t.Error("unknown model should not support JSON schema")
	}
}

func TestNewTableCopiesInput(t *testing.T) {
	source := map[string]ModelConfig{"m": {Input: 1.0}}
	table := NewTable(source)

	source["m"] = ModelConfig{Input: 99.0}
	cfg, ok := table.Lookup("m")
	if !ok {
		t.Fatal("model m missing")
	}
	if cfg.Input != 1.0 {
		t.Errorf("Input = %v after source mutation, want 1.0", cfg.Input)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `gpt-4o:
  input: 2.5
  output: 10.0
  cache: 1.25
  json_schema: true
gpt-4o-mini:
  input: 0.15
  output: 0.6
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cfg, ok := table.Lookup("gpt-4o")
	if !ok {
		t.Fatal("gpt-4o missing from loaded table")
	}
	if cfg.Input != 2.5 || cfg.Output != 10.0 || cfg.Cache != 1.25 || !cfg.JSONSchema {
		t.Errorf("gpt-4o config = %+v", cfg)
	}
	if table.SupportsJSONSchema("gpt-4o-mini") {
		t.Error("gpt-4o-mini should not support JSON schema")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile of missing file succeeded, want error")
	}
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile of empty file succeeded, want error")
	}
}
