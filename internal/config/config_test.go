package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DOCFORGE_CONFIG", filepath.Join(home, "missing.yaml"))
	for _, k := range []string{"DOCFORGE_DATA_DIR", "DOCFORGE_LLM_ENDPOINT", "DOCFORGE_LLM_MODEL",
		"DOCFORGE_LLM_API_KEY", "DOCFORGE_LOG_LEVEL", "DOCFORGE_MAX_ERROR_LOOPS", "DOCFORGE_ISOLATION"} {
		os.Unsetenv(k)
	}
	return home
}

func TestNewDefaults(t *testing.T) {
	home := isolate(t)

	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.DataDir != filepath.Join(home, ".docforge") {
		t.Errorf("DataDir = %q", c.DataDir)
	}
	if c.DBPath != filepath.Join(c.DataDir, "docforge.db") {
		t.Errorf("DBPath = %q", c.DBPath)
	}
	if c.Workflow.MaxErrorLoops != 2 {
		t.Errorf("MaxErrorLoops = %d, want 2", c.Workflow.MaxErrorLoops)
	}
	if c.Execution.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", c.Execution.Timeout)
	}
	if c.Execution.MaxScriptBytes != 50*1024 {
		t.Errorf("MaxScriptBytes = %d", c.Execution.MaxScriptBytes)
	}
}

func TestNewYAMLThenEnv(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.yaml")
	yml := `
data_dir: /tmp/df-yaml
execution:
  timeout: 5s
workflow:
  max_error_loops: 4
diagrams:
  renderer: none
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCFORGE_MAX_ERROR_LOOPS", "1")
	t.Setenv("DOCFORGE_LLM_MODEL", "local-model")

	c, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.DataDir != "/tmp/df-yaml" {
		t.Errorf("DataDir = %q", c.DataDir)
	}
	if c.Execution.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.Execution.Timeout)
	}
	if c.Workflow.MaxErrorLoops != 1 {
		t.Errorf("env should win over yaml, got %d", c.Workflow.MaxErrorLoops)
	}
	if c.LLM.Model != "local-model" {
		t.Errorf("Model = %q", c.LLM.Model)
	}
	if c.Diagrams.Renderer != "none" {
		t.Errorf("Renderer = %q", c.Diagrams.Renderer)
	}
	// Untouched sections keep their defaults.
	if c.Analyzer.ChartLookback != 3 || c.Analyzer.ChartLookahead != 4 {
		t.Errorf("analyzer defaults lost: %+v", c.Analyzer)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative loops", func(c *Config) { c.Workflow.MaxErrorLoops = -1 }},
		{"zero timeout", func(c *Config) { c.Execution.Timeout = 0 }},
		{"bad isolation", func(c *Config) { c.Execution.Isolation = "vm" }},
		{"bad renderer", func(c *Config) { c.Diagrams.Renderer = "graphviz" }},
		{"negative lookback", func(c *Config) { c.Analyzer.ChartLookback = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults(t.TempDir())
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := defaults(t.TempDir()).Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestInvalidEnvLoops(t *testing.T) {
	isolate(t)
	t.Setenv("DOCFORGE_MAX_ERROR_LOOPS", "many")
	if _, err := New(""); err == nil {
		t.Error("expected error for non-numeric DOCFORGE_MAX_ERROR_LOOPS")
	}
}
