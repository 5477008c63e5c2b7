package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir    string `yaml:"data_dir"`
	DBPath     string `yaml:"db_path"`
	UserJobDir string `yaml:"job_dir"`

	// ProjectJobDir is looked up relative to the working directory.
	ProjectJobDir string `yaml:"-"`

	Execution ExecutionConfig `yaml:"execution"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	LLM       LLMConfig       `yaml:"llm"`
	Diagrams  DiagramConfig   `yaml:"diagrams"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ExecutionConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Grace            time.Duration `yaml:"grace"`
	MaxScriptBytes   int           `yaml:"max_script_bytes"`
	MaxOutputBytes   int           `yaml:"max_output_bytes"`
	MaxArtifactBytes int64         `yaml:"max_artifact_bytes"`

	// Isolation is "inprocess" or "subprocess".
	Isolation string `yaml:"isolation"`
}

type WorkflowConfig struct {
	MaxErrorLoops int    `yaml:"max_error_loops"`
	DocumentName  string `yaml:"document_name"`
}

type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type DiagramConfig struct {
	// Renderer is "mmdc", "chrome" or "none".
	Renderer   string        `yaml:"renderer"`
	MmdcPath   string        `yaml:"mmdc_path"`
	Theme      string        `yaml:"theme"`
	Width      int           `yaml:"width"`
	Height     int           `yaml:"height"`
	Background string        `yaml:"background"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AnalyzerConfig struct {
	ChartLookback  int `yaml:"chart_lookback"`
	ChartLookahead int `yaml:"chart_lookahead"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// New returns the configuration with defaults, the optional YAML file at
// path (or DefaultPath when empty) and environment overrides applied in that order.
func New(path string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	c := defaults(filepath.Join(homeDir, ".docforge"))

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "docforge.db")
	}
	if c.UserJobDir == "" {
		c.UserJobDir = filepath.Join(c.DataDir, "jobs")
	}

	return c, c.Validate()
}

func defaults(dataDir string) *Config {
	return &Config{
		DataDir:       dataDir,
		ProjectJobDir: ".docforge/jobs",
		Execution: ExecutionConfig{
			Timeout:          30 * time.Second,
			Grace:            2 * time.Second,
			MaxScriptBytes:   50 * 1024,
			MaxOutputBytes:   100 * 1024,
			MaxArtifactBytes: 10 * 1024 * 1024,
			Isolation:        "inprocess",
		},
		Workflow: WorkflowConfig{
			MaxErrorLoops: 2,
			DocumentName:  "proposal.docx",
		},
		LLM: LLMConfig{
			Endpoint: "http://localhost:11434/v1",
			Model:    "gpt-4o-mini",
			Timeout:  120 * time.Second,
		},
		Diagrams: DiagramConfig{
			Renderer:   "mmdc",
			MmdcPath:   "mmdc",
			Theme:      "default",
			Width:      1200,
			Height:     800,
			Background: "white",
			Timeout:    60 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			ChartLookback:  3,
			ChartLookahead: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("DOCFORGE_DATA_DIR"); ok {
		c.DataDir = v
		c.DBPath = ""
		c.UserJobDir = ""
	}
	c.LLM.Endpoint = getEnv("DOCFORGE_LLM_ENDPOINT", c.LLM.Endpoint)
	c.LLM.Model = getEnv("DOCFORGE_LLM_MODEL", c.LLM.Model)
	c.LLM.APIKey = getEnv("DOCFORGE_LLM_API_KEY", c.LLM.APIKey)
	c.Logging.Level = getEnv("DOCFORGE_LOG_LEVEL", c.Logging.Level)
	c.Execution.Isolation = getEnv("DOCFORGE_ISOLATION", c.Execution.Isolation)

	if v, ok := os.LookupEnv("DOCFORGE_MAX_ERROR_LOOPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DOCFORGE_MAX_ERROR_LOOPS %q: %w", v, err)
		}
		c.Workflow.MaxErrorLoops = n
	}
	return nil
}

// Validate rejects settings the executor and loop cannot honour.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("data_dir must not be empty")
	case c.Workflow.MaxErrorLoops < 0:
		return fmt.Errorf("max_error_loops must be >= 0, got %d", c.Workflow.MaxErrorLoops)
	case c.Execution.Timeout <= 0:
		return errors.New("execution.timeout must be positive")
	case c.Execution.MaxScriptBytes <= 0:
		return errors.New("execution.max_script_bytes must be positive")
	case c.Execution.MaxArtifactBytes <= 0:
		return errors.New("execution.max_artifact_bytes must be positive")
	case c.Analyzer.ChartLookback < 0 || c.Analyzer.ChartLookahead < 0:
		return errors.New("analyzer lookback and lookahead must be >= 0")
	}
	switch c.Execution.Isolation {
	case "inprocess", "subprocess":
	default:
		return fmt.Errorf("unknown isolation mode %q", c.Execution.Isolation)
	}
	switch c.Diagrams.Renderer {
	case "mmdc", "chrome", "none":
	default:
		return fmt.Errorf("unknown diagram renderer %q", c.Diagrams.Renderer)
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.UserJobDir, c.RunsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) RunsDir() string {
	return filepath.Join(c.DataDir, "runs")
}

// DefaultPath returns the config file location, honouring DOCFORGE_CONFIG.
func DefaultPath() string {
	if path := os.Getenv("DOCFORGE_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".docforge", "config.yaml")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
