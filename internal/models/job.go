package models

import "time"

// Job describes one document generation request loaded from YAML.
type Job struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	Script        string        `yaml:"script"`
	DocumentName  string        `yaml:"document_name"`
	MaxErrorLoops *int          `yaml:"max_error_loops,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	Isolation     string        `yaml:"isolation,omitempty"`
	Instructions  string        `yaml:"instructions,omitempty"`

	// Path is the file the job was loaded from.
	Path string `yaml:"-"`
}
