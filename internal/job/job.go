package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/docforge/internal/models"
	"gopkg.in/yaml.v3"
)

func Parse(path string) (*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var job models.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job YAML: %w", err)
	}
	job.Path = path

	if job.Name == "" {
		job.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	}
	return &job, nil
}

// LoadAll reads every job file in dirs. A job in a later directory replaces
// one of the same name from an earlier directory.
func LoadAll(dirs []string) (map[string]*models.Job, error) {
	jobs := make(map[string]*models.Job)

	for _, dir := range dirs {
		if err := loadFromDir(dir, jobs); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return jobs, nil
}

func loadFromDir(dir string, jobs map[string]*models.Job) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		job, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		jobs[job.Name] = job
	}

	return nil
}

func Validate(job *models.Job) error {
	if job.Name == "" {
		return fmt.Errorf("job must have a name")
	}

	if job.Script == "" && job.Instructions == "" {
		return fmt.Errorf("job %q needs a script or instructions", job.Name)
	}

	if job.MaxErrorLoops != nil && *job.MaxErrorLoops < 0 {
		return fmt.Errorf("max_error_loops must be >= 0, got %d", *job.MaxErrorLoops)
	}

	if job.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	switch job.Isolation {
	case "", "inprocess", "subprocess":
	default:
		return fmt.Errorf("unknown isolation mode %q", job.Isolation)
	}

	if job.DocumentName != "" && !strings.HasSuffix(job.DocumentName, ".docx") {
		return fmt.Errorf("document_name %q must end in .docx", job.DocumentName)
	}

	return nil
}
