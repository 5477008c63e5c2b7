package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mpataki/docforge/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "proposal.yaml", `
description: Quarterly proposal
script: proposal.lua
document_name: q3.docx
max_error_loops: 0
timeout: 45s
isolation: subprocess
`)

	job, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if job.Name != "proposal" {
		t.Errorf("Name = %q, want name from filename", job.Name)
	}
	if job.MaxErrorLoops == nil || *job.MaxErrorLoops != 0 {
		t.Errorf("MaxErrorLoops = %v", job.MaxErrorLoops)
	}
	if job.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v", job.Timeout)
	}
	if job.Path != path || job.DocumentName != "q3.docx" || job.Isolation != "subprocess" {
		t.Errorf("job = %+v", job)
	}
}

func TestParseInvalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "name: [unclosed")
	if _, err := Parse(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadAllLaterDirWins(t *testing.T) {
	user := t.TempDir()
	project := t.TempDir()
	writeFile(t, user, "a.yaml", "name: report\nscript: user.lua\n")
	writeFile(t, user, "b.yml", "script: b.lua\n")
	writeFile(t, user, "notes.txt", "ignored")
	writeFile(t, project, "report.yaml", "name: report\nscript: project.lua\n")

	jobs, err := LoadAll([]string{user, filepath.Join(user, "missing"), project})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs", len(jobs))
	}
	if jobs["report"].Script != "project.lua" {
		t.Errorf("report script = %q", jobs["report"].Script)
	}
	if jobs["b"] == nil {
		t.Error("job b not loaded by filename")
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		job     models.Job
		wantErr bool
	}{
		{"script", models.Job{Name: "a", Script: "a.lua"}, false},
		{"instructions", models.Job{Name: "a", Instructions: "write"}, false},
		{"no name", models.Job{Script: "a.lua"}, true},
		{"nothing to run", models.Job{Name: "a"}, true},
		{"negative loops", models.Job{Name: "a", Script: "a.lua", MaxErrorLoops: &neg}, true},
		{"bad isolation", models.Job{Name: "a", Script: "a.lua", Isolation: "docker"}, true},
		{"bad document", models.Job{Name: "a", Script: "a.lua", DocumentName: "a.pdf"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.job)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
