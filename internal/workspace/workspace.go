package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mpataki/docforge/internal/models"
)

// Run directory layout.
const (
	DocumentDir  = "word_document"
	ImagesDir    = "image_assets"
	DiagramsDir  = "diagrams"
	LogsDir      = "execution_logs"
	MetadataDir  = "metadata"
	SnapshotsDir = "code_snapshots"
	RevisionsDir = "revisions"

	snapshotSuffix = "_document_code.lua"
)

var subdirs = []string{DocumentDir, ImagesDir, DiagramsDir, LogsDir, MetadataDir, SnapshotsDir, RevisionsDir}

// ErrSnapshotExists is returned when a stage was already snapshotted.
var ErrSnapshotExists = errors.New("snapshot already exists for stage")

var runName = regexp.MustCompile(`^run_\d{8}_\d{6}(_\d{2,})?$`)

type Workspace struct {
	Path string
	Name string
}

type RunMetadata struct {
	RunID        int64     `json:"run_id"`
	Key          string    `json:"key"`
	JobName      string    `json:"job_name"`
	DocumentName string    `json:"document_name"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
}

// Create makes a new run directory named after now, adding a numeric
// suffix when a run started in the same second.
func Create(baseDir string, now time.Time) (*Workspace, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	base := "run_" + now.Format("20060102_150405")
	name := base
	for n := 1; ; n++ {
		err := os.Mkdir(filepath.Join(baseDir, name), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
		if n > 99 {
			return nil, fmt.Errorf("too many runs started at %s", base)
		}
		name = fmt.Sprintf("%s_%02d", base, n)
	}

	w := &Workspace{Path: filepath.Join(baseDir, name), Name: name}
	for _, dir := range subdirs {
		if err := os.MkdirAll(filepath.Join(w.Path, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return w, nil
}

// Open returns an existing run directory. name must be a run directory
// name, never a path.
func Open(baseDir, name string) (*Workspace, error) {
	if !runName.MatchString(name) {
		return nil, fmt.Errorf("invalid run name %q", name)
	}
	path := filepath.Join(baseDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("run %s does not exist", name)
	}
	return &Workspace{Path: path, Name: name}, nil
}

func (w *Workspace) Dir(sub string) string {
	return filepath.Join(w.Path, sub)
}

// SnapshotPath is where the script for stage is kept.
func (w *Workspace) SnapshotPath(stage models.Stage) string {
	return filepath.Join(w.Path, SnapshotsDir, stage.SnapshotPrefix()+snapshotSuffix)
}

// WriteSnapshot stores the script for its stage. A stage is written once;
// a second write fails with ErrSnapshotExists and leaves the first intact.
func (w *Workspace) WriteSnapshot(script models.Script) (string, error) {
	if !script.Stage.Valid() {
		return "", fmt.Errorf("invalid stage %q", script.Stage)
	}
	path := w.SnapshotPath(script.Stage)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrSnapshotExists, script.Stage)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}
	if _, err := f.WriteString(script.Source); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

func (w *Workspace) ReadSnapshot(stage models.Stage) (models.Script, error) {
	data, err := os.ReadFile(w.SnapshotPath(stage))
	if err != nil {
		return models.Script{}, fmt.Errorf("failed to read snapshot %s: %w", stage, err)
	}
	return models.Script{Source: string(data), Stage: stage}, nil
}

// Snapshots lists the snapshot prefixes present, in stage order.
func (w *Workspace) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(w.Dir(SnapshotsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), snapshotSuffix); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadSnapshotByPrefix reads a snapshot by its file prefix, such as "99_final".
func (w *Workspace) ReadSnapshotByPrefix(prefix string) (string, error) {
	if strings.ContainsAny(prefix, `/\`) || strings.Contains(prefix, "..") {
		return "", fmt.Errorf("invalid snapshot name %q", prefix)
	}
	data, err := os.ReadFile(filepath.Join(w.Path, SnapshotsDir, prefix+snapshotSuffix))
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot %s: %w", prefix, err)
	}
	return string(data), nil
}

// WriteExecutionLog records what one attempt printed.
func (w *Workspace) WriteExecutionLog(index int, res *models.ExecutionResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "success: %v\n", res.Success)
	if !res.Success {
		fmt.Fprintf(&b, "kind: %s\nerror: %s\n", res.Kind, res.Error)
	}
	fmt.Fprintf(&b, "duration_ms: %d\n", res.Stats.DurationMs)
	fmt.Fprintf(&b, "\n--- stdout%s ---\n%s", truncatedMark(res.Stats.StdoutTruncated), res.Stats.Stdout)
	fmt.Fprintf(&b, "\n--- stderr%s ---\n%s", truncatedMark(res.Stats.StderrTruncated), res.Stats.Stderr)

	path := filepath.Join(w.Path, LogsDir, fmt.Sprintf("attempt_%02d.log", index))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write execution log: %w", err)
	}
	return nil
}

// CallLogFile holds the run's model calls, one JSON object per line.
const CallLogFile = "llm_calls.jsonl"

// OpenCallLog opens the run's model call log for appending.
func (w *Workspace) OpenCallLog() (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(w.Path, LogsDir, CallLogFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	return f, nil
}

func truncatedMark(t bool) string {
	if t {
		return " (truncated)"
	}
	return ""
}

func (w *Workspace) WriteRunMetadata(meta *RunMetadata) error {
	return w.writeJSON("run.json", meta)
}

func (w *Workspace) ReadRunMetadata() (*RunMetadata, error) {
	var meta RunMetadata
	if err := w.readJSON("run.json", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (w *Workspace) WriteSnippets(pkg models.SnippetPackage) error {
	return w.writeJSON("snippets.json", pkg)
}

func (w *Workspace) ReadSnippets() (models.SnippetPackage, error) {
	pkg := models.NewSnippetPackage()
	if err := w.readJSON("snippets.json", &pkg); err != nil {
		return models.NewSnippetPackage(), err
	}
	return pkg, nil
}

func (w *Workspace) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(w.Path, MetadataDir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (w *Workspace) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(w.Path, MetadataDir, name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// NextRevision creates revisions/rev_NNN with the next free number and
// returns its path.
func (w *Workspace) NextRevision() (string, error) {
	revs, err := w.Revisions()
	if err != nil {
		return "", err
	}
	n := len(revs) + 1
	for ; n < 1000; n++ {
		path := filepath.Join(w.Path, RevisionsDir, fmt.Sprintf("rev_%03d", n))
		err := os.Mkdir(path, 0755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create revision: %w", err)
		}
	}
	return "", errors.New("revision limit reached")
}

// Revisions lists revision directory names in order.
func (w *Workspace) Revisions() ([]string, error) {
	entries, err := os.ReadDir(w.Dir(RevisionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "rev_") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Remove deletes the run directory.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Path)
}
