package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/docforge/internal/analyzer"
	"github.com/mpataki/docforge/internal/correlate"
	"github.com/mpataki/docforge/internal/diagram"
	"github.com/mpataki/docforge/internal/executor"
	"github.com/mpataki/docforge/internal/llm"
	"github.com/mpataki/docforge/internal/models"
	"github.com/mpataki/docforge/internal/storage"
	"github.com/mpataki/docforge/internal/workspace"
)

// Executor runs one script version.
type Executor interface {
	Execute(ctx context.Context, script models.Script, spec executor.CapabilitySpec, limits executor.Limits) *models.ExecutionResult
}

// Regenerator repairs a script given the error it raised.
type Regenerator interface {
	Regenerate(ctx context.Context, source, errMsg string) (string, error)
}

// Generator writes a first script from instructions.
type Generator interface {
	Generate(ctx context.Context, instructions string) (string, error)
}

type State string

const (
	StateGenerated State = "generated"
	StateExecuting State = "executing"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateExhausted State = "exhausted"
)

type Config struct {
	Storage     *storage.Storage
	RunsDir     string
	Executor    Executor
	Regenerator Regenerator

	Limits        executor.Limits
	Diagrams      diagram.Spec
	Renderer      diagram.Renderer
	MaxErrorLoops int
	DocumentName  string
	Analyzer      analyzer.Options

	Logger   *slog.Logger
	Observer Observer

	// Now and NewKey are replaceable in tests.
	Now    func() time.Time
	NewKey func() string
}

type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewKey == nil {
		cfg.NewKey = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if cfg.DocumentName == "" {
		cfg.DocumentName = "proposal.docx"
	}
	if cfg.Analyzer.Logger == nil {
		cfg.Analyzer.Logger = cfg.Logger
	}
	return &Orchestrator{cfg: cfg, log: cfg.Logger}
}

// ForJob returns a copy of o with the job's overrides applied.
func (o *Orchestrator) ForJob(job *models.Job) *Orchestrator {
	cfg := o.cfg
	if job.MaxErrorLoops != nil {
		cfg.MaxErrorLoops = *job.MaxErrorLoops
	}
	if job.Timeout > 0 {
		cfg.Limits.Timeout = job.Timeout
	}
	if job.DocumentName != "" {
		cfg.DocumentName = job.DocumentName
	}
	if ex, ok := cfg.Executor.(*executor.Executor); ok && job.Isolation != "" {
		scoped := *ex
		scoped.Isolation = executor.Isolation(job.Isolation)
		cfg.Executor = &scoped
	}
	return &Orchestrator{cfg: cfg, log: o.log}
}

// Outcome is what a finished run hands back. Artifact is never empty: an
// exhausted run carries the fallback document.
type Outcome struct {
	Success            bool
	State              State
	Run                *models.Run
	ArtifactPath       string
	Artifact           []byte
	Attempts           []*models.Attempt
	ErrorRecoveryCount int
	Errors             []string
	Package            models.SnippetPackage
}

// StartRun creates the run directory and its ledger row.
func (o *Orchestrator) StartRun(job *models.Job) (*models.Run, error) {
	now := o.cfg.Now()
	ws, err := workspace.Create(o.cfg.RunsDir, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	run := &models.Run{
		Key:          o.cfg.NewKey(),
		CreatedAt:    now,
		JobName:      job.Name,
		DocumentName: o.cfg.DocumentName,
		Dir:          ws.Path,
		Status:       models.RunStatusPending,
	}
	runID, err := o.cfg.Storage.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	run.ID = runID

	if err := ws.WriteRunMetadata(metadata(run)); err != nil {
		return nil, err
	}
	return run, nil
}

// InitialScript loads the job's script file, or asks the generator for one
// when the job only carries instructions.
func (o *Orchestrator) InitialScript(ctx context.Context, job *models.Job) (models.Script, error) {
	if job.Script != "" {
		path := job.Script
		if !filepath.IsAbs(path) && job.Path != "" {
			path = filepath.Join(filepath.Dir(job.Path), path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return models.Script{}, fmt.Errorf("failed to read script: %w", err)
		}
		return models.Script{Source: string(data), Stage: models.StageInitial}, nil
	}

	gen, ok := o.cfg.Regenerator.(Generator)
	if !ok || job.Instructions == "" {
		return models.Script{}, errors.New("job has neither a script nor instructions for a generator")
	}
	source, err := gen.Generate(ctx, job.Instructions)
	if err != nil {
		return models.Script{}, fmt.Errorf("failed to generate script: %w", err)
	}
	return models.Script{Source: source, Stage: models.StageInitial}, nil
}

// Run drives script through execute and repair until it succeeds or the
// retry budget is spent. Executor failures never surface as errors; a
// returned error means storage or the run directory failed.
func (o *Orchestrator) Run(ctx context.Context, run *models.Run, script models.Script) (out *Outcome, err error) {
	defer func() {
		if err != nil {
			o.failRun(run, err)
		}
	}()

	ws, err := workspace.Open(o.cfg.RunsDir, filepath.Base(run.Dir))
	if err != nil {
		return nil, err
	}
	log := o.log.With("run", run.ID, "key", run.Key)

	if o.cfg.Regenerator != nil {
		f, err := ws.OpenCallLog()
		if err != nil {
			log.Warn("model calls will not be logged", "error", err)
		} else {
			defer f.Close()
			ctx = llm.WithCallLog(ctx, llm.NewCallLog(f))
		}
	}

	run.Status = models.RunStatusRunning
	if err := o.cfg.Storage.UpdateRun(run); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	if script.Stage == "" {
		script.Stage = models.StageInitial
	}
	if _, err := ws.WriteSnapshot(script); err != nil {
		return nil, err
	}

	spec := executor.CapabilitySpec{
		OutputDir:    ws.Path,
		DocumentName: run.DocumentName,
		Diagrams:     o.cfg.Diagrams,
		Renderer:     o.cfg.Renderer,
	}
	out = &Outcome{Run: run, State: StateGenerated}
	current := script
	var last *models.ExecutionResult

	for idx := 0; ; idx++ {
		out.State = StateExecuting
		o.emit(Event{Type: EventStepStarted, RunID: run.ID, Attempt: idx, Stage: current.Stage})

		res := o.cfg.Executor.Execute(ctx, current, spec, o.cfg.Limits)
		last = res
		attempt := &models.Attempt{
			RunID:      run.ID,
			Index:      idx,
			Stage:      current.Stage,
			Outcome:    res.Outcome(),
			DurationMs: res.Stats.DurationMs,
			Timestamp:  o.cfg.Now(),
			Script:     current,
		}
		if attempt.ID, err = o.cfg.Storage.CreateAttempt(attempt); err != nil {
			return nil, fmt.Errorf("failed to record attempt: %w", err)
		}
		out.Attempts = append(out.Attempts, attempt)
		if err := ws.WriteExecutionLog(idx, res); err != nil {
			log.Warn("failed to write execution log", "attempt", idx, "error", err)
		}

		outcome := attempt.Outcome
		o.emit(Event{Type: EventStepComplete, RunID: run.ID, Attempt: idx, Stage: current.Stage, Outcome: &outcome})
		log.Info("attempt finished", "attempt", idx, "stage", current.Stage, "success", res.Success, "kind", res.Kind)

		if res.Success {
			out.State = StateSucceeded
			break
		}
		out.Errors = append(out.Errors, res.Error)

		if !res.Kind.Retryable() || out.ErrorRecoveryCount >= o.cfg.MaxErrorLoops || o.cfg.Regenerator == nil {
			out.State = StateExhausted
			break
		}
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, "cancelled: "+ctx.Err().Error())
			out.State = StateExhausted
			break
		}

		out.State = StateRetrying
		out.ErrorRecoveryCount++
		source, err := o.cfg.Regenerator.Regenerate(ctx, current.Source, res.Error)
		if err != nil {
			log.Warn("regeneration failed", "attempt", idx, "error", err)
			out.Errors = append(out.Errors, "regeneration failed: "+err.Error())
			out.State = StateExhausted
			break
		}
		current = models.Script{Source: source, Stage: models.StageErrorRecovery(out.ErrorRecoveryCount)}
		if _, err := ws.WriteSnapshot(current); err != nil {
			return nil, err
		}
	}

	final := models.Script{Source: current.Source, Stage: models.StageFinal}
	if _, err := ws.WriteSnapshot(final); err != nil && !errors.Is(err, workspace.ErrSnapshotExists) {
		return nil, err
	}

	if out.State == StateSucceeded {
		out.Success = true
		out.ArtifactPath = last.ArtifactPath
		out.Artifact = last.Artifact
	} else {
		path := spec.DocumentPath()
		data, err := writeFallback(path, out.Errors, current.Source, len(out.Attempts))
		if err != nil {
			return nil, fmt.Errorf("failed to write fallback document: %w", err)
		}
		out.ArtifactPath = path
		out.Artifact = data
	}

	out.Package = o.snippets(ws, final, out.Artifact, log)
	if err := ws.WriteSnippets(out.Package); err != nil {
		log.Warn("failed to write snippets", "error", err)
	}

	if err := o.finish(ws, run, out); err != nil {
		return nil, err
	}
	o.emit(Event{Type: EventFinished, RunID: run.ID, Attempt: len(out.Attempts) - 1, Stage: models.StageFinal, State: out.State})
	return out, nil
}

func (o *Orchestrator) snippets(ws *workspace.Workspace, script models.Script, artifact []byte, log *slog.Logger) models.SnippetPackage {
	pkg := analyzer.Analyze(script, o.cfg.Analyzer)
	assets, err := correlate.LoadAssets(ws.Dir(workspace.ImagesDir), ws.Dir(workspace.DiagramsDir))
	if err != nil {
		log.Warn("failed to load assets", "error", err)
		assets = correlate.NewAssetDirectory()
	}
	return correlate.Correlate(pkg, assets, artifact, log)
}

func (o *Orchestrator) finish(ws *workspace.Workspace, run *models.Run, out *Outcome) error {
	now := o.cfg.Now()
	run.CompletedAt = &now
	run.Attempts = len(out.Attempts)
	run.ErrorRecovery = out.ErrorRecoveryCount
	run.ArtifactPath = out.ArtifactPath
	if out.Success {
		run.Status = models.RunStatusSucceeded
		run.Error = ""
	} else {
		run.Status = models.RunStatusExhausted
		if n := len(out.Errors); n > 0 {
			run.Error = out.Errors[n-1]
		}
	}
	if err := o.cfg.Storage.UpdateRun(run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return ws.WriteRunMetadata(metadata(run))
}

// failRun records an infrastructure failure. The run gets no artifact.
func (o *Orchestrator) failRun(run *models.Run, cause error) {
	now := o.cfg.Now()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	run.Error = cause.Error()
	if err := o.cfg.Storage.UpdateRun(run); err != nil {
		o.log.Error("failed to mark run failed", "run", run.ID, "error", err)
	}
}

func metadata(run *models.Run) *workspace.RunMetadata {
	return &workspace.RunMetadata{
		RunID:        run.ID,
		Key:          run.Key,
		JobName:      run.JobName,
		DocumentName: run.DocumentName,
		CreatedAt:    run.CreatedAt,
		Status:       string(run.Status),
		Attempts:     run.Attempts,
	}
}

// Read methods for the CLI and TUI

func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	return o.cfg.Storage.ListRuns(limit)
}

func (o *Orchestrator) GetRun(id int64) (*models.Run, error) {
	return o.cfg.Storage.GetRun(id)
}

func (o *Orchestrator) GetAttemptsForRun(runID int64) ([]*models.Attempt, error) {
	return o.cfg.Storage.GetAttemptsForRun(runID)
}

// Snippets returns the stored package for a run.
func (o *Orchestrator) Snippets(run *models.Run) (models.SnippetPackage, error) {
	ws, err := workspace.Open(o.cfg.RunsDir, filepath.Base(run.Dir))
	if err != nil {
		return models.NewSnippetPackage(), err
	}
	return ws.ReadSnippets()
}

func (o *Orchestrator) DeleteRun(runID int64) error {
	run, err := o.cfg.Storage.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run.Dir != "" {
		if ws, err := workspace.Open(o.cfg.RunsDir, filepath.Base(run.Dir)); err == nil {
			if err := ws.Remove(); err != nil {
				return fmt.Errorf("failed to remove run directory: %w", err)
			}
		}
	}
	return o.cfg.Storage.DeleteRun(runID)
}
