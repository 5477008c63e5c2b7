package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mpataki/docforge/internal/executor"
	"github.com/mpataki/docforge/internal/models"
	"github.com/mpataki/docforge/internal/workspace"
)

// Revision is one user-edited re-execution of a finished run.
type Revision struct {
	Dir    string
	Result *models.ExecutionResult
}

// Revise executes source once inside a new revision directory of the run.
// There is no repair loop; the run's own attempts are left untouched. A
// script that fails the static checks is rejected before any directory is
// created, and the returned Revision has an empty Dir.
func (o *Orchestrator) Revise(ctx context.Context, runID int64, source string) (*Revision, error) {
	run, err := o.cfg.Storage.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if res := executor.Precheck(source, o.cfg.Limits); res != nil {
		o.log.Info("revision rejected", "run", run.ID, "kind", res.Kind, "error", res.Error)
		return &Revision{Result: res}, nil
	}
	ws, err := workspace.Open(o.cfg.RunsDir, filepath.Base(run.Dir))
	if err != nil {
		return nil, err
	}
	dir, err := ws.NextRevision()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "document_code.lua"), []byte(source), 0644); err != nil {
		return nil, fmt.Errorf("failed to write revision script: %w", err)
	}

	spec := executor.CapabilitySpec{
		OutputDir:    dir,
		DocumentName: run.DocumentName,
		Diagrams:     o.cfg.Diagrams,
		Renderer:     o.cfg.Renderer,
	}
	script := models.Script{Source: source, Stage: models.StageFinal}
	res := o.cfg.Executor.Execute(ctx, script, spec, o.cfg.Limits)
	o.log.Info("revision executed", "run", run.ID, "dir", filepath.Base(dir), "success", res.Success)
	return &Revision{Dir: dir, Result: res}, nil
}
