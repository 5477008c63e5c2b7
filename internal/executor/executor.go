// Package executor runs generated document scripts under validation,
// output and time limits, and checks the document they leave behind.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mpataki/docforge/internal/diagram"
	"github.com/mpataki/docforge/internal/docx"
	"github.com/mpataki/docforge/internal/lua"
	"github.com/mpataki/docforge/internal/models"
)

// DocumentDir is the output subdirectory holding the produced document.
const DocumentDir = "word_document"

// Limits bounds one execution.
type Limits struct {
	Timeout          time.Duration `json:"timeout"`
	Grace            time.Duration `json:"grace"`
	MaxScriptBytes   int           `json:"max_script_bytes"`
	MaxOutputBytes   int           `json:"max_output_bytes"`
	MaxArtifactBytes int64         `json:"max_artifact_bytes"`
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		Timeout:          30 * time.Second,
		Grace:            2 * time.Second,
		MaxScriptBytes:   50 * 1024,
		MaxOutputBytes:   100 * 1024,
		MaxArtifactBytes: 10 * 1024 * 1024,
	}
}

// CapabilitySpec describes what a script may touch.
type CapabilitySpec struct {
	OutputDir    string       `json:"output_dir"`
	DocumentName string       `json:"document_name"`
	Diagrams     diagram.Spec `json:"diagrams"`

	// Renderer overrides Diagrams for in-process runs.
	Renderer diagram.Renderer `json:"-"`
}

func (s CapabilitySpec) DocumentPath() string {
	return filepath.Join(s.OutputDir, DocumentDir, s.DocumentName)
}

type Isolation string

const (
	InProcess  Isolation = "inprocess"
	Subprocess Isolation = "subprocess"
)

// Executor runs scripts. The zero value runs in-process with the default logger.
type Executor struct {
	Isolation Isolation
	Logger    *slog.Logger

	// WorkerCommand is the argv that starts a worker process. Defaults to
	// the running binary with the "worker" subcommand.
	WorkerCommand []string
}

func New(isolation Isolation, logger *slog.Logger) *Executor {
	return &Executor{Isolation: isolation, Logger: logger}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Execute validates and runs script, then checks the produced document.
// It never returns a nil result; failures are described in the result.
func (e *Executor) Execute(ctx context.Context, script models.Script, spec CapabilitySpec, limits Limits) *models.ExecutionResult {
	start := time.Now()
	limits = limits.withDefaults()

	if err := Validate(script.Source, limits.MaxScriptBytes); err != nil {
		return failed(err, start, nil, nil)
	}
	if err := lua.CheckOutputName(spec.DocumentName, ".docx"); err != nil {
		return failed(validationError("%v", err), start, nil, nil)
	}
	if spec.OutputDir == "" {
		return failed(validationError("output directory is not set"), start, nil, nil)
	}

	if e.Isolation == Subprocess {
		return e.executeSubprocess(ctx, script, spec, limits, start)
	}
	return e.executeInProcess(ctx, script, spec, limits, start)
}

// Precheck runs the static checks alone. It returns nil when source may be
// executed and the failed result otherwise.
func Precheck(source string, limits Limits) *models.ExecutionResult {
	if err := Validate(source, limits.withDefaults().MaxScriptBytes); err != nil {
		return failed(err, time.Now(), nil, nil)
	}
	return nil
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.Grace <= 0 {
		l.Grace = d.Grace
	}
	if l.MaxScriptBytes <= 0 {
		l.MaxScriptBytes = d.MaxScriptBytes
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = d.MaxOutputBytes
	}
	if l.MaxArtifactBytes <= 0 {
		l.MaxArtifactBytes = d.MaxArtifactBytes
	}
	return l
}

// runOutcome is what the interpreter goroutine hands back.
type runOutcome struct {
	err         error
	counts      docx.Counts
	charts      int
	diagrams    int
	openFigures int
}

func (e *Executor) executeInProcess(ctx context.Context, script models.Script, spec CapabilitySpec, limits Limits, start time.Time) *models.ExecutionResult {
	log := e.logger()

	if err := os.MkdirAll(spec.OutputDir, 0755); err != nil {
		return failed(artifactError("failed to create output directory: %v", err), start, nil, nil)
	}

	stdout := newLimitedBuffer(limits.MaxOutputBytes)
	stderr := newLimitedBuffer(limits.MaxOutputBytes)

	renderer := spec.Renderer
	if renderer == nil {
		renderer = diagram.New(spec.Diagrams)
		defer diagram.Close(renderer)
	}
	caps := lua.NewCapabilities(spec.OutputDir, renderer, stdout, stderr, log)

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	// The goroutine owns caps until it sends. If it is abandoned it keeps
	// them, and this function never touches them again.
	done := make(chan runOutcome, 1)
	go func() {
		var out runOutcome
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("interpreter panic: %v", r)
			}
			out.openFigures = caps.Close()
			out.counts = caps.Doc.Counts()
			out.charts = caps.Charts()
			out.diagrams = caps.DiagramsRendered()
			done <- out
		}()
		out.err = lua.NewRuntime(caps).Execute(runCtx, script.Source)
	}()

	var (
		out       runOutcome
		abandoned bool
	)
	watchdog := time.NewTimer(limits.Timeout + limits.Grace)
	defer watchdog.Stop()
	select {
	case out = <-done:
	case <-watchdog.C:
		abandoned = true
	case <-ctx.Done():
		select {
		case out = <-done:
		case <-time.After(limits.Grace):
			abandoned = true
		}
	}

	if abandoned {
		log.Warn("script did not yield after deadline, abandoning interpreter", "timeout", limits.Timeout)
		return failed(timeoutError(ctx, limits.Timeout), start, stdout, stderr)
	}
	if out.openFigures > 0 {
		log.Debug("closed figures left open by script", "count", out.openFigures)
	}

	if out.err != nil {
		var serr *ScriptError
		switch {
		case runCtx.Err() != nil:
			serr = timeoutError(ctx, limits.Timeout)
		default:
			serr = classify(out.err, script.Source)
		}
		res := failed(serr, start, stdout, stderr)
		applyCounts(&res.Stats, out)
		return res
	}

	path := spec.DocumentPath()
	if err := caps.Doc.Save(path); err != nil {
		return failed(artifactError("failed to save document: %v", err), start, stdout, stderr)
	}
	data, aerr := checkArtifact(path, limits.MaxArtifactBytes)
	if aerr != nil {
		return failed(aerr, start, stdout, stderr)
	}

	res := &models.ExecutionResult{
		Success:      true,
		ArtifactPath: path,
		Artifact:     data,
	}
	fillStats(&res.Stats, start, stdout, stderr)
	applyCounts(&res.Stats, out)
	res.Stats.ArtifactBytes = int64(len(data))
	log.Debug("script executed", "duration_ms", res.Stats.DurationMs, "bytes", len(data))
	return res
}

func timeoutError(ctx context.Context, timeout time.Duration) *ScriptError {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return &ScriptError{Kind: models.FailureTimeout, Message: "Execution cancelled: " + err.Error(), Err: err}
	}
	return &ScriptError{
		Kind:    models.FailureTimeout,
		Message: fmt.Sprintf("Execution timed out after %s", timeout),
		Err:     context.DeadlineExceeded,
	}
}

// checkArtifact verifies the document exists, is non-empty, fits the size
// ceiling and carries the container signature.
func checkArtifact(path string, maxBytes int64) ([]byte, *ScriptError) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, artifactError("document was not created: %v", err)
	}
	if info.Size() == 0 {
		return nil, artifactError("document is empty")
	}
	if info.Size() > maxBytes {
		return nil, artifactError("document is %d bytes, exceeding the maximum of %d bytes", info.Size(), maxBytes)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, artifactError("failed to open document: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, artifactError("failed to read document: %v", err)
	}
	if !bytes.HasPrefix(data, docx.Magic) {
		return nil, artifactError("document does not start with the expected container signature")
	}
	return data, nil
}

func failed(err error, start time.Time, stdout, stderr *limitedBuffer) *models.ExecutionResult {
	res := &models.ExecutionResult{Success: false}
	var serr *ScriptError
	if errors.As(err, &serr) {
		res.Kind = serr.Kind
		res.Error = serr.Message
		res.Line = serr.Line
	} else {
		res.Kind = models.FailureRuntime
		res.Error = err.Error()
	}
	fillStats(&res.Stats, start, stdout, stderr)
	res.Stats.Errors = append(res.Stats.Errors, res.Error)
	return res
}

func fillStats(st *models.ExecutionStats, start time.Time, stdout, stderr *limitedBuffer) {
	st.DurationMs = time.Since(start).Milliseconds()
	if st.Errors == nil {
		st.Errors = []string{}
	}
	if stdout != nil {
		st.Stdout = stdout.String()
		st.StdoutTruncated = stdout.Truncated()
	}
	if stderr != nil {
		st.Stderr = stderr.String()
		st.StderrTruncated = stderr.Truncated()
	}
}

func applyCounts(st *models.ExecutionStats, out runOutcome) {
	st.Headings = out.counts.Headings
	st.Paragraphs = out.counts.Paragraphs
	st.Tables = out.counts.Tables
	st.Pictures = out.counts.Pictures
	st.Charts = out.charts
	st.Diagrams = out.diagrams
}
