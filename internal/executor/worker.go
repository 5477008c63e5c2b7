package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mpataki/docforge/internal/models"
)

// WorkerRequest is sent on a worker's stdin.
type WorkerRequest struct {
	Source string         `json:"source"`
	Stage  models.Stage   `json:"stage"`
	Spec   CapabilitySpec `json:"spec"`
	Limits Limits         `json:"limits"`
}

// RunWorker serves one request read from r and writes the result to w. It
// is the body of the hidden worker subcommand.
func RunWorker(ctx context.Context, r io.Reader, w io.Writer, e *Executor) error {
	var req WorkerRequest
	if err := json.NewDecoder(io.LimitReader(r, 4<<20)).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode worker request: %w", err)
	}
	inproc := &Executor{Isolation: InProcess, Logger: e.logger()}
	res := inproc.Execute(ctx, models.Script{Source: req.Source, Stage: req.Stage}, req.Spec, req.Limits)
	return json.NewEncoder(w).Encode(res)
}

func (e *Executor) workerCommand() ([]string, error) {
	if len(e.WorkerCommand) > 0 {
		return e.WorkerCommand, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return []string{self, "worker"}, nil
}

// executeSubprocess runs the script in a child process that is killed once
// the budget plus grace elapses or ctx is cancelled.
func (e *Executor) executeSubprocess(ctx context.Context, script models.Script, spec CapabilitySpec, limits Limits, start time.Time) *models.ExecutionResult {
	argv, err := e.workerCommand()
	if err != nil {
		return failed(err, start, nil, nil)
	}
	payload, err := json.Marshal(WorkerRequest{Source: script.Source, Stage: script.Stage, Spec: spec, Limits: limits})
	if err != nil {
		return failed(fmt.Errorf("failed to encode worker request: %w", err), start, nil, nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout+limits.Grace)
	defer cancel()

	stdout := newLimitedBuffer(int(limits.MaxArtifactBytes))
	stderr := newLimitedBuffer(limits.MaxOutputBytes)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(string(payload))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = limits.Grace

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		e.logger().Warn("worker killed", "timeout", limits.Timeout, "error", runErr)
		return failed(timeoutError(ctx, limits.Timeout), start, nil, stderr)
	}

	var res models.ExecutionResult
	if err := json.Unmarshal([]byte(stdout.String()), &res); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				msg = fmt.Sprintf("worker exited with code %d: %s", exitErr.ExitCode(), msg)
			}
		}
		return failed(fmt.Errorf("worker returned no result: %s", msg), start, nil, stderr)
	}

	if res.Success {
		data, aerr := checkArtifact(res.ArtifactPath, limits.MaxArtifactBytes)
		if aerr != nil {
			return failed(aerr, start, nil, stderr)
		}
		res.Artifact = data
	}
	res.Stats.DurationMs = time.Since(start).Milliseconds()
	return &res
}
