package models

type ExecutionStats struct {
	Errors          []string `json:"errors"`
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	StdoutTruncated bool     `json:"stdout_truncated"`
	StderrTruncated bool     `json:"stderr_truncated"`
	DurationMs      int64    `json:"duration_ms"`
	Headings        int      `json:"headings"`
	Paragraphs      int      `json:"paragraphs"`
	Tables          int      `json:"tables"`
	Pictures        int      `json:"pictures"`
	Charts          int      `json:"charts"`
	Diagrams        int      `json:"diagrams"`
	ArtifactBytes   int64    `json:"artifact_bytes"`
}

// ExecutionResult is what the executor reports for one attempt. Artifact is
// set only on success.
type ExecutionResult struct {
	Success      bool           `json:"success"`
	ArtifactPath string         `json:"artifact_path,omitempty"`
	Artifact     []byte         `json:"-"`
	Error        string         `json:"error,omitempty"`
	Kind         FailureKind    `json:"kind,omitempty"`
	Line         int            `json:"line,omitempty"`
	Stats        ExecutionStats `json:"stats"`
}

func (r *ExecutionResult) Outcome() Outcome {
	return Outcome{Success: r.Success, Kind: r.Kind, Message: r.Error}
}
