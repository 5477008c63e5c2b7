package models

import "time"

// FailureKind classifies why an execution attempt did not produce an artifact.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureValidation FailureKind = "ValidationError"
	FailureSyntax     FailureKind = "SyntaxError"
	FailureName       FailureKind = "NameError"
	FailureRuntime    FailureKind = "RuntimeError"
	FailureTimeout    FailureKind = "Timeout"
	FailureArtifact   FailureKind = "ArtifactError"
)

// Retryable reports whether regenerating the script can plausibly fix the failure.
func (k FailureKind) Retryable() bool {
	return k != FailureValidation && k != FailureNone
}

type Outcome struct {
	Success bool        `json:"success"`
	Kind    FailureKind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Attempt is one execution of one script version inside a run.
type Attempt struct {
	ID         int64
	RunID      int64
	Index      int // 0-based
	Stage      Stage
	Outcome    Outcome
	DurationMs int64
	Timestamp  time.Time
	Script     Script
}
