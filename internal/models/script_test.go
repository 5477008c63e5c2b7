package models

import "testing"

func TestStageSnapshotPrefix(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageInitial, "01_initial"},
		{StageChunk(3), "01_chunk_3"},
		{StageSynthesized, "02_synthesized"},
		{StageErrorRecovery(2), "03_error_recovery_2"},
		{StageFinal, "99_final"},
	}
	for _, tt := range tests {
		if got := tt.stage.SnapshotPrefix(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestStageValid(t *testing.T) {
	valid := []Stage{StageInitial, StageFinal, StageChunk(1), StageErrorRecovery(12)}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	invalid := []Stage{"", "chunk_0", "error_recovery_", "99_final", "../final"}
	for _, s := range invalid {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestFailureKindRetryable(t *testing.T) {
	if FailureValidation.Retryable() {
		t.Error("validation failures must not be retried")
	}
	for _, k := range []FailureKind{FailureSyntax, FailureName, FailureRuntime, FailureTimeout, FailureArtifact} {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
}
