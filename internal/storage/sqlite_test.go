package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mpataki/docforge/internal/models"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newStorage(t)
	run := &models.Run{Key: "k1", JobName: "proposal", DocumentName: "proposal.docx", Dir: "/runs/run_1", Status: models.RunStatusPending}
	id, err := s.CreateRun(run)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != "k1" || got.Status != models.RunStatusPending || got.CompletedAt != nil {
		t.Errorf("run = %+v", got)
	}

	done := time.Now()
	got.Status = models.RunStatusExhausted
	got.CompletedAt = &done
	got.Attempts = 3
	got.ErrorRecovery = 2
	got.Error = "Timeout: Execution timed out after 30s"
	if err := s.UpdateRun(got); err != nil {
		t.Fatal(err)
	}
	again, err := s.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != models.RunStatusExhausted || again.Attempts != 3 || again.ErrorRecovery != 2 || again.CompletedAt == nil {
		t.Errorf("updated run = %+v", again)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newStorage(t)
	if _, err := s.GetRun(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAttempts(t *testing.T) {
	s := newStorage(t)
	id, err := s.CreateRun(&models.Run{Key: "k", JobName: "j", DocumentName: "d.docx", Dir: "/d", Status: models.RunStatusRunning})
	if err != nil {
		t.Fatal(err)
	}

	attempts := []*models.Attempt{
		{RunID: id, Index: 0, Stage: models.StageInitial, Script: models.Script{Source: "a"},
			Outcome: models.Outcome{Kind: models.FailureName, Message: "name 'x' is not defined"}},
		{RunID: id, Index: 1, Stage: models.StageErrorRecovery(1), Script: models.Script{Source: "b"},
			Outcome: models.Outcome{Success: true}},
	}
	for _, a := range attempts {
		if _, err := s.CreateAttempt(a); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CreateAttempt(&models.Attempt{RunID: id, Index: 1, Stage: models.StageFinal}); err == nil {
		t.Error("duplicate attempt index accepted")
	}

	got, err := s.GetAttemptsForRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("attempts = %d", len(got))
	}
	if got[0].Outcome.Kind != models.FailureName || got[0].Outcome.Success || got[0].Script.Source != "a" {
		t.Errorf("first = %+v", got[0])
	}
	if !got[1].Outcome.Success || got[1].Stage != models.StageErrorRecovery(1) || got[1].Script.Stage != got[1].Stage {
		t.Errorf("second = %+v", got[1])
	}

	if err := s.DeleteRun(id); err != nil {
		t.Fatal(err)
	}
	if left, _ := s.GetAttemptsForRun(id); len(left) != 0 {
		t.Errorf("attempts survived delete: %d", len(left))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newStorage(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"old", "mid", "new"} {
		run := &models.Run{Key: key, JobName: "j", DocumentName: "d.docx", Dir: "/d", Status: models.RunStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if _, err := s.CreateRun(run); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Key != "new" || runs[1].Key != "mid" {
		t.Errorf("runs = %v", runs)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5*time.Minute + 10*time.Second, "5m ago"},
		{3*time.Hour + time.Minute, "3h ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
