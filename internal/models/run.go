package models

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further attempts will be made for the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusExhausted || s == RunStatusFailed
}

type Run struct {
	ID            int64
	Key           string // uuid v7, used to correlate logs across processes
	CreatedAt     time.Time
	CompletedAt   *time.Time
	JobName       string
	DocumentName  string
	Dir           string
	Status        RunStatus
	ArtifactPath  string
	Attempts      int
	ErrorRecovery int
	Error         string
}
