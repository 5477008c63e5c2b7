package models

import (
	"fmt"
	"regexp"
	"strconv"
)

// Stage labels the point in the generation lifecycle a script version comes from.
type Stage string

const (
	StageInitial     Stage = "initial"
	StageSynthesized Stage = "synthesized"
	StageFinal       Stage = "final"
)

func StageChunk(n int) Stage         { return Stage(fmt.Sprintf("chunk_%d", n)) }
func StageErrorRecovery(n int) Stage { return Stage(fmt.Sprintf("error_recovery_%d", n)) }

var stagePattern = regexp.MustCompile(`^(initial|synthesized|final|chunk_(\d+)|error_recovery_(\d+))$`)

// Valid reports whether s is one of the known stage shapes.
func (s Stage) Valid() bool {
	m := stagePattern.FindStringSubmatch(string(s))
	if m == nil {
		return false
	}
	for _, n := range m[2:] {
		if n == "" {
			continue
		}
		if v, err := strconv.Atoi(n); err != nil || v < 1 {
			return false
		}
	}
	return true
}

// SnapshotPrefix is the ordering prefix used for the stage's snapshot file.
func (s Stage) SnapshotPrefix() string {
	m := stagePattern.FindStringSubmatch(string(s))
	switch {
	case m == nil:
		return string(s)
	case s == StageInitial:
		return "01_initial"
	case m[2] != "":
		return "01_" + string(s)
	case s == StageSynthesized:
		return "02_synthesized"
	case m[3] != "":
		return "03_" + string(s)
	default:
		return "99_final"
	}
}

// Script is the source of one generated document program.
type Script struct {
	Source string
	Stage  Stage
}
