package orchestrator

import "github.com/mpataki/docforge/internal/models"

type EventType string

const (
	EventStepStarted  EventType = "step_started"
	EventStepComplete EventType = "step_complete"
	EventFinished     EventType = "finished"
)

// Event reports loop progress. Outcome is set on step_complete, State on finished.
type Event struct {
	Type    EventType
	RunID   int64
	Attempt int
	Stage   models.Stage
	Outcome *models.Outcome
	State   State
}

// Observer is called synchronously from the loop goroutine.
type Observer func(Event)

func (o *Orchestrator) emit(ev Event) {
	if o.cfg.Observer != nil {
		o.cfg.Observer(ev)
	}
}
