package model

import (
	"fmt"
	"time"
)

// Mode selects between a real and a simulated run.
type Mode string

const (
	ModeExecute  Mode = "execute"
	ModeSimulate Mode = "simulate"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExecute, ModeSimulate:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown run mode %q", s)
}

// Status is a terminal state of a single stage.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed-out"
)

// ExitCodeStageFailed is returned by the CLI when the run finished but at
// least one stage failed or timed out.
const ExitCodeStageFailed = 3

type StageOutcome struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Simulated bool      `json:"simulated,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Detail    string    `json:"detail,omitempty"`
}

func (s StageOutcome) Duration() time.Duration {
	if s.Finished.Before(s.Started) {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// Outcome summarizes a run per stage, in plan order.
type Outcome struct {
	RunID    string         `json:"run_id"`
	Device   string         `json:"device"`
	Mode     Mode           `json:"mode"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Stages   []StageOutcome `json:"stages"`
}

// Count returns how many stages ended in the given status.
func (o Outcome) Count(status Status) int {
	var n int
	for _, s := range o.Stages {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (o Outcome) Passed() bool {
	return o.Count(StatusFailed) == 0 && o.Count(StatusTimedOut) == 0
}

func (o Outcome) ExitCode() int {
	if o.Passed() {
		return 0
	}
	return ExitCodeStageFailed
}
