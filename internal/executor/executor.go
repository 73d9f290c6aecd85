// Package executor is the single place where burnin touches a device or
// spends wall-clock time. Every start, wait and harvest action of every stage
// is passed to an Executor, and the Executor chosen for a run decides whether
// the action runs at all.
//
// Runner invokes actions. Simulator never does: it logs what would have run
// and returns a synthetic success. The choice is made once per run by New.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/burnin/internal/model"
)

// Logger is the part of the run log an Executor writes to.
type Logger interface {
	Printf(format string, args ...any)
	Output(text string)
}

// Result is what an action produced. Err carries a failure of the action
// which the run survives, such as a non-zero exit of a tool.
type Result struct {
	Description string
	Simulated   bool
	Status      model.Status
	Output      string
	Err         error
	Started     time.Time
	Finished    time.Time
}

// Action performs one step. A returned error is a fault which makes
// further work on the device pointless, see model.ErrDeviceUnavailable.
type Action func(ctx context.Context) (Result, error)

type Executor interface {
	Execute(ctx context.Context, description string, action Action) (Result, error)
	Mode() model.Mode
}

// New returns the Executor for a run mode. Unknown modes simulate.
func New(mode model.Mode, log Logger) Executor {
	if mode == model.ModeExecute {
		return Runner{log: log}
	}
	return Simulator{log: log}
}

type Simulator struct {
	log Logger
}

func (s Simulator) Mode() model.Mode {
	return model.ModeSimulate
}

func (s Simulator) Execute(ctx context.Context, description string, _ Action) (Result, error) {
	now := time.Now()
	s.log.Printf("[dry-run] would %s", description)
	slog.DebugContext(ctx, "simulated action", "action", description)
	return Result{
		Description: description,
		Simulated:   true,
		Status:      model.StatusCompleted,
		Started:     now,
		Finished:    now,
	}, nil
}

type Runner struct {
	log Logger
}

func (r Runner) Mode() model.Mode {
	return model.ModeExecute
}

func (r Runner) Execute(ctx context.Context, description string, action Action) (Result, error) {
	r.log.Printf("%s", description)
	started := time.Now()
	res, err := action(ctx)
	res.Description = description
	res.Simulated = false
	res.Started = started
	res.Finished = time.Now()
	if err != nil {
		r.log.Printf("%s: aborted: %v", description, err)
		slog.ErrorContext(ctx, "action aborted", "action", description, "error", err)
		return res, err
	}

	if res.Status == "" {
		res.Status = model.StatusCompleted
		if res.Err != nil {
			res.Status = model.StatusFailed
		}
	}
	r.log.Output(res.Output)
	if res.Err != nil {
		r.log.Printf("%s: %s: %v", description, res.Status, res.Err)
	} else {
		r.log.Printf("%s: %s", description, res.Status)
	}
	slog.DebugContext(ctx, "action finished",
		"action", description,
		"status", res.Status,
		"duration", res.Finished.Sub(res.Started).String(),
	)
	return res, nil
}
