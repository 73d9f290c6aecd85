package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CZERTAINLY/burnin/internal/executor"
	"github.com/CZERTAINLY/burnin/internal/log"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/poll"
	"github.com/CZERTAINLY/burnin/internal/stage"
)

var (
	// ErrRunAborted wraps the fault which stopped a run before the end of its
	// plan.
	ErrRunAborted = errors.New("run aborted")
	ErrEmptyPlan  = errors.New("empty plan")
)

// Log is the run log as the Supervisor sees it.
type Log interface {
	executor.Logger
	Header(format string, args ...any)
}

type Run struct {
	ID      string
	Profile model.Profile
	Plan    []stage.Stage
	Mode    model.Mode
}

type Supervisor struct {
	log  Log
	poll poll.Config
}

func NewSupervisor(sink Log, cfg poll.Config) *Supervisor {
	return &Supervisor{log: sink, poll: cfg}
}

// Do runs the plan of run to its end. The returned Outcome has an entry for
// every stage which was reached. When a fault stops the run, the partial
// Outcome is returned together with an error wrapping ErrRunAborted and the
// fault.
func (s *Supervisor) Do(ctx context.Context, run Run) (model.Outcome, error) {
	if len(run.Plan) == 0 {
		return model.Outcome{}, ErrEmptyPlan
	}
	ctx = log.WithRun(ctx, run.ID, run.Profile.Path)
	x := executor.New(run.Mode, s.log)

	out := model.Outcome{
		RunID:   run.ID,
		Device:  run.Profile.Path,
		Mode:    x.Mode(),
		Started: time.Now(),
	}
	s.log.Printf("Burn-in run %s of %s", run.ID, run.Profile)
	s.log.Printf("Mode: %s, plan: %s", x.Mode(), planNames(run.Plan))
	slog.InfoContext(ctx, "run started", "mode", x.Mode(), "stages", len(run.Plan))

	for _, st := range run.Plan {
		so, err := s.stage(ctx, x, run.Profile, st)
		out.Stages = append(out.Stages, so)
		if err != nil {
			out.Finished = time.Now()
			s.summary(ctx, out)
			return out, fmt.Errorf("%w: %s: %w", ErrRunAborted, st.Name, err)
		}
	}
	out.Finished = time.Now()
	s.summary(ctx, out)
	return out, nil
}

func (s *Supervisor) stage(ctx context.Context, x executor.Executor, p model.Profile, st stage.Stage) (model.StageOutcome, error) {
	ctx = log.ContextAttrs(ctx, slog.String("stage", st.Name))
	now := time.Now()
	if !st.AppliesTo(p) {
		detail := fmt.Sprintf("not applicable to %s devices", p.Class)
		s.log.Printf("Skipping %s: %s", st.Name, detail)
		slog.InfoContext(ctx, "stage skipped", "class", p.Class.String())
		return model.StageOutcome{
			Name:     st.Name,
			Status:   model.StatusSkipped,
			Started:  now,
			Finished: now,
			Detail:   detail,
		}, nil
	}

	s.log.Header("Starting %s", st.Name)
	so := model.StageOutcome{Name: st.Name, Started: now, Status: model.StatusCompleted}
	var results []executor.Result

	end := func(err error) (model.StageOutcome, error) {
		so.Finished = time.Now()
		so.Simulated = len(results) > 0
		var details []string
		for _, r := range results {
			so.Simulated = so.Simulated && r.Simulated
			if worse(r.Status, so.Status) {
				so.Status = r.Status
			}
			if r.Err != nil {
				details = append(details, r.Err.Error())
			}
		}
		if err != nil {
			so.Status = model.StatusFailed
			details = append(details, "aborted: "+err.Error())
			s.log.Printf("%s aborted: %v", st.Name, err)
		} else {
			s.log.Printf("%s finished: %s", st.Name, so.Status)
		}
		so.Detail = strings.Join(details, "; ")
		slog.InfoContext(ctx, "stage finished",
			"status", so.Status,
			"simulated", so.Simulated,
			"duration", so.Duration().String(),
		)
		return so, err
	}

	res, err := x.Execute(ctx, fmt.Sprintf("start %s on %s", st.Name, p.Path), st.Start)
	results = append(results, res)
	if err != nil {
		return end(err)
	}

	if st.Async() {
		if res.Status == model.StatusFailed {
			s.log.Printf("Not waiting for %s, it did not start", st.Name)
		} else {
			res, err = x.Execute(ctx, s.describeWait(st), s.wait(st))
			results = append(results, res)
			if err != nil {
				return end(err)
			}
		}
	}

	// evidence is collected after failures and timeouts too
	res, err = x.Execute(ctx, fmt.Sprintf("collect %s results", st.Name), st.Harvest)
	results = append(results, res)
	return end(err)
}

// wait sleeps for the duration the device announced, then polls until the
// operation ends or the poll timeout runs out.
func (s *Supervisor) wait(st stage.Stage) executor.Action {
	return func(ctx context.Context) (executor.Result, error) {
		if err := poll.Sleep(ctx, st.Wait); err != nil {
			return executor.Result{}, err
		}
		pr, err := poll.Await(ctx, st.Poll, s.poll)
		if err != nil {
			return executor.Result{Output: pr.String()}, err
		}
		res := executor.Result{Output: pr.String()}
		switch pr.Outcome {
		case poll.OutcomeFailed:
			res.Status = model.StatusFailed
			res.Err = fmt.Errorf("%s reported failure", st.Name)
		case poll.OutcomeTimedOut:
			res.Status = model.StatusTimedOut
			res.Err = fmt.Errorf("%s did not finish within %s", st.Name, pr.Elapsed)
		}
		return res, nil
	}
}

func (s *Supervisor) describeWait(st stage.Stage) string {
	interval, timeout := s.poll.Interval, s.poll.Timeout
	if interval <= 0 {
		interval = poll.DefaultInterval
	}
	if timeout <= 0 {
		timeout = poll.DefaultTimeout
	}
	return fmt.Sprintf("wait %s for %s, then poll every %s for up to %s", st.Wait, st.Name, interval, timeout)
}

func (s *Supervisor) summary(ctx context.Context, out model.Outcome) {
	s.log.Printf("Summary of run %s (%s):", out.RunID, out.Mode)
	for _, so := range out.Stages {
		if so.Detail != "" {
			s.log.Printf("  %s: %s (%s) %s", so.Name, so.Status, so.Duration().Round(time.Second), so.Detail)
		} else {
			s.log.Printf("  %s: %s (%s)", so.Name, so.Status, so.Duration().Round(time.Second))
		}
	}
	slog.InfoContext(ctx, "run finished",
		"completed", out.Count(model.StatusCompleted),
		"failed", out.Count(model.StatusFailed),
		"timed_out", out.Count(model.StatusTimedOut),
		"skipped", out.Count(model.StatusSkipped),
	)
}

func planNames(plan []stage.Stage) string {
	names := make([]string, len(plan))
	for i, st := range plan {
		names[i] = st.Name
	}
	return strings.Join(names, ", ")
}

// worse orders stage statuses, a failure outranks a timeout.
func worse(a, b model.Status) bool {
	rank := func(s model.Status) int {
		switch s {
		case model.StatusFailed:
			return 2
		case model.StatusTimedOut:
			return 1
		}
		return 0
	}
	return rank(a) > rank(b)
}
