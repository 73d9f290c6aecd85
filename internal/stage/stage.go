// Package stage defines the units of a burn-in plan.
//
// A Stage knows whether it applies to a device, how to start, how long to
// wait before polling, how to poll and how to collect its results. Stages
// hold no state, the orchestrator drives them through an Executor.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CZERTAINLY/burnin/internal/executor"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/poll"
)

const (
	NameShort    = "short self-test"
	NameScan     = "surface scan"
	NameExtended = "extended self-test"
)

// Device is everything the stages do with a disk.
type Device interface {
	StartSelfTest(ctx context.Context, kind model.SelfTest) (string, error)
	SelfTestStatus(ctx context.Context) (poll.Status, error)
	SelfTestLog(ctx context.Context) (string, error)
	SurfaceScan(ctx context.Context, reportPath string) (string, error)
	ScanReport(ctx context.Context, reportPath string) (string, error)
}

type Stage struct {
	Name        string
	Destructive bool
	// Applicable is nil for stages which apply to every device.
	Applicable func(model.Profile) bool
	Start      executor.Action
	// Wait is slept before the first status query.
	Wait time.Duration
	// Poll is nil for stages which are done once Start returns.
	Poll    poll.Query
	Harvest executor.Action
}

func (s Stage) AppliesTo(p model.Profile) bool {
	return s.Applicable == nil || s.Applicable(p)
}

func (s Stage) Async() bool {
	return s.Poll != nil
}

// Mechanical is true for rotating media only.
func Mechanical(p model.Profile) bool {
	return p.Class == model.ClassMechanical
}

// WaitFor converts a reported self-test duration into the wait before
// polling. Unreported durations are zero.
func WaitFor(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

func ShortSelfTest(dev Device, p model.Profile) Stage {
	return selfTest(NameShort, model.SelfTestShort, dev, p)
}

func ExtendedSelfTest(dev Device, p model.Profile) Stage {
	return selfTest(NameExtended, model.SelfTestExtended, dev, p)
}

func selfTest(name string, kind model.SelfTest, dev Device, p model.Profile) Stage {
	return Stage{
		Name: name,
		Start: deviceAction(func(ctx context.Context) (string, error) {
			return dev.StartSelfTest(ctx, kind)
		}),
		Wait:    WaitFor(p.Minutes(kind)),
		Poll:    poll.QueryFunc(dev.SelfTestStatus),
		Harvest: deviceAction(dev.SelfTestLog),
	}
}

// SurfaceScan destroys all data on the device. Bad blocks are written to
// reportPath.
func SurfaceScan(dev Device, reportPath string) Stage {
	return Stage{
		Name:        NameScan,
		Destructive: true,
		Applicable:  Mechanical,
		Start: deviceAction(func(ctx context.Context) (string, error) {
			return dev.SurfaceScan(ctx, reportPath)
		}),
		Harvest: deviceAction(func(ctx context.Context) (string, error) {
			return dev.ScanReport(ctx, reportPath)
		}),
	}
}

// DefaultPlan runs the cheap self-test first, so gross failures show up
// before a scan which may take days.
func DefaultPlan(dev Device, p model.Profile, reportPath string) []Stage {
	return []Stage{
		ShortSelfTest(dev, p),
		SurfaceScan(dev, reportPath),
		ExtendedSelfTest(dev, p),
	}
}

// ParsePlan builds a plan from stage names: short, scan and extended.
// Names may repeat.
func ParsePlan(names []string, dev Device, p model.Profile, reportPath string) ([]Stage, error) {
	if len(names) == 0 {
		return nil, errors.New("empty plan")
	}
	plan := make([]Stage, 0, len(names))
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "short":
			plan = append(plan, ShortSelfTest(dev, p))
		case "scan", "badblocks":
			plan = append(plan, SurfaceScan(dev, reportPath))
		case "extended", "long":
			plan = append(plan, ExtendedSelfTest(dev, p))
		default:
			return nil, fmt.Errorf("unknown stage %q: expected short, scan or extended", n)
		}
	}
	return plan, nil
}

// Destructive reports whether any stage of plan which applies to p destroys
// data.
func Destructive(plan []Stage, p model.Profile) bool {
	for _, s := range plan {
		if s.Destructive && s.AppliesTo(p) {
			return true
		}
	}
	return false
}

// deviceAction adapts a device call to an executor.Action. Device errors are
// failures of the stage, except for a vanished device or a cancelled run.
func deviceAction(f func(context.Context) (string, error)) executor.Action {
	return func(ctx context.Context) (executor.Result, error) {
		out, err := f(ctx)
		if err != nil && Fatal(ctx, err) {
			return executor.Result{Output: out}, err
		}
		return executor.Result{Output: out, Err: err}, nil
	}
}

// Fatal reports errors which end a run.
func Fatal(ctx context.Context, err error) bool {
	return errors.Is(err, model.ErrDeviceUnavailable) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil
}
