package stage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/poll"
	"github.com/CZERTAINLY/burnin/internal/stage"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	calls   []string
	startFn func(model.SelfTest) (string, error)
	scanErr error
}

func (d *fakeDevice) StartSelfTest(_ context.Context, kind model.SelfTest) (string, error) {
	d.calls = append(d.calls, "start "+string(kind))
	if d.startFn != nil {
		return d.startFn(kind)
	}
	return "Testing has begun.", nil
}

func (d *fakeDevice) SelfTestStatus(context.Context) (poll.Status, error) {
	d.calls = append(d.calls, "status")
	return poll.Succeeded, nil
}

func (d *fakeDevice) SelfTestLog(context.Context) (string, error) {
	d.calls = append(d.calls, "log")
	return "# 1  Short offline  Completed without error", nil
}

func (d *fakeDevice) SurfaceScan(_ context.Context, reportPath string) (string, error) {
	d.calls = append(d.calls, "scan "+reportPath)
	return "Pass completed, 0 bad blocks found.", d.scanErr
}

func (d *fakeDevice) ScanReport(_ context.Context, reportPath string) (string, error) {
	d.calls = append(d.calls, "report "+reportPath)
	return "0 bad blocks", nil
}

var (
	hdd = model.Profile{Path: "/dev/sdb", Class: model.ClassMechanical, ShortMinutes: 2, ExtendedMinutes: 90}
	ssd = model.Profile{Path: "/dev/nvme0n1", Class: model.ClassSolidState, ShortMinutes: 1, ExtendedMinutes: 60}
)

func TestWaitFor(t *testing.T) {
	t.Parallel()
	require.Equal(t, 5400*time.Second, stage.WaitFor(90))
	require.Equal(t, 2*time.Minute, stage.WaitFor(2))
	require.Zero(t, stage.WaitFor(0))
	require.Zero(t, stage.WaitFor(-5))
}

func TestDefaultPlan(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	plan := stage.DefaultPlan(dev, hdd, "/tmp/r.badblocks.txt")

	var names []string
	for _, s := range plan {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{stage.NameShort, stage.NameScan, stage.NameExtended}, names)

	short, scan, extended := plan[0], plan[1], plan[2]
	require.True(t, short.Async())
	require.False(t, short.Destructive)
	require.Equal(t, 2*time.Minute, short.Wait)

	require.False(t, scan.Async())
	require.True(t, scan.Destructive)
	require.Zero(t, scan.Wait)

	require.True(t, extended.Async())
	require.Equal(t, 90*time.Minute, extended.Wait)

	// nothing touched the device while building the plan
	require.Empty(t, dev.calls)
}

func TestApplicability(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}

	var testCases = []struct {
		scenario string
		profile  model.Profile
		scan     bool
	}{
		{"mechanical", hdd, true},
		{"solid-state", ssd, false},
		{"unreported class", model.Profile{Path: "/dev/sdc"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			plan := stage.DefaultPlan(dev, tc.profile, "r")
			require.True(t, plan[0].AppliesTo(tc.profile))
			require.Equal(t, tc.scan, plan[1].AppliesTo(tc.profile))
			require.True(t, plan[2].AppliesTo(tc.profile))
			require.Equal(t, tc.scan, stage.Destructive(plan, tc.profile))
		})
	}
}

func TestParsePlan(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}

	t.Run("duplicates and aliases", func(t *testing.T) {
		plan, err := stage.ParsePlan([]string{"short", " LONG ", "short", "badblocks"}, dev, hdd, "r")
		require.NoError(t, err)
		var names []string
		for _, s := range plan {
			names = append(names, s.Name)
		}
		require.Equal(t, []string{stage.NameShort, stage.NameExtended, stage.NameShort, stage.NameScan}, names)
	})

	t.Run("self-tests only are not destructive", func(t *testing.T) {
		plan, err := stage.ParsePlan([]string{"short", "extended"}, dev, hdd, "r")
		require.NoError(t, err)
		require.False(t, stage.Destructive(plan, hdd))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := stage.ParsePlan([]string{"short", "smart"}, dev, hdd, "r")
		require.EqualError(t, err, `unknown stage "smart": expected short, scan or extended`)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := stage.ParsePlan(nil, dev, hdd, "r")
		require.Error(t, err)
	})
}

func TestActions(t *testing.T) {
	t.Parallel()

	t.Run("self-test", func(t *testing.T) {
		dev := &fakeDevice{}
		s := stage.ExtendedSelfTest(dev, hdd)

		res, err := s.Start(t.Context())
		require.NoError(t, err)
		require.NoError(t, res.Err)
		require.Equal(t, "Testing has begun.", res.Output)

		st, err := s.Poll.Status(t.Context())
		require.NoError(t, err)
		require.Equal(t, poll.Succeeded, st)

		res, err = s.Harvest(t.Context())
		require.NoError(t, err)
		require.Contains(t, res.Output, "Completed without error")
		require.Equal(t, []string{"start long", "status", "log"}, dev.calls)
	})

	t.Run("scan uses the report path", func(t *testing.T) {
		dev := &fakeDevice{}
		s := stage.SurfaceScan(dev, "/var/log/burnin/x.badblocks.txt")
		_, err := s.Start(t.Context())
		require.NoError(t, err)
		_, err = s.Harvest(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{
			"scan /var/log/burnin/x.badblocks.txt",
			"report /var/log/burnin/x.badblocks.txt",
		}, dev.calls)
	})

	t.Run("tool failure is soft", func(t *testing.T) {
		dev := &fakeDevice{scanErr: errors.New("exit status 1")}
		res, err := stage.SurfaceScan(dev, "r").Start(t.Context())
		require.NoError(t, err)
		require.EqualError(t, res.Err, "exit status 1")
		require.Equal(t, "Pass completed, 0 bad blocks found.", res.Output)
	})

	t.Run("vanished device is a fault", func(t *testing.T) {
		dev := &fakeDevice{startFn: func(model.SelfTest) (string, error) {
			return "", fmt.Errorf("smartctl: %w", model.ErrDeviceUnavailable)
		}}
		_, err := stage.ShortSelfTest(dev, hdd).Start(t.Context())
		require.ErrorIs(t, err, model.ErrDeviceUnavailable)
	})

	t.Run("cancelled run is a fault", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		dev := &fakeDevice{startFn: func(model.SelfTest) (string, error) {
			return "", errors.New("signal: killed")
		}}
		_, err := stage.ShortSelfTest(dev, hdd).Start(ctx)
		require.Error(t, err)
	})
}

func TestFatal(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	require.True(t, stage.Fatal(ctx, model.ErrDeviceUnavailable))
	require.True(t, stage.Fatal(ctx, fmt.Errorf("x: %w", context.Canceled)))
	require.False(t, stage.Fatal(ctx, errors.New("exit status 4")))
	require.False(t, stage.Fatal(ctx, model.ErrBinaryNotFound))
}
