package executor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/CZERTAINLY/burnin/internal/executor"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/runlog"
	"github.com/stretchr/testify/require"
)

func newSink(t *testing.T) (*runlog.Sink, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	sink := runlog.New(&buf, runlog.WithConsole(nil))
	t.Cleanup(func() { _ = sink.Close() })
	return sink, &buf
}

func TestNew(t *testing.T) {
	t.Parallel()
	sink, _ := newSink(t)
	require.Equal(t, model.ModeExecute, executor.New(model.ModeExecute, sink).Mode())
	require.Equal(t, model.ModeSimulate, executor.New(model.ModeSimulate, sink).Mode())
	require.Equal(t, model.ModeSimulate, executor.New("bogus", sink).Mode())
}

func TestSimulator(t *testing.T) {
	t.Parallel()
	sink, buf := newSink(t)
	x := executor.New(model.ModeSimulate, sink)

	var called bool
	res, err := x.Execute(t.Context(), "run badblocks on /dev/sdb", func(context.Context) (executor.Result, error) {
		called = true
		return executor.Result{}, errors.New("must not run")
	})
	require.NoError(t, err)
	require.False(t, called)
	require.True(t, res.Simulated)
	require.Equal(t, model.StatusCompleted, res.Status)
	require.Equal(t, "run badblocks on /dev/sdb", res.Description)
	require.Contains(t, buf.String(), "[dry-run] would run badblocks on /dev/sdb")
}

func TestRunner(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		action   executor.Action
		status   model.Status
		fault    bool
		log      []string
	}{
		{
			"success",
			func(context.Context) (executor.Result, error) {
				return executor.Result{Output: "Testing has begun."}, nil
			},
			model.StatusCompleted,
			false,
			[]string{"    Testing has begun.", "start: completed"},
		},
		{
			"soft failure",
			func(context.Context) (executor.Result, error) {
				return executor.Result{Err: errors.New("exit status 4")}, nil
			},
			model.StatusFailed,
			false,
			[]string{"start: failed: exit status 4"},
		},
		{
			"explicit status",
			func(context.Context) (executor.Result, error) {
				return executor.Result{Status: model.StatusTimedOut}, nil
			},
			model.StatusTimedOut,
			false,
			[]string{"start: timed-out"},
		},
		{
			"fault",
			func(context.Context) (executor.Result, error) {
				return executor.Result{}, fmt.Errorf("smartctl: %w", model.ErrDeviceUnavailable)
			},
			"",
			true,
			[]string{"start: aborted: smartctl: device unavailable"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			sink, buf := newSink(t)
			x := executor.New(model.ModeExecute, sink)
			res, err := x.Execute(t.Context(), "start", tc.action)
			if tc.fault {
				require.ErrorIs(t, err, model.ErrDeviceUnavailable)
			} else {
				require.NoError(t, err)
			}
			require.False(t, res.Simulated)
			require.Equal(t, tc.status, res.Status)
			require.False(t, res.Finished.Before(res.Started))
			for _, l := range tc.log {
				require.Contains(t, buf.String(), l)
			}
		})
	}
}
