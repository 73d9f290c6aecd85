package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/burnin/internal/badblocks"
	"github.com/CZERTAINLY/burnin/internal/history"
	"github.com/CZERTAINLY/burnin/internal/log"
	"github.com/CZERTAINLY/burnin/internal/metrics"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/poll"
	"github.com/CZERTAINLY/burnin/internal/runlog"
	"github.com/CZERTAINLY/burnin/internal/service"
	"github.com/CZERTAINLY/burnin/internal/stage"
)

var errNotConfirmed = errors.New("destructive plan not confirmed")

var (
	flagDryRun bool
	flagYes    bool
	flagPlan   []string
)

func init() {
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log what would be done, touch nothing")
	runCmd.Flags().BoolVar(&flagYes, "yes", false, "confirm the surface scan, which destroys all data on the device")
	runCmd.Flags().StringSliceVar(&flagPlan, "plan", nil, "comma separated stages: short, scan, extended (default all three)")
	planCmd.Flags().StringSliceVar(&flagPlan, "plan", nil, "comma separated stages: short, scan, extended (default all three)")
}

var runCmd = &cobra.Command{
	Use:   "run <device>",
	Short: "run the burn-in plan against a device",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

func doRun(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	cfg := config
	attrs := slog.Group("burnin",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	mode := model.ModeExecute
	if flagDryRun {
		mode = model.ModeSimulate
	}

	dev, p, err := openDevice(ctx, cfg, args[0], mode)
	if err != nil {
		return err
	}

	started := time.Now()
	logFile := logPath(cfg.LogDir, p, started)
	plan, err := buildPlan(dev, p, reportPath(logFile), flagPlan)
	if err != nil {
		return err
	}
	if mode == model.ModeExecute && stage.Destructive(plan, p) && !flagYes {
		return fmt.Errorf("%w: the surface scan destroys all data on %s, pass --yes to go on or --dry-run to simulate", errNotConfirmed, p)
	}

	sink, err := runlog.Open(logFile, runlog.WithConsole(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			slog.ErrorContext(ctx, "closing run log failed", "path", logFile, "error", cerr)
		}
		if werr := sink.Err(); werr != nil {
			slog.ErrorContext(ctx, "writing run log failed", "path", logFile, "error", werr)
		}
		if ferr := runlog.FilterFile(logFile); ferr != nil {
			slog.WarnContext(ctx, "filtering run log failed", "path", logFile, "error", ferr)
		}
	}()
	dev.Scanner = badblocks.New(p.Path, cfg, sink)

	run := service.Run{
		ID:      uuid.NewString(),
		Profile: p,
		Plan:    plan,
		Mode:    mode,
	}
	supervisor := service.NewSupervisor(sink, poll.Config{
		Interval: cfg.Poll.Interval,
		Timeout:  cfg.Poll.Timeout,
	})
	out, runErr := supervisor.Do(ctx, run)

	entry := history.Entry{Outcome: out, Profile: p, LogPath: logFile}
	if runErr != nil {
		entry.Aborted = runErr.Error()
	}
	// results are archived even when a signal ended the run
	archive(context.WithoutCancel(ctx), cfg, entry)

	w := cmd.OutOrStdout()
	printSummary(w, entry)
	_, _ = fmt.Fprintf(w, "Log: %s\n", logFile)

	if runErr != nil {
		return runErr
	}
	if !out.Passed() {
		return stagesFailedError{
			failed:   out.Count(model.StatusFailed),
			timedOut: out.Count(model.StatusTimedOut),
		}
	}
	return nil
}

// archive records a finished run in the history database and in the metrics
// textfile, both when configured. Failures are logged, the run itself is over.
func archive(ctx context.Context, cfg model.Config, e history.Entry) {
	if cfg.History != "" {
		if err := recordHistory(ctx, cfg.History, e); err != nil {
			slog.WarnContext(ctx, "recording run history failed", "path", cfg.History, "error", err)
		}
	}
	if cfg.Metrics != "" {
		if err := metrics.Write(cfg.Metrics, e.Profile, e.Outcome, e.ExitCode()); err != nil {
			slog.WarnContext(ctx, "exporting metrics failed", "path", cfg.Metrics, "error", err)
		}
	}
}

func recordHistory(ctx context.Context, path string, e history.Entry) error {
	db, err := history.InitDB(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()
	return history.Record(ctx, db, e)
}

func statusColor(s model.Status) *color.Color {
	switch s {
	case model.StatusCompleted:
		return color.New(color.FgGreen)
	case model.StatusFailed:
		return color.New(color.FgRed, color.Bold)
	case model.StatusTimedOut:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Faint)
	}
}

func printSummary(w io.Writer, e history.Entry) {
	for _, s := range e.Stages {
		status := statusColor(s.Status).Sprint(s.Status)
		if s.Simulated {
			status += " (simulated)"
		}
		_, _ = fmt.Fprintf(w, "%-20s %s\n", s.Name, status)
	}
	switch {
	case e.Aborted != "":
		_, _ = fmt.Fprintf(w, "Result: %s\n", color.New(color.FgRed, color.Bold).Sprint("ABORTED ", e.Aborted))
	case e.Passed():
		_, _ = fmt.Fprintf(w, "Result: %s\n", color.New(color.FgGreen, color.Bold).Sprint("PASSED"))
	default:
		_, _ = fmt.Fprintf(w, "Result: %s\n", color.New(color.FgRed, color.Bold).Sprint("FAILED"))
	}
}
