package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/burnin/internal/history"
)

var (
	flagLimit  int
	flagSerial string
)

func init() {
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of runs to show, 0 shows all")
	historyCmd.Flags().StringVar(&flagSerial, "serial", "", "show the runs of one device only")
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "list finished runs, newest first, or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config
		if cfg.History == "" {
			return errors.New("history is disabled: set history in " + configPath)
		}
		ctx := cmd.Context()
		db, err := history.InitDB(ctx, cfg.History)
		if err != nil {
			return err
		}
		defer func() {
			_ = db.Close()
		}()

		if len(args) == 1 {
			e, err := history.Get(ctx, db, args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			return printRun(cmd.OutOrStdout(), e)
		}
		entries, err := history.List(ctx, db, flagSerial, flagLimit)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), entries)
	},
}

// printRun shows one archived run with the details of every stage.
func printRun(w io.Writer, e history.Entry) error {
	_, _ = fmt.Fprintf(w, "Run:      %s\n", e.RunID)
	_, _ = fmt.Fprintf(w, "Device:   %s\n", e.Profile)
	_, _ = fmt.Fprintf(w, "Mode:     %s\n", e.Mode)
	_, _ = fmt.Fprintf(w, "Started:  %s\n", e.Started.Local().Format(time.DateTime))
	_, _ = fmt.Fprintf(w, "Duration: %s\n", e.Finished.Sub(e.Started).Round(time.Second))
	_, _ = fmt.Fprintf(w, "Log:      %s\n", e.LogPath)
	for _, st := range e.Stages {
		_, _ = fmt.Fprintf(w, "  %-20s %s (%s)", st.Name, statusColor(st.Status).Sprint(st.Status), st.Duration().Round(time.Second))
		if st.Detail != "" {
			_, _ = fmt.Fprintf(w, " %s", st.Detail)
		}
		_, _ = fmt.Fprintln(w)
	}
	if e.Aborted != "" {
		_, _ = fmt.Fprintf(w, "Aborted:  %s\n", e.Aborted)
	}
	_, err := fmt.Fprintf(w, "Result:   %s\n", result(e))
	return err
}

func printHistory(w io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tDEVICE\tSERIAL\tMODE\tDURATION\tSTAGES\tRESULT")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Started.Local().Format(time.DateTime),
			e.Device,
			e.Profile.Serial,
			e.Mode,
			e.Finished.Sub(e.Started).Round(time.Second),
			stages(e),
			result(e),
		)
	}
	return tw.Flush()
}

// result is the last column, tabwriter counts color escapes as width.
func result(e history.Entry) string {
	switch {
	case e.Aborted != "":
		return color.New(color.FgRed, color.Bold).Sprint("aborted")
	case e.Passed():
		return color.New(color.FgGreen).Sprint("passed")
	default:
		return color.New(color.FgRed).Sprint("failed")
	}
}

func stages(e history.Entry) string {
	var s string
	for i, st := range e.Stages {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%s", st.Name, st.Status)
	}
	return s
}
