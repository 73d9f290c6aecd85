package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/stage"
)

var planCmd = &cobra.Command{
	Use:   "plan <device>",
	Short: "print the stages a run would execute on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, p, err := openDevice(cmd.Context(), config, args[0], model.ModeSimulate)
		if err != nil {
			return err
		}
		plan, err := buildPlan(dev, p, "", flagPlan)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), p, plan)
		return nil
	},
}

func printPlan(w io.Writer, p model.Profile, plan []stage.Stage) {
	_, _ = fmt.Fprintf(w, "Plan for %s\n", p)
	warn := color.New(color.FgRed, color.Bold)
	for i, st := range plan {
		var note string
		switch {
		case !st.AppliesTo(p):
			note = color.New(color.Faint).Sprintf("skipped, not applicable to %s devices", p.Class)
		case st.Async():
			note = fmt.Sprintf("waits %s, then polls", st.Wait.Round(time.Minute))
		default:
			note = "runs to its end"
		}
		if st.Destructive && st.AppliesTo(p) {
			note += ", " + warn.Sprint("DESTROYS ALL DATA")
		}
		_, _ = fmt.Fprintf(w, "%d. %-20s %s\n", i+1, st.Name, note)
	}
}
