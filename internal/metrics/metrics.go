// Package metrics exports the outcome of a run for the node_exporter textfile
// collector, so burn-in results of a fleet end up next to its other metrics.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CZERTAINLY/burnin/internal/model"
)

var statuses = []model.Status{
	model.StatusCompleted,
	model.StatusSkipped,
	model.StatusFailed,
	model.StatusTimedOut,
}

// Registry returns the metrics of a single run.
func Registry(p model.Profile, out model.Outcome, exitCode int) *prometheus.Registry {
	device := prometheus.Labels{"device": p.Path, "serial": p.Serial, "model": p.Model}

	finished := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burnin_run_finished_timestamp_seconds",
		Help: "Time the last burn-in run of the device finished.",
	}, []string{"device", "serial", "model", "mode"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burnin_run_duration_seconds",
		Help: "Duration of the last burn-in run of the device.",
	}, []string{"device", "serial", "model", "mode"})
	exit := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burnin_run_exit_code",
		Help: "Exit code of the last burn-in run, 0 when every stage passed.",
	}, []string{"device", "serial", "model", "mode"})
	stage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burnin_stage_status",
		Help: "Status of each stage of the last burn-in run, 1 for the status the stage ended in.",
	}, []string{"device", "serial", "index", "stage", "status"})
	stageDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "burnin_stage_duration_seconds",
		Help: "Duration of each stage of the last burn-in run.",
	}, []string{"device", "serial", "index", "stage"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(finished, duration, exit, stage, stageDuration)

	run := prometheus.Labels{"mode": string(out.Mode)}
	for k, v := range device {
		run[k] = v
	}
	finished.With(run).Set(float64(out.Finished.UnixMilli()) / 1e3)
	duration.With(run).Set(out.Finished.Sub(out.Started).Seconds())
	exit.With(run).Set(float64(exitCode))

	for i, s := range out.Stages {
		idx := strconv.Itoa(i)
		for _, st := range statuses {
			v := 0.0
			if s.Status == st {
				v = 1
			}
			stage.WithLabelValues(p.Path, p.Serial, idx, s.Name, string(st)).Set(v)
		}
		stageDuration.WithLabelValues(p.Path, p.Serial, idx, s.Name).Set(s.Duration().Seconds())
	}
	return reg
}

// Write replaces the textfile at path with the metrics of a run.
func Write(path string, p model.Profile, out model.Outcome, exitCode int) error {
	if err := prometheus.WriteToTextfile(path, Registry(p, out, exitCode)); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
