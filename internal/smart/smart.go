// Package smart drives the vendor self-tests of a disk through smartctl.
package smart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/CZERTAINLY/burnin/internal/command"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/poll"
)

// smartctl exit status bits, see smartctl(8).
const (
	exitParse       = 1 << 0
	exitOpen        = 1 << 1
	exitCommand     = 1 << 2
	exitFailing     = 1 << 3
	exitSelfTestLog = 1 << 7
)

type Drive struct {
	path    string
	bin     string
	timeout time.Duration
	runner  *command.Runner
	nvme    bool
	status  poll.Query
}

func New(path string, cfg model.Config, runner *command.Runner) *Drive {
	if runner == nil {
		runner = command.NewRunner()
	}
	bin := cfg.Smartctl
	if bin == "" {
		bin = model.DefaultSmartctl
	}
	d := &Drive{
		path:    path,
		bin:     bin,
		timeout: cfg.CommandTimeout,
		runner:  runner,
	}
	d.status = poll.Match(d.readSelfTest, succeeded, failed)
	return d
}

// Resolve queries identity and capabilities of the device. Values the device
// does not report are left at their defaults: zero durations and the
// mechanical class.
func (d *Drive) Resolve(ctx context.Context) (model.Profile, error) {
	res, err := d.run(ctx, "--json", "-i", "-c", d.path)
	if err != nil {
		return model.Profile{}, err
	}
	r, err := parse(res.Stdout.Bytes())
	if err != nil {
		slog.WarnContext(ctx, "cannot parse device capabilities: using defaults", "device", d.path, "error", err)
		return model.Profile{Path: d.path}, nil
	}
	for _, m := range r.Smartctl.Messages {
		slog.DebugContext(ctx, "smartctl", "severity", m.Severity, "message", m.String)
	}
	d.nvme = r.nvme()
	p := r.profile(d.path)
	if r.RotationRate == nil && !d.nvme {
		slog.InfoContext(ctx, "rotation rate not reported: assuming mechanical", "device", d.path)
	}
	return p, nil
}

// StartSelfTest starts a self-test in the background and returns what
// smartctl printed.
func (d *Drive) StartSelfTest(ctx context.Context, kind model.SelfTest) (string, error) {
	res, err := d.run(ctx, "-t", string(kind), d.path)
	out := res.Stdout.String()
	if err != nil {
		return out, err
	}
	if res.ExitCode&exitCommand != 0 {
		return out, fmt.Errorf("smartctl could not start the %s self-test (exit status %d)", kind, res.ExitCode)
	}
	return out, nil
}

// SelfTestStatus reports the state of the running self-test. A status which
// cannot be read counts as pending, the poller timeout bounds the wait. Only
// a device which cannot be opened any more is an error.
func (d *Drive) SelfTestStatus(ctx context.Context) (poll.Status, error) {
	st, err := d.status.Status(ctx)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, model.ErrDeviceUnavailable) || ctx.Err() != nil {
		return poll.Pending, err
	}
	slog.WarnContext(ctx, "reading self-test status failed: polling on", "device", d.path, "error", err)
	return poll.Pending, nil
}

// SelfTestLog returns the self-test log of the device as text.
func (d *Drive) SelfTestLog(ctx context.Context) (string, error) {
	res, err := d.run(ctx, "-l", "selftest", d.path)
	if err != nil {
		return res.Stdout.String(), err
	}
	if res.ExitCode&exitSelfTestLog != 0 {
		slog.InfoContext(ctx, "self-test log contains errors", "device", d.path)
	}
	return res.Stdout.String(), nil
}

func (d *Drive) readSelfTest(ctx context.Context) (selfTest, error) {
	args := []string{"--json", "-c", d.path}
	if d.nvme {
		args = []string{"--json", "-c", "-l", "selftest", d.path}
	}
	res, err := d.run(ctx, args...)
	if err != nil {
		return selfTest{}, err
	}
	r, err := parse(res.Stdout.Bytes())
	if err != nil {
		return selfTest{}, err
	}
	st := r.selfTest()
	slog.DebugContext(ctx, "self-test status", "device", d.path, "running", st.running, "status", st.text)
	return st, nil
}

// run executes smartctl. Non-zero exit statuses are mostly informational,
// only a failed parse of the command line and a device which cannot be
// opened are errors here.
func (d *Drive) run(ctx context.Context, args ...string) (command.Result, error) {
	cmd := command.Command{
		Path:    d.bin,
		Args:    args,
		Env:     []string{"LC_ALL=C"},
		Timeout: d.timeout,
	}
	res, err := d.runner.Run(ctx, cmd)
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return res, fmt.Errorf("%s: %w", d.bin, model.ErrBinaryNotFound)
	case err != nil:
		return res, fmt.Errorf("starting %s: %w", cmd, err)
	case ctx.Err() != nil:
		return res, ctx.Err()
	case res.TimedOut:
		return res, fmt.Errorf("%s timed out after %s", cmd, d.timeout)
	case res.ExitCode < 0:
		return res, fmt.Errorf("%s: %w", cmd, res.Err)
	case res.ExitCode&exitOpen != 0:
		return res, fmt.Errorf("%s: %s: %w", cmd, firstLine(res), model.ErrDeviceUnavailable)
	case res.ExitCode&exitParse != 0:
		return res, fmt.Errorf("%s: command line did not parse: %s", cmd, firstLine(res))
	}
	if res.ExitCode&exitFailing != 0 {
		slog.WarnContext(ctx, "SMART status reports a failing disk", "device", d.path)
	}
	return res, nil
}

// firstLine picks the message to report from a failed smartctl run.
func firstLine(res command.Result) string {
	if r, err := parse(res.Stdout.Bytes()); err == nil && len(r.Smartctl.Messages) > 0 {
		return r.Smartctl.Messages[0].String
	}
	for _, s := range []string{res.Stderr.String(), res.Stdout.String()} {
		for l := range strings.Lines(s) {
			if l = strings.TrimSpace(l); l != "" {
				return l
			}
		}
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}
