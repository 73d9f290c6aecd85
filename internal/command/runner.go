// Package command runs external diagnostic tools.
//
// Runner is a thin wrapper around os/exec:
//   - runs the process to completion under an optional timeout
//   - captures stdout and stderr
//   - optionally hands every output line to a callback while the
//     process runs (two pumping goroutines)
//
// A non-zero exit status is not an error of Run, it is reported in Result.
// Run returns an error only when the process could not be started at all.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// waitDelay bounds how long Wait waits for the process to exit after the
// context is done.
const waitDelay = 5 * time.Second

// LineFunc receives a single output line without the line terminator.
type LineFunc func(ctx context.Context, line string)

type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	TimedOut bool
	Stdout   *bytes.Buffer
	Stderr   *bytes.Buffer
	Err      error
}

// Failed reports a non-zero exit or any other failure after start.
func (r Result) Failed() bool {
	return r.Err != nil
}

type Runner struct {
	stdout LineFunc
	stderr LineFunc
}

type Option func(*Runner)

func WithStdout(f LineFunc) Option {
	return func(r *Runner) {
		r.stdout = f
	}
}

func WithStderr(f LineFunc) Option {
	return func(r *Runner) {
		r.stderr = f
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the command and waits for it to finish.
func (r *Runner) Run(ctx context.Context, proto Command) (Result, error) {
	result := Result{
		Path:   proto.Path,
		Args:   append([]string(nil), proto.Args...),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}

	if proto.Timeout == 0 {
		slog.DebugContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	if len(proto.Env) > 0 {
		cmd.Env = append(cmd.Environ(), proto.Env...)
	}
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return result, err
	}

	slog.DebugContext(ctx, "running command", "cmd", proto.String())
	result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		result.Stopped = time.Now().UTC()
		result.Err = err
		return result, err
	}

	var g errgroup.Group
	g.Go(func() error {
		return pump(ctx, stdout, result.Stdout, r.stdout)
	})
	g.Go(func() error {
		return pump(ctx, stderr, result.Stderr, r.stderr)
	})
	pumpErr := g.Wait()

	err = cmd.Wait()
	result.Stopped = time.Now().UTC()
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
	}
	switch {
	case err != nil:
		result.Err = err
	case pumpErr != nil:
		result.Err = fmt.Errorf("reading output: %w", pumpErr)
	}
	return result, nil
}

func pump(ctx context.Context, r io.Reader, buf *bytes.Buffer, f LineFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLines)
	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if f != nil {
			f(ctx, line)
		}
	}
	err := sc.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// scanLines splits on \n, on \r and on runs of \b, so progress meters which
// rewrite a line in place are delivered as they update.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	i := bytes.IndexAny(data, "\r\n\b")
	if i < 0 {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	j := i + 1
	switch data[i] {
	case '\r':
		if j == len(data) && !atEOF {
			// might be the first half of \r\n
			return 0, nil, nil
		}
		if j < len(data) && data[j] == '\n' {
			j++
		}
	case '\b':
		for j < len(data) && data[j] == '\b' {
			j++
		}
		if j == len(data) && !atEOF {
			return 0, nil, nil
		}
		if i == 0 {
			// backspaces after a line terminator
			return j, nil, nil
		}
	}
	return j, data[:i], nil
}
