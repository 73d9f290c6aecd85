// Package badblocks runs the destructive surface scan of a disk.
//
// The scan overwrites every block with test patterns and reads them back.
// Blocks which do not read back are written to a report file, one block
// number per line.
package badblocks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/burnin/internal/blockdev"
	"github.com/CZERTAINLY/burnin/internal/command"
	"github.com/CZERTAINLY/burnin/internal/model"
)

// DefaultProgressInterval is how often scan progress reaches the run log.
const DefaultProgressInterval = 5 * time.Minute

// maxListed bounds the bad blocks printed by ScanReport.
const maxListed = 20

// Logger receives progress lines while the scan runs.
type Logger interface {
	Printf(format string, args ...any)
}

type Scanner struct {
	path      string
	bin       string
	blockSize int
	log       Logger
	every     time.Duration
	now       func() time.Time
	present   func(string) bool
}

type Option func(*Scanner)

func WithProgressInterval(d time.Duration) Option {
	return func(s *Scanner) {
		s.every = d
	}
}

// WithPresence replaces the check used to tell a vanished device from a
// failed scan.
func WithPresence(f func(path string) bool) Option {
	return func(s *Scanner) {
		s.present = f
	}
}

func New(path string, cfg model.Config, log Logger, opts ...Option) *Scanner {
	s := &Scanner{
		path:      path,
		bin:       cfg.Badblocks,
		blockSize: cfg.BlockSize,
		log:       log,
		every:     DefaultProgressInterval,
		now:       time.Now,
		present:   blockdev.Present,
	}
	if s.bin == "" {
		s.bin = model.DefaultBadblocks
	}
	if s.blockSize <= 0 {
		s.blockSize = model.DefaultBlockSize
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Command is the scan which SurfaceScan runs.
func (s *Scanner) Command(reportPath string) command.Command {
	return command.Command{
		Path: s.bin,
		Args: []string{"-b", strconv.Itoa(s.blockSize), "-wsv", "-o", reportPath, s.path},
		Env:  []string{"LC_ALL=C"},
	}
}

// SurfaceScan runs the scan to its end, which takes days on large disks.
// It returns the summary lines badblocks printed.
func (s *Scanner) SurfaceScan(ctx context.Context, reportPath string) (string, error) {
	p := &progress{log: s.log, every: s.every, now: s.now}
	runner := command.NewRunner(
		command.WithStdout(p.line),
		command.WithStderr(p.line),
	)
	cmd := s.Command(reportPath)
	slog.InfoContext(ctx, "starting surface scan", "cmd", cmd.String())

	res, err := runner.Run(ctx, cmd)
	p.mx.Lock()
	out := strings.Join(p.summary, "\n")
	p.mx.Unlock()
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return out, fmt.Errorf("%s: %w", s.bin, model.ErrBinaryNotFound)
	case err != nil:
		return out, fmt.Errorf("starting %s: %w", cmd, err)
	case ctx.Err() != nil:
		return out, ctx.Err()
	case res.Err == nil:
		return out, nil
	case !s.present(s.path):
		return out, fmt.Errorf("%s: %w", s.path, model.ErrDeviceUnavailable)
	}
	return out, fmt.Errorf("badblocks exited with status %d", res.ExitCode)
}

// ScanReport summarizes the report of a finished scan. Any bad block fails
// the stage.
func (s *Scanner) ScanReport(_ context.Context, reportPath string) (string, error) {
	blocks, err := ReadReport(reportPath)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d bad blocks in %s", len(blocks), reportPath)
	for i, b := range blocks {
		if i == maxListed {
			fmt.Fprintf(&sb, "\n... and %d more", len(blocks)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "\n%d", b)
	}
	if len(blocks) > 0 {
		return sb.String(), fmt.Errorf("%d bad blocks found", len(blocks))
	}
	return sb.String(), nil
}

// ReadReport parses a badblocks output file.
func ReadReport(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading bad block report: %w", err)
	}
	defer func() { _ = f.Close() }()

	var blocks []uint64
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		b, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid block number %q", path, n, line)
		}
		blocks = append(blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading bad block report: %w", err)
	}
	return blocks, nil
}

// progress forwards badblocks output to the run log. Progress updates arrive
// every second, they are logged at most once per interval and on every new
// test phase.
type progress struct {
	mx      sync.Mutex
	log     Logger
	every   time.Duration
	now     func() time.Time
	last    time.Time
	phase   string
	summary []string
}

func (p *progress) line(_ context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" || line == "done" {
		return
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if !strings.Contains(line, "% done") {
		p.summary = append(p.summary, line)
		p.log.Printf("badblocks: %s", line)
		return
	}
	if phase, _, ok := strings.Cut(line, ":"); ok && !strings.Contains(phase, "%") && phase != p.phase {
		p.phase = phase
		p.last = time.Time{}
	}
	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.every {
		return
	}
	p.last = now
	p.log.Printf("badblocks: %s", line)
}
