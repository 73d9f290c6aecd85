// Package runlog implements the human readable log of a burn-in run.
//
// The log is an append-only sequence of bordered stage headers and plain
// lines. Every write goes to the log file and to a console stream. Headers
// carry a full timestamp, plain lines a time of day. The console rendering of
// headers is styled with lipgloss when the console supports it, the file
// always gets plain text.
//
// A Sink is written from the orchestrator and from output pumping goroutines
// of external commands, so appends are serialized.
package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	borderWidth  = 64
	headerLayout = "2006-01-02 15:04:05 MST"
	lineLayout   = "15:04:05"
)

var ErrClosed = errors.New("log sink closed")

type Sink struct {
	mx      sync.Mutex
	path    string
	file    io.Writer
	buf     *bufio.Writer
	console io.Writer
	style   lipgloss.Style
	now     func() time.Time
	closed  bool
	err     error
}

type Option func(*Sink)

// WithConsole sets the console stream, os.Stdout by default. A nil writer
// disables the console copy.
func WithConsole(w io.Writer) Option {
	return func(s *Sink) {
		s.console = w
	}
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

// Open creates the parent directory and opens path for appending.
func Open(path string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	s := New(f, opts...)
	s.path = path
	return s, nil
}

// New writes the log to w. When w is an io.Closer, Close closes it.
func New(w io.Writer, opts ...Option) *Sink {
	s := &Sink{
		file:    w,
		buf:     bufio.NewWriter(w),
		console: os.Stdout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.console != nil {
		s.style = lipgloss.NewRenderer(s.console).NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	}
	return s
}

// Path returns the log file path, empty for sinks created by New.
func (s *Sink) Path() string {
	return s.path
}

// Header writes a bordered header: a begin marker, the message with a
// timestamp and an end marker.
func (s *Sink) Header(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	border := strings.Repeat("=", borderWidth)

	s.mx.Lock()
	defer s.mx.Unlock()
	title := fmt.Sprintf(" %s - %s", msg, s.now().Format(headerLayout))
	s.writeFile(border, title, border)
	s.writeConsole(s.style.Render(border), s.style.Render(title), s.style.Render(border))
}

// Printf writes a timestamped line. Embedded newlines produce several lines
// with the same timestamp.
func (s *Sink) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	s.mx.Lock()
	defer s.mx.Unlock()
	stamp := "[" + s.now().Format(lineLayout) + "] "
	lines := strings.Split(strings.TrimRight(msg, "\n"), "\n")
	for i, l := range lines {
		lines[i] = stamp + l
	}
	s.writeFile(lines...)
	s.writeConsole(lines...)
}

// Output writes a block of captured command output, indented and without
// timestamps. Empty lines at both ends are dropped.
func (s *Sink) Output(text string) {
	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight("    "+l, " \t\r")
	}
	s.writeFile(lines...)
	s.writeConsole(lines...)
}

// Err returns the first write error. Writes after an error are dropped, a run
// does not stop because its log could not be written.
func (s *Sink) Err() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.err
}

// Close flushes buffered lines and closes the file. It is safe to call more
// than once.
func (s *Sink) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flushing log: %w", err))
	}
	if c, ok := s.file.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) writeFile(lines ...string) {
	if s.closed {
		s.setErr(ErrClosed)
		return
	}
	if s.err != nil {
		return
	}
	for _, l := range lines {
		if _, err := s.buf.WriteString(l + "\n"); err != nil {
			s.setErr(err)
			return
		}
	}
	// a line which is on the console is on the disk too
	s.setErr(s.buf.Flush())
}

func (s *Sink) writeConsole(lines ...string) {
	if s.console == nil {
		return
	}
	for _, l := range lines {
		_, _ = io.WriteString(s.console, l+"\n")
	}
}

func (s *Sink) setErr(err error) {
	if s.err == nil {
		s.err = err
	}
}
