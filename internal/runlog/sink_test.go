package runlog_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/burnin/internal/runlog"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func TestSink(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "burnin.log")
	var console bytes.Buffer

	sink, err := runlog.Open(path, runlog.WithConsole(&console), runlog.WithClock(fixedClock))
	require.NoError(t, err)
	require.Equal(t, path, sink.Path())

	sink.Header("Starting %s", "short self-test")
	sink.Printf("smartctl -t short /dev/sdb")
	sink.Output("\nline one\nline two  \n\n")
	sink.Output("   ")
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	border := strings.Repeat("=", 64)
	expected := strings.Join([]string{
		border,
		" Starting short self-test - 2026-03-14 09:26:53 UTC",
		border,
		"[09:26:53] smartctl -t short /dev/sdb",
		"    line one",
		"    line two",
		"",
	}, "\n")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, expected, string(b))
	// bytes.Buffer is not a terminal: lipgloss renders no escape codes
	require.Equal(t, expected, console.String())
}

func TestSinkAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "burnin.log")
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o644))

	sink, err := runlog.Open(path, runlog.WithConsole(nil), runlog.WithClock(fixedClock))
	require.NoError(t, err)
	sink.Printf("first\nsecond")
	require.NoError(t, sink.Close())

	sink.Printf("after close")
	require.ErrorIs(t, sink.Err(), runlog.ErrClosed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "previous\n[09:26:53] first\n[09:26:53] second\n", string(b))
}

func TestFilter(t *testing.T) {
	t.Parallel()
	in := strings.Join([]string{
		"\x1b[1;34m=====\x1b[0m",
		"Testing with pattern 0xaa:  0.01% done\b\b\b\b\b\b\b\b\b\b0.02% done",
		"progress 10%\rprogress 20%\rprogress 30%\r",
		"dup",
		"dup",
		"tail   ",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, runlog.Filter(strings.NewReader(in), &out))
	require.Equal(t, strings.Join([]string{
		"=====",
		"Testing with pattern 0xaa:  0.02% done",
		"progress 30%",
		"dup",
		"dup",
		"tail",
		"",
	}, "\n"), out.String())
}

func TestFilterKeepsRepeatedLines(t *testing.T) {
	t.Parallel()
	in := strings.Join([]string{
		"[09:26:53] badblocks: Pass completed, 0 bad blocks found.",
		"[09:26:53] badblocks: Pass completed, 0 bad blocks found.",
		"    # 1  Short offline       Completed without error       00%     41235         -",
		"    # 1  Short offline       Completed without error       00%     41235         -",
		"",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, runlog.Filter(strings.NewReader(in), &out))
	require.Equal(t, in, out.String())
}

func TestFilterFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "burnin.log")
	require.NoError(t, os.WriteFile(path, []byte("a\x1b[0m\nb\nb\n"), 0o644))

	require.NoError(t, runlog.FilterFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\nb\nb\n", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
