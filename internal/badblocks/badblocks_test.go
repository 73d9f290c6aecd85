package badblocks_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/CZERTAINLY/burnin/internal/badblocks"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type lines struct {
	mx sync.Mutex
	l  []string
}

func (l *lines) Printf(format string, args ...any) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.l = append(l.l, fmt.Sprintf(format, args...))
}

func (l *lines) get() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string(nil), l.l...)
}

// fakeBadblocks is called as: -b <bs> -wsv -o <report> <device>
const fakeBadblocks = `
d=$(dirname "$0")
echo "$@" > "$d/args"
bs='\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b'
printf 'Checking for bad blocks in read-write mode\nFrom block 0 to 976754645\n' >&2
printf "Testing with pattern 0xaa:   0.00%% done, 0:00 elapsed. (0/0/0 errors)$bs" >&2
printf "  0.01%% done, 0:01 elapsed. (0/0/0 errors)$bs" >&2
printf "  0.02%% done, 0:02 elapsed. (0/0/0 errors)$bs" >&2
printf 'done                                                 \n' >&2
printf "Reading and comparing:   0.00%% done, 0:03 elapsed. (0/0/0 errors)$bs" >&2
printf "  0.01%% done, 0:04 elapsed. (0/0/0 errors)$bs" >&2
printf 'done                                                 \n' >&2
cat "$d/blocks" > "$5"
n=$(grep -c . "$d/blocks")
printf 'Pass completed, %d bad blocks found. (0/0/%d errors)\n' "$n" "$n" >&2
exit $(cat "$d/code")
`

type fake struct {
	dir string
	bin string
}

func newFake(t *testing.T, blocks string, code int) fake {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "badblocks")
	require.NoError(t, os.WriteFile(bin, []byte("#!"+sh+"\n"+fakeBadblocks), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks"), []byte(blocks), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "code"), []byte(fmt.Sprint(code)), 0o644))
	return fake{dir: dir, bin: bin}
}

func (f fake) scanner(log badblocks.Logger, opts ...badblocks.Option) *badblocks.Scanner {
	cfg := model.DefaultConfig()
	cfg.Badblocks = f.bin
	cfg.BlockSize = 4096
	return badblocks.New("/dev/sdb", cfg, log, opts...)
}

func alwaysPresent() badblocks.Option {
	return badblocks.WithPresence(func(string) bool { return true })
}

func TestSurfaceScan(t *testing.T) {
	t.Parallel()

	t.Run("clean", func(t *testing.T) {
		t.Parallel()
		f := newFake(t, "", 0)
		var log lines
		report := filepath.Join(t.TempDir(), "burnin-WD1.badblocks.txt")
		s := f.scanner(&log, badblocks.WithProgressInterval(0), alwaysPresent())

		out, err := s.SurfaceScan(t.Context(), report)
		require.NoError(t, err)
		require.Contains(t, out, "Pass completed, 0 bad blocks found.")
		require.NotContains(t, out, "% done")

		args, err := os.ReadFile(filepath.Join(f.dir, "args"))
		require.NoError(t, err)
		require.Equal(t, "-b 4096 -wsv -o "+report+" /dev/sdb\n", string(args))

		logged := log.get()
		require.Contains(t, logged, "badblocks: Testing with pattern 0xaa:   0.00% done, 0:00 elapsed. (0/0/0 errors)")
		require.Contains(t, logged, "badblocks: 0.02% done, 0:02 elapsed. (0/0/0 errors)")
		require.NotContains(t, logged, "badblocks: done")

		msg, err := s.ScanReport(t.Context(), report)
		require.NoError(t, err)
		require.Equal(t, "0 bad blocks in "+report, msg)
	})

	t.Run("progress is throttled", func(t *testing.T) {
		t.Parallel()
		f := newFake(t, "", 0)
		var log lines
		s := f.scanner(&log, alwaysPresent())
		_, err := s.SurfaceScan(t.Context(), filepath.Join(t.TempDir(), "r"))
		require.NoError(t, err)

		var progress []string
		for _, l := range log.get() {
			if strings.Contains(l, "% done") {
				progress = append(progress, l)
			}
		}
		// the first update of each phase only
		require.Equal(t, []string{
			"badblocks: Testing with pattern 0xaa:   0.00% done, 0:00 elapsed. (0/0/0 errors)",
			"badblocks: Reading and comparing:   0.00% done, 0:03 elapsed. (0/0/0 errors)",
		}, progress)
	})

	t.Run("bad blocks", func(t *testing.T) {
		t.Parallel()
		f := newFake(t, "1024\n1025\n977000\n", 0)
		report := filepath.Join(t.TempDir(), "r")
		s := f.scanner(&lines{}, alwaysPresent())
		out, err := s.SurfaceScan(t.Context(), report)
		require.NoError(t, err)
		require.Contains(t, out, "Pass completed, 3 bad blocks found.")

		msg, err := s.ScanReport(t.Context(), report)
		require.EqualError(t, err, "3 bad blocks found")
		require.Equal(t, "3 bad blocks in "+report+"\n1024\n1025\n977000", msg)
	})

	t.Run("tool failure", func(t *testing.T) {
		t.Parallel()
		f := newFake(t, "", 1)
		_, err := f.scanner(&lines{}, alwaysPresent()).SurfaceScan(t.Context(), filepath.Join(t.TempDir(), "r"))
		require.EqualError(t, err, "badblocks exited with status 1")
	})

	t.Run("device gone", func(t *testing.T) {
		t.Parallel()
		f := newFake(t, "", 1)
		s := f.scanner(&lines{}, badblocks.WithPresence(func(string) bool { return false }))
		_, err := s.SurfaceScan(t.Context(), filepath.Join(t.TempDir(), "r"))
		require.ErrorIs(t, err, model.ErrDeviceUnavailable)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		cfg := model.DefaultConfig()
		cfg.Badblocks = "badblocks-does-not-exist"
		_, err := badblocks.New("/dev/sdb", cfg, &lines{}).SurfaceScan(t.Context(), filepath.Join(t.TempDir(), "r"))
		require.ErrorIs(t, err, model.ErrBinaryNotFound)
	})
}

func TestReadReport(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := badblocks.ReadReport(filepath.Join(dir, "missing"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid", func(t *testing.T) {
		p := filepath.Join(dir, "invalid")
		require.NoError(t, os.WriteFile(p, []byte("12\nxx\n"), 0o644))
		_, err := badblocks.ReadReport(p)
		require.EqualError(t, err, p+`:2: invalid block number "xx"`)
	})

	t.Run("many", func(t *testing.T) {
		var sb strings.Builder
		for i := range 25 {
			fmt.Fprintf(&sb, "%d\n", 1000+i)
		}
		p := filepath.Join(dir, "many")
		require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o644))
		blocks, err := badblocks.ReadReport(p)
		require.NoError(t, err)
		require.Len(t, blocks, 25)

		msg, err := badblocks.New("/dev/sdb", model.DefaultConfig(), &lines{}).ScanReport(t.Context(), p)
		require.Error(t, err)
		require.True(t, strings.HasSuffix(msg, "\n1019\n... and 5 more"))
	})
}
