package runlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ansiRx = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Filter copies a finished log from r to w and removes terminal noise:
// escape sequences, backspace rewinds and carriage return overwrites, as
// printed by progress meters. Every line of the input stays a line of the
// output.
func Filter(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	bw := bufio.NewWriter(w)

	for sc.Scan() {
		line := cleanLine(sc.Text())
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading log: %w", err)
	}
	return bw.Flush()
}

func cleanLine(line string) string {
	line = ansiRx.ReplaceAllString(line, "")
	if i := strings.LastIndexByte(strings.TrimRight(line, "\r"), '\r'); i >= 0 {
		line = line[i+1:]
	}
	line = strings.TrimRight(line, "\r")
	if strings.IndexByte(line, '\b') >= 0 {
		out := make([]rune, 0, len(line))
		for _, r := range line {
			if r == '\b' {
				if len(out) > 0 {
					out = out[:len(out)-1]
				}
				continue
			}
			out = append(out, r)
		}
		line = string(out)
	}
	return strings.TrimRight(line, " \t")
}

// FilterFile rewrites the log at path through Filter. The file is replaced
// atomically, a failure leaves the original untouched.
func FilterFile(path string) (err error) {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating filtered log: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Filter(in, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing filtered log: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
