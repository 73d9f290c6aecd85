// Package blockdev checks the preconditions of a run: the device is a block
// device which can be opened, the tools exist and the process may use them.
package blockdev

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/CZERTAINLY/burnin/internal/model"
)

var ErrPrivilege = errors.New("root privileges required")

type Info struct {
	Path      string
	SizeBytes uint64
}

// Root fails unless the process runs as root.
func Root() error {
	if os.Geteuid() != 0 {
		return ErrPrivilege
	}
	return nil
}

// LookPath resolves every binary, errors name all which are missing.
func LookPath(names ...string) (map[string]string, error) {
	found := make(map[string]string, len(names))
	var errs []error
	for _, n := range names {
		p, err := exec.LookPath(n)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, model.ErrBinaryNotFound))
			continue
		}
		found[n] = p
	}
	return found, errors.Join(errs...)
}
