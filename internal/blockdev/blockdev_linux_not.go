//go:build !linux

package blockdev

import (
	"errors"
	"os"
)

func Check(path string, write bool) (Info, error) {
	return Info{}, errors.New("block device checks are available only on Linux")
}

func Present(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode()&os.ModeDevice != 0
}
