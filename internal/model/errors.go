package model

import (
	"errors"
)

var (
	// ErrDeviceUnavailable means the device can no longer be opened. It is
	// the only fault which stops a run half way.
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrNotBlockDevice    = errors.New("not a block device")
	ErrBinaryNotFound    = errors.New("binary not found")
)
