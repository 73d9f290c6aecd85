package blockdev

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/CZERTAINLY/burnin/internal/model"
)

// Check verifies path is a block device the process can read, and write
// when write is set. It reports the size of the device.
func Check(path string, write bool) (Info, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return Info{}, fmt.Errorf("%s: %w", path, model.ErrNotBlockDevice)
	}

	mode := uint32(unix.R_OK)
	if write {
		mode |= unix.W_OK
	}
	if err := unix.Access(path, mode); err != nil {
		return Info{}, fmt.Errorf("%s: access: %w", path, err)
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w: %w", path, model.ErrDeviceUnavailable, err)
	}
	defer func() { _ = unix.Close(fd) }()

	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return Info{}, fmt.Errorf("%s: BLKGETSIZE64: %w", path, errno)
	}
	return Info{Path: path, SizeBytes: size}, nil
}

// Present reports whether path still names a block device.
func Present(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK
}
