//go:build linux
// +build linux

package archive

import (
	"os"

	"golang.org/x/sys/unix"
)

// Linux: sequential access hint for freshly opened segment files.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
