//go:build !windows
// +build !windows

package scanner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

type fileKey struct {
	dev uint64
	ino uint64
}

func dirKey(_ string, info os.FileInfo) (fileKey, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return fileKey{}, false
	}
	return fileKey{dev: uint64(stat.Dev), ino: uint64(stat.Ino)}, true
}

func fileOwner(info os.FileInfo) (uid, gid uint32, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return 0, 0, false
	}
	return stat.Uid, stat.Gid, true
}

// openForRead opens path without blocking on FIFOs; the caller rejects
// non-regular files after stat'ing the handle.
func openForRead(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
}
