package scanner

import (
	"os"

	"github.com/djherbis/times"
)

// fileTimes derives the recorded timestamps from an existing stat result.
// The "created" slot holds the inode change time where the platform has one,
// so ownership and permission edits are visible; otherwise it repeats mtime.
func fileTimes(info os.FileInfo) (modified, changed string) {
	ts := times.Get(info)
	modified = formatTime(ts.ModTime())
	changed = modified
	if ts.HasChangeTime() {
		changed = formatTime(ts.ChangeTime())
	}
	return modified, changed
}

// permissionBits returns the low 12 mode bits in their Unix layout.
func permissionBits(mode os.FileMode) uint32 {
	bits := uint32(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if mode&os.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if mode&os.ModeSticky != 0 {
		bits |= 0o1000
	}
	return bits
}
