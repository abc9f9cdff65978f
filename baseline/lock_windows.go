//go:build windows

package baseline

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

func (s *Store) Lock() (unlock func() error, err error) {
	f, err := openLockFile(s.Path)
	if err != nil {
		return nil, err
	}
	handle := windows.Handle(f.Fd())
	overlapped := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(handle, flags, 0, 1, 0, overlapped); err != nil {
		f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, fmt.Errorf("baseline %s is locked by another build", s.Path)
		}
		return nil, fmt.Errorf("lock %s: %w", f.Name(), err)
	}
	return func() error {
		unlockErr := windows.UnlockFileEx(handle, 0, 1, 0, overlapped)
		return errors.Join(unlockErr, f.Close())
	}, nil
}

// Directory handles cannot be synced on Windows.
func syncDir(string) {}
