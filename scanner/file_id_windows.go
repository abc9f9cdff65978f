//go:build windows
// +build windows

package scanner

import (
	"os"

	"golang.org/x/sys/windows"
)

type fileKey struct {
	volume uint32
	index  uint64
}

func dirKey(path string, _ os.FileInfo) (fileKey, bool) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fileKey{}, false
	}
	handle, err := windows.CreateFile(
		p,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return fileKey{}, false
	}
	defer windows.CloseHandle(handle)

	var data windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &data); err != nil {
		return fileKey{}, false
	}
	return fileKey{
		volume: data.VolumeSerialNumber,
		index:  uint64(data.FileIndexHigh)<<32 | uint64(data.FileIndexLow),
	}, true
}

// Windows has no numeric owner ids; owner and group stay empty.
func fileOwner(os.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}

func openForRead(path string) (*os.File, error) {
	return os.Open(path)
}
