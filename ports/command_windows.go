//go:build windows

package ports

import (
	"context"
	"os"
	"os/exec"
)

const safePath = `C:\Windows\System32;C:\Windows`

var executableExts = []string{".exe", ".com", ""}

func isExecutable(info os.FileInfo) bool {
	return info.Mode().IsRegular()
}

// safeCommand resolves name against safePath, never the caller's PATH, and
// runs the child with the same PATH.
func safeCommand(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	path, err := lookSafePath(name, safePath)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), "PATH="+safePath)
	return cmd, nil
}
