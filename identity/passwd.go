package identity

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	userFile  = "etc/passwd"
	groupFile = "etc/group"
)

type fileResolver struct {
	root string
}

// NewFileResolver reads {root}/etc/passwd and {root}/etc/group on each
// lookup, which lets a scan of a mounted image resolve the image's own
// accounts. Wrap with Cached for repeated lookups.
func NewFileResolver(root string) Resolver {
	return Cached(fileResolver{root: root})
}

func (f fileResolver) UserName(uid uint32) (string, error) {
	return lookupColonFile(filepath.Join(f.root, userFile), uid)
}

func (f fileResolver) GroupName(gid uint32) (string, error) {
	return lookupColonFile(filepath.Join(f.root, groupFile), gid)
}

// lookupColonFile finds the entry whose third field equals id in a
// passwd(5) or group(5) formatted file.
func lookupColonFile(path string, id uint32) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	want := strconv.FormatUint(uint64(id), 10)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 3 || parts[0] == "" {
			continue
		}
		if parts[2] == want {
			return parts[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("id %d not found in %s", id, path)
}
