package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"driftwatch/logger"
)

// Walker expands configured targets into the flat list of files to
// fingerprint.
//
// Directory entries are visited depth-first in name order, so two walks of an
// unchanged tree produce the same sequence. Symlinks to directories are never
// followed, and directories are additionally tracked by device and inode so
// bind mounts and overlapping roots cannot revisit a subtree.
type Walker struct {
	Filter *PathFilter
	Log    logrus.FieldLogger
}

type walkItem struct {
	path  string
	entry fs.DirEntry
}

// Expand returns explicit files (unchanged apart from being made absolute)
// followed by the files found under each directory root. Paths appear once,
// at their first occurrence. The only error returned is ctx's.
func (w *Walker) Expand(ctx context.Context, files, dirs []string) ([]string, error) {
	log := logger.Or(w.Log)
	out := make([]string, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	emit := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	for _, file := range files {
		emit(absPath(file))
	}

	visited := make(map[fileKey]struct{})
	for _, dir := range dirs {
		root := absPath(dir)
		info, err := os.Stat(root)
		if err != nil {
			log.WithFields(logrus.Fields{"path": root, "error": err}).Warn("directory root not accessible")
			continue
		}
		if !info.IsDir() {
			emit(root)
			continue
		}
		if err := w.walk(ctx, root, info, visited, emit, log); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (w *Walker) walk(ctx context.Context, root string, rootInfo os.FileInfo, visited map[fileKey]struct{}, emit func(string), log logrus.FieldLogger) error {
	if key, ok := dirKey(root, rootInfo); ok {
		if _, dup := visited[key]; dup {
			return nil
		}
		visited[key] = struct{}{}
	}

	stack := []walkItem{{path: root, entry: fs.FileInfoToDirEntry(rootInfo)}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !current.entry.IsDir() {
			emit(current.path)
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			// The directory itself becomes a target so the failure shows up
			// as an error stub instead of silently dropping its files.
			log.WithFields(logrus.Fields{"path": current.path, "error": err}).Warn("cannot list directory")
			emit(current.path)
			continue
		}

		// os.ReadDir sorts by name; push in reverse so the first entry is
		// popped first.
		for i := len(entries) - 1; i >= 0; i-- {
			child := entries[i]
			childPath := filepath.Join(current.path, child.Name())
			if item, ok := w.admit(root, childPath, child, visited, log); ok {
				stack = append(stack, item)
			}
		}
	}
	return nil
}

// admit decides whether a directory entry found under root is walked or
// emitted.
func (w *Walker) admit(root, path string, entry fs.DirEntry, visited map[fileKey]struct{}, log logrus.FieldLogger) (walkItem, bool) {
	switch {
	case entry.Type()&fs.ModeSymlink != 0:
		target, err := os.Stat(path)
		if err != nil {
			// Dangling or looping links are kept so they surface as
			// error stubs.
			return walkItem{path: path, entry: entry}, w.Filter.Keep(root, path)
		}
		if target.IsDir() {
			log.WithField("path", path).Debug("not following symlinked directory")
			return walkItem{}, false
		}
		if !target.Mode().IsRegular() {
			return walkItem{}, false
		}
		return walkItem{path: path, entry: fs.FileInfoToDirEntry(target)}, w.Filter.Keep(root, path)
	case entry.IsDir():
		if w.Filter.Excluded(root, path) {
			return walkItem{}, false
		}
		info, err := entry.Info()
		if err != nil {
			return walkItem{path: path, entry: entry}, true
		}
		if key, ok := dirKey(path, info); ok {
			if _, dup := visited[key]; dup {
				log.WithField("path", path).Debug("directory already visited")
				return walkItem{}, false
			}
			visited[key] = struct{}{}
		}
		return walkItem{path: path, entry: entry}, true
	case entry.Type().IsRegular():
		return walkItem{path: path, entry: entry}, w.Filter.Keep(root, path)
	default:
		// Devices, sockets and FIFOs are not regular files.
		return walkItem{}, false
	}
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
