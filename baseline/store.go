// Package baseline persists fingerprint collections.
package baseline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"driftwatch/failure"
	"driftwatch/hasher"
	"driftwatch/logger"
	"driftwatch/scanner"
)

var (
	ErrBaselineMissing     = &failure.Error{Kind: failure.BaselineMissing}
	ErrBaselineCorrupt     = &failure.Error{Kind: failure.BaselineCorrupt}
	ErrBaselineWriteFailed = &failure.Error{Kind: failure.BaselineWriteFailed}
)

// Store reads and writes the baseline at Path. A Store does not serialize
// concurrent writers; callers hold Lock around Save.
type Store struct {
	Path string
	Log  logrus.FieldLogger
}

// New returns a store for path.
func New(path string, log logrus.FieldLogger) *Store {
	return &Store{Path: path, Log: log}
}

// Save replaces the baseline wholesale. The collection is written to a
// sibling temp file, synced and renamed over the destination, so a failed
// save leaves the previous baseline untouched.
func (s *Store) Save(c *scanner.Collection) error {
	if c == nil {
		return failure.New(failure.BaselineWriteFailed, s.Path, errors.New("nil collection"))
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return failure.New(failure.BaselineWriteFailed, s.Path, err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(s.Path, data, 0o600); err != nil {
		return failure.New(failure.BaselineWriteFailed, s.Path, err)
	}
	logger.Or(s.Log).WithFields(logrus.Fields{
		"path":    s.Path,
		"records": len(c.Files),
		"scan_id": c.ScanID,
	}).Info("baseline saved")
	return nil
}

// Load reads and validates the baseline. A missing file is
// ErrBaselineMissing; anything unparseable or structurally invalid is
// ErrBaselineCorrupt.
func (s *Store) Load() (*scanner.Collection, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure.New(failure.BaselineMissing, s.Path, err)
		}
		return nil, failure.New(failure.BaselineCorrupt, s.Path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, failure.New(failure.BaselineCorrupt, s.Path, errors.New("empty file"))
	}

	var c scanner.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, failure.New(failure.BaselineCorrupt, s.Path, err)
	}
	if err := validate(&c); err != nil {
		return nil, failure.New(failure.BaselineCorrupt, s.Path, err)
	}
	logger.Or(s.Log).WithFields(logrus.Fields{
		"path":        s.Path,
		"records":     len(c.Files),
		"captured_at": c.CapturedAt,
	}).Debug("baseline loaded")
	return &c, nil
}

func validate(c *scanner.Collection) error {
	switch c.SchemaVersion {
	case "", scanner.SchemaVersion:
	default:
		return fmt.Errorf("unsupported schema_version %q", c.SchemaVersion)
	}
	if c.Files == nil {
		return errors.New("missing files")
	}
	seen := make(map[string]struct{}, len(c.Files))
	for i, rec := range c.Files {
		if rec.Path == "" {
			return fmt.Errorf("record %d has no path", i)
		}
		if _, dup := seen[rec.Path]; dup {
			return fmt.Errorf("duplicate path %s", rec.Path)
		}
		seen[rec.Path] = struct{}{}
		if rec.IsStub() {
			continue
		}
		for _, algo := range hasher.Required {
			if rec.Digests[algo] == "" {
				return fmt.Errorf("record %s lacks %s digest", rec.Path, algo)
			}
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	syncDir(dir)
	return nil
}
