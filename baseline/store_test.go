package baseline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftwatch/failure"
	"driftwatch/hasher"
	"driftwatch/scanner"
)

func testStore(t *testing.T, path string) *Store {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	return New(path, log)
}

func sampleCollection() *scanner.Collection {
	return &scanner.Collection{
		SchemaVersion: scanner.SchemaVersion,
		ScanID:        "3f1c8a2e-7d4b-4c55-9a0e-5b2f6d1e8c90",
		CapturedAt:    time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC),
		Auxiliary:     scanner.Auxiliary{OpenPorts: []string{"tcp LISTEN 0 128 0.0.0.0:22 0.0.0.0:*"}},
		Files: []scanner.FileRecord{
			{
				Path:         "/etc/hosts",
				Size:         0,
				ModifiedTime: "2026-03-14T15:09:26.5Z",
				ChangedTime:  "2026-03-14T15:09:26.5Z",
				Owner:        "root",
				Group:        "0",
				Mode:         0o4755,
				Digests: map[string]string{
					hasher.MD5:    "d41d8cd98f00b204e9800998ecf8427e",
					hasher.SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
					hasher.SHA512: "cf83e1357eefb8bdf1542850d66d8007d620e4050b5715dc83f4a921d36ce9ce47d0d13c5d85f2b0ff8318d2877eec2f63b931bd47417a81a538327af927da3e",
					hasher.BLAKE3: "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
				},
				MimeType:  "text/plain",
				FuzzyHash: "T1...",
			},
			scanner.StubRecord("/etc/shadow", os.ErrPermission),
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := testStore(t, filepath.Join(t.TempDir(), "nested", "dir", "baseline.json"))
	want := sampleCollection()

	require.NoError(t, store.Save(want))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	_, err = os.Stat(store.Path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file left behind")
}

func TestSaveLoadWithoutPorts(t *testing.T) {
	store := testStore(t, filepath.Join(t.TempDir(), "baseline.json"))
	want := sampleCollection()
	want.OpenPorts = nil
	want.Files = []scanner.FileRecord{}

	require.NoError(t, store.Save(want))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got.OpenPorts)
	assert.Empty(t, got.Files)
}

func TestLoadMissing(t *testing.T) {
	_, err := testStore(t, filepath.Join(t.TempDir(), "never-built.json")).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBaselineMissing)
	assert.Equal(t, failure.BaselineMissing, failure.KindOf(err))
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"truncated", `{"captured_at": "2026-01-01T00:00:00Z", "files": [`},
		{"not an object", `[1, 2, 3]`},
		{"missing files", `{"schema_version": "1", "captured_at": "2026-01-01T00:00:00Z"}`},
		{"future schema", `{"schema_version": "9", "captured_at": "2026-01-01T00:00:00Z", "files": []}`},
		{"bad timestamp", `{"captured_at": "Tue Mar  3 10:00:00 2026", "files": []}`},
		{"record without path", `{"captured_at": "2026-01-01T00:00:00Z", "files": [{"error": "x", "error_kind": "PathUnreadable"}]}`},
		{"duplicate path", `{"captured_at": "2026-01-01T00:00:00Z", "files": [
			{"path": "/a", "error": "x"}, {"path": "/a", "error": "y"}]}`},
		{"record without size", `{"captured_at": "2026-01-01T00:00:00Z", "files": [{"path": "/a", "MD5": "x"}]}`},
		{"record without digests", `{"captured_at": "2026-01-01T00:00:00Z", "files": [{"path": "/a", "size": 1, "MD5": "x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "baseline.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := testStore(t, path).Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBaselineCorrupt)
			assert.NotErrorIs(t, err, ErrBaselineMissing)
		})
	}
}

func TestSaveFailureKeepsPreviousBaseline(t *testing.T) {
	dir := t.TempDir()
	store := testStore(t, filepath.Join(dir, "baseline.json"))
	first := sampleCollection()
	require.NoError(t, store.Save(first))

	// A directory in the temp file's place makes the next write fail.
	require.NoError(t, os.Mkdir(store.Path+".tmp", 0o755))
	second := sampleCollection()
	second.ScanID = "other"
	err := store.Save(second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBaselineWriteFailed)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, first.ScanID, got.ScanID)
}

func TestSaveUnwritableDestination(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))
	err := testStore(t, filepath.Join(parent, "baseline.json")).Save(sampleCollection())
	assert.Equal(t, failure.BaselineWriteFailed, failure.KindOf(err))
}

func TestLockIsExclusive(t *testing.T) {
	store := testStore(t, filepath.Join(t.TempDir(), "baseline.json"))
	unlock, err := store.Lock()
	require.NoError(t, err)

	_, err = store.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	require.NoError(t, unlock())
	unlock, err = store.Lock()
	require.NoError(t, err)
	require.NoError(t, unlock())
}
