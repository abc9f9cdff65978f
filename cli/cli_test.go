package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftwatch/config"
	"driftwatch/engine"
	"driftwatch/identity"
	"driftwatch/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.DefaultConfigFile = filepath.Join(t.TempDir(), "absent.json")
	l, _ := logtest.NewNullLogger()
	var stdout bytes.Buffer
	cmd := NewRootCmd(&App{
		Stdout: &stdout,
		Engine: engine.Options{Identity: identity.Static{}, Logger: l},
	})
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func targets(t *testing.T) (dir, baseline string) {
	t.Helper()
	root := t.TempDir()
	dir = filepath.Join(root, "etc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hosts"), []byte("127.0.0.1 localhost\n"), 0o644))
	return dir, filepath.Join(root, "baseline.json")
}

func TestBuildThenCheck(t *testing.T) {
	dir, base := targets(t)

	_, err := run(t, "build", "--dir", dir, "--baseline", base, "--progress=false", "--log-level", "error")
	require.NoError(t, err)
	_, err = os.Stat(base)
	require.NoError(t, err)

	out, err := run(t, "check", "--dir", dir, "--baseline", base, "--progress=false", "--log-level", "error")
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "OK", report["state"])
	assert.Equal(t, []interface{}{}, report["changed_paths"])
}

func TestCheckDivergenceStillSucceeds(t *testing.T) {
	dir, base := targets(t)
	_, err := run(t, "build", "--dir", dir, "--baseline", base, "--progress=false", "--log-level", "error")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.conf"), []byte("x"), 0o644))

	out, err := run(t, "check", "--dir", dir, "--baseline", base, "--progress=false", "--log-level", "error")
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "DIVERGENT", report["state"])
}

func TestCheckWithoutBaselinePrintsErrorReport(t *testing.T) {
	dir, base := targets(t)

	out, err := run(t, "check", "--dir", dir, "--baseline", base, "--progress=false", "--log-level", "error")
	require.ErrorIs(t, err, ErrCheckFailed)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ERROR", report["state"])
	assert.Equal(t, "BaselineMissing", report["error_kind"])
}

func TestInvalidConfigurationFails(t *testing.T) {
	_, err := run(t, "build", "--log-level", "error")
	assert.Error(t, err, "no targets configured")

	dir, base := targets(t)
	_, err = run(t, "build", "--dir", dir, "--baseline", base, "--hashes", "crc32")
	assert.Error(t, err)
}

func TestBuildFailsOnUnwritableBaseline(t *testing.T) {
	dir, _ := targets(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := run(t, "build", "--dir", dir, "--baseline", filepath.Join(blocker, "baseline.json"), "--progress=false", "--log-level", "error")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}
