package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftwatch/config"
	"driftwatch/divergence"
	"driftwatch/failure"
	"driftwatch/identity"
	"driftwatch/ports"
	"driftwatch/scanner"
)

type fixture struct {
	root string
	cfg  *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	for name, content := range map[string]string{
		"etc/hosts":       "127.0.0.1 localhost\n",
		"etc/passwd":      "root:x:0:0:root:/root:/bin/sh\n",
		"etc/ssh/sshd.cf": "PermitRootLogin no\n",
	} {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	cfg := config.Default()
	cfg.Directories = []string{filepath.Join(root, "etc")}
	cfg.BaselinePath = filepath.Join(root, "state", "baseline.json")
	cfg.Progress = false
	cfg.ConcurrencyLevel = 2
	cfg.ConcurrencySet = true
	return &fixture{root: root, cfg: cfg}
}

func (f *fixture) engine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Identity == nil {
		opts.Identity = identity.Static{}
	}
	if opts.Logger == nil {
		l, _ := logtest.NewNullLogger()
		opts.Logger = l
	}
	e, err := New(f.cfg, opts)
	require.NoError(t, err)
	return e
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

type recordingExporter struct {
	mu      sync.Mutex
	scans   []*scanner.Collection
	reports []divergence.Report
}

func (r *recordingExporter) ExportScan(c *scanner.Collection, _ *scanner.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, c)
}

func (r *recordingExporter) ExportReport(rep divergence.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func TestBuildThenCheckIsOK(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := &recordingExporter{}
	e := f.engine(t, Options{Now: func() time.Time { return fixed }, Exporter: exp})

	built, err := e.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, built.Files, 3)
	assert.Equal(t, scanner.SchemaVersion, built.SchemaVersion)
	assert.NotEmpty(t, built.ScanID)
	assert.Equal(t, fixed, built.CapturedAt)
	assert.Nil(t, built.OpenPorts, "ports are not collected unless enabled")

	report := e.Check(context.Background())
	assert.Equal(t, divergence.StateOK, report.State)
	assert.Empty(t, report.ChangedPaths)
	require.NotNil(t, report.Summary)
	assert.Equal(t, 3, report.Summary.Unchanged)
	assert.Equal(t, built.ScanID, report.BaselineScanID)
	assert.NotEqual(t, built.ScanID, report.CurrentScanID)

	require.Len(t, exp.scans, 2)
	require.Len(t, exp.reports, 1)
	assert.Equal(t, divergence.StateOK, exp.reports[0].State)
}

func TestCheckWithoutBaselineShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.cfg.IncludeOpenPorts = true
	probes := 0
	e := f.engine(t, Options{Prober: ports.ProberFunc(func(context.Context) ([]string, error) {
		probes++
		return []string{"tcp 0.0.0.0:22"}, nil
	})})

	report := e.Check(context.Background())
	assert.Equal(t, divergence.StateError, report.State)
	assert.Equal(t, failure.BaselineMissing, report.ErrorKind)
	assert.NotEmpty(t, report.Message)
	assert.NotNil(t, report.ChangedPaths)
	assert.Zero(t, probes, "no scan runs when the baseline cannot be loaded")
}

func TestCheckCorruptBaseline(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.BaselinePath), 0o755))
	require.NoError(t, os.WriteFile(f.cfg.BaselinePath, []byte("{not json"), 0o600))

	report := f.engine(t, Options{}).Check(context.Background())
	assert.Equal(t, divergence.StateError, report.State)
	assert.Equal(t, failure.BaselineCorrupt, report.ErrorKind)
}

func TestCheckReportsEveryChangeKind(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, Options{})
	_, err := e.Build(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path("etc/hosts"), []byte("10.0.0.1 intruder\n"), 0o644))
	require.NoError(t, os.Remove(f.path("etc/passwd")))
	require.NoError(t, os.WriteFile(f.path("etc/shadow"), []byte("root:!:19000::::::\n"), 0o600))

	report := e.Check(context.Background())
	assert.Equal(t, divergence.StateDivergent, report.State)
	require.Len(t, report.ChangedPaths, 3)

	kinds := map[string]divergence.DeltaKind{}
	for _, d := range report.ChangedPaths {
		kinds[d.Path] = d.Kind
	}
	assert.Equal(t, divergence.Modified, kinds[f.path("etc/hosts")])
	assert.Equal(t, divergence.Removed, kinds[f.path("etc/passwd")])
	assert.Equal(t, divergence.Added, kinds[f.path("etc/shadow")])
	assert.Equal(t, 1, report.Summary.Unchanged)
}

func TestCheckIgnoreFields(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, Options{})
	_, err := e.Build(context.Background())
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.path("etc/hosts"), later, later))

	report := e.Check(context.Background())
	require.Equal(t, divergence.StateDivergent, report.State)
	require.Len(t, report.ChangedPaths, 1)
	assert.Contains(t, report.ChangedPaths[0].Fields, divergence.FieldLastModified)

	f.cfg.IgnoreFields = []string{divergence.FieldLastModified, divergence.FieldCreated}
	report = f.engine(t, Options{}).Check(context.Background())
	assert.Equal(t, divergence.StateOK, report.State)
}

func TestOpenPortsPolicies(t *testing.T) {
	tests := []struct {
		policy    divergence.PortsPolicy
		wantState divergence.State
		wantPorts bool
	}{
		{divergence.PortsDivergent, divergence.StateDivergent, true},
		{divergence.PortsReport, divergence.StateOK, true},
		{divergence.PortsIgnore, divergence.StateOK, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t)
			f.cfg.IncludeOpenPorts = true
			f.cfg.PortsPolicy = string(tt.policy)
			listeners := []string{"tcp 0.0.0.0:22"}
			e := f.engine(t, Options{Prober: ports.ProberFunc(func(context.Context) ([]string, error) {
				return listeners, nil
			})})

			built, err := e.Build(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"tcp 0.0.0.0:22"}, built.OpenPorts)

			listeners = []string{"tcp 0.0.0.0:22", "tcp 0.0.0.0:4444"}
			report := e.Check(context.Background())
			assert.Equal(t, tt.wantState, report.State)
			if !tt.wantPorts {
				assert.Nil(t, report.Ports)
				return
			}
			require.NotNil(t, report.Ports)
			assert.Equal(t, divergence.PortsChanged, report.Ports.Kind)
			assert.Equal(t, []string{"tcp 0.0.0.0:4444"}, report.Ports.Opened)
		})
	}
}

func TestProbeFailureDoesNotAbortBuild(t *testing.T) {
	f := newFixture(t)
	f.cfg.IncludeOpenPorts = true
	e := f.engine(t, Options{Prober: ports.ProberFunc(func(context.Context) ([]string, error) {
		return nil, errors.New("ss: command not found")
	})})

	built, err := e.Build(context.Background())
	require.NoError(t, err)
	assert.Nil(t, built.OpenPorts)
	assert.Contains(t, built.OpenPortsError, "AuxiliaryUnavailable")
	assert.Len(t, built.Files, 3)

	report := e.Check(context.Background())
	assert.Equal(t, divergence.StateOK, report.State)
	require.NotNil(t, report.Ports)
	assert.Equal(t, divergence.PortsUnavailable, report.Ports.Kind)
	assert.Contains(t, report.Ports.BeforeError, "ss: command not found")
	assert.Contains(t, report.Ports.AfterError, "ss: command not found")
}

func TestCheckSurfacesProbeFailureAfterCollectedBaseline(t *testing.T) {
	f := newFixture(t)
	f.cfg.IncludeOpenPorts = true
	var probeErr error
	e := f.engine(t, Options{Prober: ports.ProberFunc(func(context.Context) ([]string, error) {
		if probeErr != nil {
			return nil, probeErr
		}
		return []string{"tcp 0.0.0.0:22"}, nil
	})})

	built, err := e.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp 0.0.0.0:22"}, built.OpenPorts)

	probeErr = errors.New("ss: permission denied")
	report := e.Check(context.Background())
	assert.Equal(t, divergence.StateOK, report.State)
	require.NotNil(t, report.Ports, "a failed probe must not vanish from the report")
	assert.Equal(t, divergence.PortsUnavailable, report.Ports.Kind)
	assert.Equal(t, []string{"tcp 0.0.0.0:22"}, report.Ports.Before)
	assert.Nil(t, report.Ports.After)
	assert.Empty(t, report.Ports.BeforeError)
	assert.Contains(t, report.Ports.AfterError, "AuxiliaryUnavailable")
	assert.Contains(t, report.Ports.AfterError, "ss: permission denied")
}

func TestBuildFailsWhileLocked(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, Options{})

	unlock, err := e.Store().Lock()
	require.NoError(t, err)
	defer unlock()

	_, err = e.Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.BaselineWriteFailed, failure.KindOf(err))
	_, statErr := os.Stat(f.cfg.BaselinePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine(t, Options{}).Build(ctx)
	require.Error(t, err)
	assert.Equal(t, failure.ScanFailed, failure.KindOf(err))
	_, statErr := os.Stat(f.cfg.BaselinePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewRejectsBadPatterns(t *testing.T) {
	f := newFixture(t)
	f.cfg.ExcludePatterns = []string{"[unclosed("}
	_, err := New(f.cfg, Options{})
	assert.Error(t, err)
}
