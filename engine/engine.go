// Package engine runs the build and check workflows on top of the scanner,
// the baseline store and the divergence comparator.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"driftwatch/baseline"
	"driftwatch/config"
	"driftwatch/diag"
	"driftwatch/divergence"
	"driftwatch/failure"
	"driftwatch/fuzzy"
	"driftwatch/identity"
	"driftwatch/logger"
	"driftwatch/ports"
	"driftwatch/scanner"
	"driftwatch/tracing"
)

// Exporter receives scan results and verdicts. *output.Exporter satisfies it.
type Exporter interface {
	ExportScan(c *scanner.Collection, m *scanner.Metrics)
	ExportReport(r divergence.Report)
}

// Options injects collaborators. Zero values select the system defaults.
type Options struct {
	Identity identity.Resolver
	Prober   ports.Prober
	Now      func() time.Time
	Logger   logrus.FieldLogger
	Exporter Exporter
}

type Engine struct {
	cfg      *config.Config
	store    *baseline.Store
	walker   *scanner.Walker
	fp       *scanner.Fingerprinter
	prober   ports.Prober
	now      func() time.Time
	log      logrus.FieldLogger
	exporter Exporter
}

// New wires an Engine from a validated configuration.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil config")
	}
	log := logger.Or(opts.Logger)

	filter, err := scanner.NewPathFilter(cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("compile path patterns: %w", err)
	}

	resolver := opts.Identity
	if resolver == nil {
		resolver = identity.Cached(identity.NewSystemResolver())
	}

	prober := opts.Prober
	if prober == nil && cfg.IncludeOpenPorts {
		if prober, err = ports.New(cfg.PortsProbe, cfg.PortsCommand, cfg.PortsTimeout); err != nil {
			return nil, err
		}
	}

	var fuzzyHasher fuzzy.Hasher
	if cfg.FuzzyHash {
		h, ok := fuzzy.Lookup(fuzzy.TLSH)
		if !ok {
			return nil, fmt.Errorf("fuzzy hasher %s is not registered", fuzzy.TLSH)
		}
		fuzzyHasher = h
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:    cfg,
		store:  baseline.New(cfg.BaselinePath, log),
		walker: &scanner.Walker{Filter: filter, Log: log},
		fp: &scanner.Fingerprinter{
			Identity:     resolver,
			Log:          log,
			Algorithms:   cfg.HashAlgorithms,
			MaxFileSize:  cfg.MaxFileSize,
			ReadTimeout:  cfg.ReadTimeout,
			ReadMode:     cfg.ContentReadMode,
			MmapMinSize:  cfg.MmapMinSize,
			DetectMIME:   cfg.DetectMIME,
			Fuzzy:        fuzzyHasher,
			FuzzyMinSize: cfg.FuzzyMinSize,
			FuzzyMaxSize: cfg.FuzzyMaxSize,
		},
		prober:   prober,
		now:      now,
		log:      log,
		exporter: opts.Exporter,
	}, nil
}

// Store returns the baseline store the engine reads and writes.
func (e *Engine) Store() *baseline.Store {
	return e.store
}

// Scan fingerprints every configured target and, when enabled, the open
// ports. Per-file failures are folded into the collection; only
// cancellation returns an error.
func (e *Engine) Scan(ctx context.Context) (*scanner.Collection, *scanner.Metrics, error) {
	defer tracing.StartRegion(ctx, "scan")()

	capturedAt := e.now().UTC()
	metrics := &scanner.Metrics{}

	var completed atomic.Int64
	watchdog := diag.New(diag.Options{
		StallThreshold: e.cfg.StallThreshold,
		Dir:            e.cfg.DiagDir,
		Progress:       completed.Load,
		Log:            e.log,
	})
	watchdog.Start(ctx)
	records, err := scanner.Scan(ctx, scanner.Options{
		Files:          e.cfg.FilePaths,
		Directories:    e.cfg.Directories,
		Walker:         e.walker,
		Fingerprinter:  e.fp,
		Concurrency:    scanner.ConcurrencyFor(e.cfg.NiceLevel, e.cfg.ConcurrencyLevel, e.cfg.ConcurrencySet),
		MaxIOPerSecond: e.cfg.MaxIOPerSecond,
		Progress:       e.cfg.Progress,
		Log:            e.log,
		Completed:      &completed,
	}, metrics)
	watchdog.Stop()
	if err != nil {
		return nil, nil, err
	}

	c := &scanner.Collection{
		SchemaVersion: scanner.SchemaVersion,
		ScanID:        uuid.NewString(),
		CapturedAt:    capturedAt,
		Files:         records,
	}
	if e.cfg.IncludeOpenPorts {
		c.Auxiliary = ports.Collect(ctx, e.prober, e.log)
	}
	if e.exporter != nil {
		e.exporter.ExportScan(c, metrics)
	}

	e.log.WithFields(logrus.Fields{
		"scan_id":             c.ScanID,
		"total_files":         metrics.TotalFiles,
		"files_fingerprinted": metrics.FilesFingerprinted,
		"files_errored":       metrics.FilesErrored,
	}).Info("scan finished")
	return c, metrics, nil
}

// Build scans and replaces the baseline while holding the baseline lock.
func (e *Engine) Build(ctx context.Context) (*scanner.Collection, error) {
	ctx, end := tracing.StartTask(ctx, "build")
	defer end()

	unlock, err := e.store.Lock()
	if err != nil {
		return nil, failure.New(failure.BaselineWriteFailed, e.store.Path, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			e.log.WithError(err).Warn("releasing baseline lock failed")
		}
	}()

	c, _, err := e.Scan(ctx)
	if err != nil {
		return nil, err
	}
	defer tracing.StartRegion(ctx, "save")()
	if err := e.store.Save(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Check compares a fresh scan against the stored baseline. The baseline is
// loaded first so a missing or corrupt baseline short-circuits to an ERROR
// report without scanning.
func (e *Engine) Check(ctx context.Context) divergence.Report {
	ctx, end := tracing.StartTask(ctx, "check")
	defer end()

	endLoad := tracing.StartRegion(ctx, "load")
	base, err := e.store.Load()
	endLoad()
	if err != nil {
		return e.fail(err)
	}

	current, _, err := e.Scan(ctx)
	if err != nil {
		return e.fail(err)
	}

	endCompare := tracing.StartRegion(ctx, "compare")
	report := divergence.Compare(base, current, divergence.Options{
		PortsPolicy:  divergence.PortsPolicy(e.cfg.PortsPolicy),
		IgnoreFields: e.cfg.IgnoreFields,
		Fuzzy:        e.fp.Fuzzy,
	})
	endCompare()

	fields := logrus.Fields{"state": report.State}
	if report.Summary != nil {
		fields["added"] = report.Summary.Added
		fields["removed"] = report.Summary.Removed
		fields["modified"] = report.Summary.Modified
		fields["errored"] = report.Summary.Errored
	}
	e.log.WithFields(fields).Info("check finished")
	e.export(report)
	return report
}

func (e *Engine) fail(err error) divergence.Report {
	e.log.WithFields(logrus.Fields{
		"error_kind": failure.KindOf(err),
		"error":      err,
	}).Error("check failed")
	report := divergence.ErrorReport(err)
	e.export(report)
	return report
}

func (e *Engine) export(r divergence.Report) {
	if e.exporter != nil {
		e.exporter.ExportReport(r)
	}
}
