package scanner

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"driftwatch/failure"
	"driftwatch/logger"
)

// Options configures one scan.
type Options struct {
	Files          []string
	Directories    []string
	Walker         *Walker
	Fingerprinter  *Fingerprinter
	Concurrency    int
	MaxIOPerSecond int
	Progress       bool
	Log            logrus.FieldLogger
	// Completed, when set, counts finished records while the scan runs.
	Completed      *atomic.Int64
}

// Metrics summarizes a scan.
type Metrics struct {
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	TotalFiles         int    `json:"total_files"`
	FilesFingerprinted int    `json:"files_fingerprinted"`
	FilesErrored       int    `json:"files_errored"`
}

// Scan expands the targets and fingerprints every path on a bounded worker
// pool. Records keep walk order regardless of completion order. Per-file
// failures become error stubs; only cancellation aborts the scan.
func Scan(ctx context.Context, opts Options, metrics *Metrics) ([]FileRecord, error) {
	log := logger.Or(opts.Log)
	if metrics == nil {
		metrics = &Metrics{}
	}
	metrics.StartTime = time.Now().UTC().Format(time.RFC3339)

	walker := opts.Walker
	if walker == nil {
		walker = &Walker{Log: log}
	}
	fp := opts.Fingerprinter
	if fp == nil {
		fp = &Fingerprinter{Log: log}
	}

	paths, err := walker.Expand(ctx, opts.Files, opts.Directories)
	if err != nil {
		return nil, failure.New(failure.ScanFailed, "", err)
	}
	metrics.TotalFiles = len(paths)
	log.Infof("Fingerprinting %d files", len(paths))

	total := len(paths)
	if total == 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Fingerprinting files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(opts.Progress && progressVisible()),
		progressbar.OptionFullWidth(),
	)

	var ioLimiter *rate.Limiter
	if opts.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(opts.MaxIOPerSecond), opts.MaxIOPerSecond)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	records := make([]FileRecord, len(paths))
	jobs := make(chan int, concurrency)
	go func() {
		defer close(jobs)
		for i := range paths {
			if ioLimiter != nil {
				if err := ioLimiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	var wg sync.WaitGroup
	var fingerprinted, errored atomic.Int64
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec := fp.Fingerprint(ctx, paths[i])
				records[i] = rec
				if opts.Completed != nil {
					opts.Completed.Add(1)
				}
				if rec.IsStub() {
					errored.Add(1)
				} else {
					fingerprinted.Add(1)
				}
				_ = bar.Add(1)
			}
		}()
	}
	wg.Wait()
	_ = bar.Finish()

	metrics.FilesFingerprinted = int(fingerprinted.Load())
	metrics.FilesErrored = int(errored.Load())
	metrics.EndTime = time.Now().UTC().Format(time.RFC3339)

	if err := ctx.Err(); err != nil {
		return nil, failure.New(failure.ScanFailed, "", err)
	}
	return records, nil
}

// ConcurrencyFor maps a nice level onto a worker count unless an explicit
// count was configured.
func ConcurrencyFor(nice string, explicit int, explicitSet bool) int {
	if explicitSet && explicit > 0 {
		return explicit
	}
	numCPU := runtime.NumCPU()
	switch nice {
	case "high":
		return numCPU
	case "low":
		return 1
	default:
		return max(numCPU/2, 1)
	}
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("DRIFTWATCH_DISABLE_PROGRESS")))
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
