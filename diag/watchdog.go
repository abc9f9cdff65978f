// Package diag watches a running scan for stalls. A scan that completes no
// file for a whole threshold usually sits on a hung mount or a blocked
// device; the watchdog logs that and can leave a goroutine profile behind.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"driftwatch/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold of zero disables the watchdog.
	StallThreshold time.Duration
	// Dir receives stall artifacts. Empty means log only.
	Dir      string
	Progress func() int64
	Now      func() time.Time
	Log      logrus.FieldLogger

	lookupProfile func(name string) profileWriter
}

type Watchdog struct {
	threshold     time.Duration
	dir           string
	progress      func() int64
	now           func() time.Time
	log           logrus.FieldLogger
	lookupProfile func(name string) profileWriter

	mu             sync.Mutex
	lastProgress   int64
	lastProgressAt time.Time
	lastReportAt   time.Time
	stalls         int

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(opts Options) *Watchdog {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lookup := opts.lookupProfile
	if lookup == nil {
		lookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	return &Watchdog{
		threshold:     opts.StallThreshold,
		dir:           opts.Dir,
		progress:      opts.Progress,
		now:           now,
		log:           logger.Or(opts.Log),
		lookupProfile: lookup,
	}
}

// Start polls progress until ctx ends or Stop is called. It does nothing
// when the watchdog is disabled or already running.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progress == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastProgress = w.progress()
	w.lastProgressAt = w.now()
	w.lastReportAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := min(max(w.threshold/2, 250*time.Millisecond), 2*time.Second)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.probe(w.now())
			}
		}
	}()
}

// Stop ends polling and waits for the poller to exit.
func (w *Watchdog) Stop() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

// Stalls returns how many stalls were reported.
func (w *Watchdog) Stalls() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stalls
}

func (w *Watchdog) probe(now time.Time) {
	progress := w.progress()

	w.mu.Lock()
	if progress != w.lastProgress || w.lastProgressAt.IsZero() {
		w.lastProgress = progress
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastProgressAt)
	report := stalledFor >= w.threshold &&
		(w.lastReportAt.IsZero() || now.Sub(w.lastReportAt) >= w.threshold)
	if report {
		w.lastReportAt = now
		w.stalls++
	}
	w.mu.Unlock()

	if !report {
		return
	}
	fields := logrus.Fields{
		"files_done": progress,
		"stalled_ms": stalledFor.Milliseconds(),
	}
	if w.dir == "" {
		w.log.WithFields(fields).Warn("scan made no progress")
		return
	}
	path, err := w.dump(now, progress, stalledFor)
	if err != nil {
		w.log.WithFields(fields).WithError(err).Warn("scan made no progress; writing stall artifacts failed")
		return
	}
	w.log.WithFields(fields).WithField("profile", path).Warn("scan made no progress")
}

// dump writes a JSON stall event and a full goroutine profile, returning the
// profile path.
func (w *Watchdog) dump(now time.Time, progress int64, stalledFor time.Duration) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event, err := json.MarshalIndent(map[string]interface{}{
		"event":        "scan_stalled",
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"files_done":   progress,
		"threshold_ms": w.threshold.Milliseconds(),
		"stalled_ms":   stalledFor.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("driftwatch-stall-%s.json", ts)), event, 0o600); err != nil {
		return "", err
	}
	return w.writeProfile("goroutine", ts)
}

func (w *Watchdog) writeProfile(name, ts string) (string, error) {
	profile := w.lookupProfile(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("driftwatch-%s-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, 2); err != nil {
		return "", err
	}
	return path, nil
}
