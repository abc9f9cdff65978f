// Package ports collects the open-ports auxiliary fact stored next to file
// fingerprints. The list is opaque to the rest of driftwatch.
package ports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"driftwatch/failure"
	"driftwatch/logger"
	"driftwatch/scanner"
)

// Probe backends.
const (
	ProbeCommand  = "command"
	ProbeGopsutil = "gopsutil"
	ProbeProcNet  = "procnet"
)

// DefaultCommand lists listening TCP and UDP sockets without a header.
const DefaultCommand = "ss -H -tuln"

// Prober returns the current listener lines.
type Prober interface {
	Probe(ctx context.Context) ([]string, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) ([]string, error)

func (f ProberFunc) Probe(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// New builds the prober for a configured backend.
func New(kind, command string, timeout time.Duration) (Prober, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", ProbeCommand:
		if strings.TrimSpace(command) == "" {
			command = DefaultCommand
		}
		return &CommandProber{Command: strings.Fields(command), Timeout: timeout}, nil
	case ProbeGopsutil:
		return &GopsutilProber{Timeout: timeout}, nil
	case ProbeProcNet:
		return &ProcNetProber{}, nil
	default:
		return nil, fmt.Errorf("unknown ports probe %q", kind)
	}
}

// Collect runs the prober. A failure never aborts the run: it is logged as
// AuxiliaryUnavailable and recorded as a nil list plus an error marker.
func Collect(ctx context.Context, p Prober, log logrus.FieldLogger) scanner.Auxiliary {
	log = logger.Or(log)
	if p == nil {
		return scanner.Auxiliary{}
	}
	lines, err := p.Probe(ctx)
	if err != nil {
		ferr := failure.New(failure.AuxiliaryUnavailable, "", err)
		log.WithFields(logrus.Fields{
			"error_kind": ferr.Kind,
			"error":      err,
		}).Warn("open ports unavailable")
		return scanner.Auxiliary{OpenPortsError: ferr.Error()}
	}
	if lines == nil {
		lines = []string{}
	}
	log.WithField("listeners", len(lines)).Debug("open ports collected")
	return scanner.Auxiliary{OpenPorts: lines}
}
