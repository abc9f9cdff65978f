// Package divergence compares a fresh fingerprint collection against a
// baseline and reports what changed.
package divergence

import (
	"time"

	"driftwatch/failure"
	"driftwatch/scanner"
)

// State is the overall verdict of a check.
type State string

const (
	StateOK        State = "OK"
	StateDivergent State = "DIVERGENT"
	StateError     State = "ERROR"
)

// DeltaKind classifies one changed path.
type DeltaKind string

const (
	Added    DeltaKind = "ADDED"
	Removed  DeltaKind = "REMOVED"
	Modified DeltaKind = "MODIFIED"
	Errored  DeltaKind = "ERRORED"
)

// Kinds of a ports delta.
const (
	PortsChanged     = "PORTS_CHANGED"
	PortsUnavailable = "PORTS_UNAVAILABLE"
)

// PathDelta describes one path that differs between baseline and current.
type PathDelta struct {
	Path   string              `json:"path"`
	Kind   DeltaKind           `json:"kind"`
	Before *scanner.FileRecord `json:"before,omitempty"`
	After  *scanner.FileRecord `json:"after,omitempty"`
	// Fields lists the differing fields of a MODIFIED record.
	Fields             []string `json:"fields,omitempty"`
	SimilarityDistance *int     `json:"similarity_distance,omitempty"`
}

// PortsDelta describes a change in the open-ports list. A PORTS_UNAVAILABLE
// delta carries the probe error of the side that could not be collected.
type PortsDelta struct {
	Kind        string   `json:"kind"`
	Before      []string `json:"before"`
	After       []string `json:"after"`
	Opened      []string `json:"opened,omitempty"`
	Closed      []string `json:"closed,omitempty"`
	BeforeError string   `json:"before_error,omitempty"`
	AfterError  string   `json:"after_error,omitempty"`
}

type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Modified  int `json:"modified"`
	Errored   int `json:"errored"`
	Unchanged int `json:"unchanged"`
}

// Report is the result of a check.
type Report struct {
	State        State        `json:"state"`
	ChangedPaths []PathDelta  `json:"changed_paths"`
	Ports        *PortsDelta  `json:"ports,omitempty"`
	Message      string       `json:"message,omitempty"`
	ErrorKind    failure.Kind `json:"error_kind,omitempty"`

	BaselineScanID     string     `json:"baseline_scan_id,omitempty"`
	BaselineCapturedAt *time.Time `json:"baseline_captured_at,omitempty"`
	CurrentScanID      string     `json:"current_scan_id,omitempty"`
	CurrentCapturedAt  *time.Time `json:"current_captured_at,omitempty"`

	Summary *Summary `json:"summary,omitempty"`
}

// ErrorReport builds the ERROR report for a check that could not compare,
// such as a missing or corrupt baseline or a failed scan.
func ErrorReport(err error) Report {
	r := Report{State: StateError, ChangedPaths: []PathDelta{}}
	if err != nil {
		r.Message = err.Error()
		r.ErrorKind = failure.KindOf(err)
	}
	return r
}
