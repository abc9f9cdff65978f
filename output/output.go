// Package output renders check reports and exports scan results.
package output

import (
	"io"

	"driftwatch/divergence"
)

// WriteReport writes the report as indented JSON followed by a newline.
// A report always carries a changed_paths array, empty when nothing changed.
func WriteReport(w io.Writer, report divergence.Report) error {
	if report.ChangedPaths == nil {
		report.ChangedPaths = []divergence.PathDelta{}
	}
	return encodeIndented(w, report)
}
