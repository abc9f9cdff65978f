package divergence

import (
	"fmt"
	"slices"
	"strings"

	"driftwatch/fuzzy"
	"driftwatch/hasher"
	"driftwatch/scanner"
)

// PortsPolicy decides how a change in open ports affects the verdict.
type PortsPolicy string

const (
	// PortsDivergent reports the change and marks the check DIVERGENT.
	PortsDivergent PortsPolicy = "divergent"
	// PortsReport reports the change without affecting the state.
	PortsReport PortsPolicy = "report"
	// PortsIgnore skips the comparison.
	PortsIgnore PortsPolicy = "ignore"
)

// Comparable field names, as they appear in saved records.
const (
	FieldSize         = "size"
	FieldLastModified = "last_modified"
	FieldCreated      = "created"
	FieldOwner        = "owner"
	FieldGroup        = "group"
	FieldMode         = "mode"
	FieldMimeType     = "mime_type"
)

var metadataFields = []string{
	FieldSize, FieldLastModified, FieldCreated, FieldOwner, FieldGroup, FieldMode, FieldMimeType,
}

// Fields returns every name accepted in Options.IgnoreFields.
func Fields() []string {
	return append(slices.Clone(metadataFields), hasher.Names()...)
}

// ValidField reports whether name can be ignored.
func ValidField(name string) bool {
	return slices.Contains(Fields(), canonicalField(name))
}

type Options struct {
	PortsPolicy  PortsPolicy
	IgnoreFields []string
	// Fuzzy scores MODIFIED records that carry fuzzy digests on both sides.
	// Nil uses the registered TLSH hasher.
	Fuzzy fuzzy.Hasher
}

// Compare matches records by path and classifies every difference. Capture
// times and scan ids never take part in equality. The result depends only on
// the two collections and opts.
func Compare(baseline, current *scanner.Collection, opts Options) Report {
	if baseline == nil || current == nil {
		return ErrorReport(fmt.Errorf("nothing to compare"))
	}
	ignored := make(map[string]struct{}, len(opts.IgnoreFields))
	for _, field := range opts.IgnoreFields {
		ignored[canonicalField(field)] = struct{}{}
	}
	fuzzyHasher := opts.Fuzzy
	if fuzzyHasher == nil {
		fuzzyHasher, _ = fuzzy.Lookup(fuzzy.TLSH)
	}

	before := baseline.Index()
	after := current.Index()
	summary := &Summary{}
	changed := []PathDelta{}

	for path, old := range before {
		cur, ok := after[path]
		if !ok {
			changed = append(changed, PathDelta{Path: path, Kind: Removed, Before: ptr(old)})
			summary.Removed++
			continue
		}
		if old.IsStub() || cur.IsStub() {
			changed = append(changed, PathDelta{Path: path, Kind: Errored, Before: ptr(old), After: ptr(cur)})
			summary.Errored++
			continue
		}
		fields := diffFields(old, cur, ignored)
		if len(fields) == 0 {
			summary.Unchanged++
			continue
		}
		delta := PathDelta{Path: path, Kind: Modified, Before: ptr(old), After: ptr(cur), Fields: fields}
		if fuzzyHasher != nil && old.FuzzyHash != "" && cur.FuzzyHash != "" {
			if d, err := fuzzyHasher.Distance(old.FuzzyHash, cur.FuzzyHash); err == nil {
				delta.SimilarityDistance = &d
			}
		}
		changed = append(changed, delta)
		summary.Modified++
	}
	for path, cur := range after {
		if _, ok := before[path]; !ok {
			changed = append(changed, PathDelta{Path: path, Kind: Added, After: ptr(cur)})
			summary.Added++
		}
	}
	slices.SortFunc(changed, func(a, b PathDelta) int {
		return strings.Compare(a.Path, b.Path)
	})

	report := Report{
		State:              StateOK,
		ChangedPaths:       changed,
		BaselineScanID:     baseline.ScanID,
		BaselineCapturedAt: ptr(baseline.CapturedAt),
		CurrentScanID:      current.ScanID,
		CurrentCapturedAt:  ptr(current.CapturedAt),
		Summary:            summary,
	}
	if len(changed) > 0 {
		report.State = StateDivergent
	}

	if opts.PortsPolicy != PortsIgnore {
		if delta := comparePorts(baseline.Auxiliary, current.Auxiliary); delta != nil {
			report.Ports = delta
			if delta.Kind == PortsChanged && opts.PortsPolicy != PortsReport {
				report.State = StateDivergent
			}
		}
	}
	return report
}

// diffFields returns the names of the fields that differ, in a fixed order.
// Digests and the mime type are compared only when present on both sides.
func diffFields(a, b scanner.FileRecord, ignored map[string]struct{}) []string {
	var fields []string
	check := func(name string, differs bool) {
		if !differs {
			return
		}
		if _, skip := ignored[name]; skip {
			return
		}
		fields = append(fields, name)
	}
	check(FieldSize, a.Size != b.Size)
	check(FieldLastModified, a.ModifiedTime != b.ModifiedTime)
	check(FieldCreated, a.ChangedTime != b.ChangedTime)
	check(FieldOwner, a.Owner != b.Owner)
	check(FieldGroup, a.Group != b.Group)
	check(FieldMode, a.Mode != b.Mode)
	if a.MimeType != "" && b.MimeType != "" {
		check(FieldMimeType, a.MimeType != b.MimeType)
	}
	for _, algo := range hasher.Names() {
		da, okA := a.Digests[algo]
		db, okB := b.Digests[algo]
		if okA && okB {
			check(algo, da != db)
		}
	}
	return fields
}

// comparePorts treats each list as opaque and ordered. A failed probe on
// either side yields a PORTS_UNAVAILABLE delta, which never changes the
// state. Nil lists without an error mean the ports were not collected.
func comparePorts(base, cur scanner.Auxiliary) *PortsDelta {
	if base.OpenPortsError != "" || cur.OpenPortsError != "" {
		return &PortsDelta{
			Kind:        PortsUnavailable,
			Before:      base.OpenPorts,
			After:       cur.OpenPorts,
			BeforeError: base.OpenPortsError,
			AfterError:  cur.OpenPortsError,
		}
	}
	before, after := base.OpenPorts, cur.OpenPorts
	if before == nil || after == nil || slices.Equal(before, after) {
		return nil
	}
	return &PortsDelta{
		Kind:   PortsChanged,
		Before: before,
		After:  after,
		Opened: missingFrom(after, before),
		Closed: missingFrom(before, after),
	}
}

// missingFrom returns the entries of a that do not appear in b.
func missingFrom(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, line := range b {
		set[line] = struct{}{}
	}
	var out []string
	for _, line := range a {
		if _, ok := set[line]; !ok {
			out = append(out, line)
		}
	}
	return out
}

func canonicalField(name string) string {
	name = strings.TrimSpace(name)
	upper := strings.ToUpper(name)
	if hasher.Supported(upper) {
		return upper
	}
	return strings.ToLower(name)
}

func ptr[T any](v T) *T {
	return &v
}
