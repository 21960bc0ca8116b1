package training

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChangeType labels one field-level change in a diff.
type ChangeType string

// Diff change kinds.
const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// DiffEntry is one field-level change between two record versions.
type DiffEntry struct {
	Field      string     `json:"field"`
	OldValue   any        `json:"old_value"`
	NewValue   any        `json:"new_value"`
	ChangeType ChangeType `json:"change_type"`
}

// VersionDiff compares two snapshots of one training record.
type VersionDiff struct {
	Before  Data        `json:"before"`
	After   Data        `json:"after"`
	Changes []DiffEntry `json:"changes"`
	Summary string      `json:"summary"`
}

// GenerateDiff produces a field-by-field comparison of two snapshots of the
// same record. Differing IDs are an integrity violation, not a diff.
func GenerateDiff(before, after Data) (VersionDiff, error) {
	if before.ID != after.ID {
		return VersionDiff{}, NewIntegrityError(
			"version_id_mismatch",
			fmt.Sprintf("cannot diff records %q and %q", before.ID, after.ID),
		)
	}
	diff := VersionDiff{Before: before, After: after}

	diff.appendChange("pattern", before.Pattern, after.Pattern)
	diff.appendChange("patternType", string(before.PatternType), string(after.PatternType))
	diff.appendChange("confidence", before.Confidence, after.Confidence)
	diff.appendChange("positiveCount", before.PositiveCount, after.PositiveCount)
	diff.appendChange("negativeCount", before.NegativeCount, after.NegativeCount)
	diff.appendChange("seenCount", before.SeenCount, after.SeenCount)
	diff.appendChange("version", before.Version, after.Version)
	diff.appendChange("active", before.Active, after.Active)

	diff.Summary = summarize(before, after, diff.Changes)
	return diff, nil
}

func (d *VersionDiff) appendChange(field string, oldValue, newValue any) {
	if oldValue == newValue {
		return
	}
	change := ChangeModified
	if isZero(oldValue) && !isZero(newValue) {
		change = ChangeAdded
	} else if !isZero(oldValue) && isZero(newValue) {
		change = ChangeRemoved
	}
	d.Changes = append(d.Changes, DiffEntry{
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		ChangeType: change,
	})
}

func isZero(v any) bool {
	switch val := v.(type) {
	case string:
		return val == ""
	case int:
		return val == 0
	case float64:
		return val == 0
	case bool:
		return !val
	default:
		return v == nil
	}
}

func summarize(before, after Data, changes []DiffEntry) string {
	if len(changes) == 0 {
		return "No changes"
	}
	var parts []string
	if before.Active && !after.Active {
		parts = append(parts, "Deactivated")
	}
	if !before.Active && after.Active {
		parts = append(parts, "Activated")
	}
	if delta := after.PositiveCount - before.PositiveCount; delta > 0 {
		parts = append(parts, fmt.Sprintf("Positive feedback +%d", delta))
	}
	if delta := after.NegativeCount - before.NegativeCount; delta > 0 {
		parts = append(parts, fmt.Sprintf("Negative feedback +%d", delta))
	}
	if before.Confidence != after.Confidence {
		direction := "raised"
		if after.Confidence < before.Confidence {
			direction = "lowered"
		}
		parts = append(parts, fmt.Sprintf("Confidence %s to %.1f", direction, after.Confidence))
	}
	if before.Pattern != after.Pattern {
		parts = append(parts, "Pattern rewritten")
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d field(s) changed", len(changes)))
	}
	return strings.Join(parts, "; ")
}

// Validation is the outcome of an integrity check.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateIntegrity checks every training-data invariant: required fields,
// confidence bounds, non-negative counts, positive version, and the seen
// count covering all feedback.
func ValidateIntegrity(record Data) Validation {
	var errs []string
	if record.ID == "" {
		errs = append(errs, "id is required")
	}
	if record.SignalID == "" {
		errs = append(errs, "signal id is required")
	}
	if record.Pattern == "" {
		errs = append(errs, "pattern is required")
	}
	if record.Confidence < 0 || record.Confidence > 100 {
		errs = append(errs, fmt.Sprintf("confidence %.2f outside [0,100]", record.Confidence))
	}
	if record.PositiveCount < 0 {
		errs = append(errs, "positive count must be >= 0")
	}
	if record.NegativeCount < 0 {
		errs = append(errs, "negative count must be >= 0")
	}
	if record.SeenCount < 0 {
		errs = append(errs, "seen count must be >= 0")
	}
	if record.Version <= 0 {
		errs = append(errs, fmt.Sprintf("version %d must be > 0", record.Version))
	}
	if record.SeenCount < record.PositiveCount+record.NegativeCount {
		errs = append(errs, fmt.Sprintf(
			"seen count %d below positive+negative %d",
			record.SeenCount, record.PositiveCount+record.NegativeCount,
		))
	}
	return Validation{Valid: len(errs) == 0, Errors: errs}
}

// ChangeSeverity grades a changelog entry.
type ChangeSeverity string

// Changelog severities.
const (
	SeverityMajor ChangeSeverity = "major"
	SeverityMinor ChangeSeverity = "minor"
	SeverityPatch ChangeSeverity = "patch"
)

func (s ChangeSeverity) marker() string {
	switch s {
	case SeverityMajor:
		return "[major]"
	case SeverityMinor:
		return "[minor]"
	default:
		return "[patch]"
	}
}

// ChangelogChange is one change line within a version entry.
type ChangelogChange struct {
	Type        ChangeSeverity `json:"type"`
	Description string         `json:"description"`
}

// ChangelogEntry is the exported history for one version.
type ChangelogEntry struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Author    string            `json:"author"`
	Changes   []ChangelogChange `json:"changes"`
}

// ExportChangelogMarkdown renders version entries newest first, with a
// severity marker per change.
func ExportChangelogMarkdown(signalID string, entries []ChangelogEntry) string {
	ordered := make([]ChangelogEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version > ordered[j].Version })

	var b strings.Builder
	fmt.Fprintf(&b, "# Changelog: %s\n", signalID)
	for _, entry := range ordered {
		fmt.Fprintf(&b, "\n## Version %d (%s)\n", entry.Version, entry.Timestamp.UTC().Format("2006-01-02 15:04"))
		if entry.Author != "" {
			fmt.Fprintf(&b, "_by %s_\n", entry.Author)
		}
		for _, change := range entry.Changes {
			fmt.Fprintf(&b, "- %s %s\n", change.Type.marker(), change.Description)
		}
	}
	return b.String()
}
