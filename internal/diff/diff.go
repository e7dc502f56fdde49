// Package diff produces and applies unified line diffs between policy texts.
package diff

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// contextLines is the number of unchanged lines shown around each hunk.
const contextLines = 3

// Unified renders a classic ---/+++/@@ diff between two texts. Output is
// deterministic: identical inputs always produce byte-identical diffs.
func Unified(oldText, newText, oldLabel, newLabel string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  contextLines,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return out, nil
}

// Initial renders a synthetic all-added diff for a source's first version,
// where there is no prior text to diff against.
func Initial(newText, newLabel string) string {
	lines := difflib.SplitLines(newText)
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- /dev/null\n+++ %s\n", newLabel)
	fmt.Fprintf(&sb, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, line := range lines {
		sb.WriteString("+")
		sb.WriteString(line)
	}
	return sb.String()
}

// Apply patches oldText with a unified diff and returns the new text. It is
// the inverse of Unified: Apply(old, Unified(old, new)) == new.
func Apply(oldText, unified string) (string, error) {
	var oldLines []string
	if oldText != "" {
		oldLines = difflib.SplitLines(oldText)
	}

	var out strings.Builder
	oldPos := 0 // next unconsumed old line, zero-based

	lines := strings.SplitAfter(unified, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			continue
		case strings.HasPrefix(line, "@@ "):
			start, err := parseHunkOldStart(line)
			if err != nil {
				return "", err
			}
			// Copy untouched lines between the previous hunk and this one.
			for oldPos < start && oldPos < len(oldLines) {
				out.WriteString(oldLines[oldPos])
				oldPos++
			}
		case strings.HasPrefix(line, " "):
			if oldPos >= len(oldLines) {
				return "", fmt.Errorf("context line beyond end of original text")
			}
			out.WriteString(oldLines[oldPos])
			oldPos++
		case strings.HasPrefix(line, "-"):
			if oldPos >= len(oldLines) {
				return "", fmt.Errorf("removal beyond end of original text")
			}
			oldPos++
		case strings.HasPrefix(line, "+"):
			out.WriteString(line[1:])
		default:
			return "", fmt.Errorf("malformed diff line %q", strings.TrimSuffix(line, "\n"))
		}
	}

	for oldPos < len(oldLines) {
		out.WriteString(oldLines[oldPos])
		oldPos++
	}

	return strings.TrimSuffix(out.String(), "\n"), nil
}

// parseHunkOldStart extracts the zero-based old-side start line from an
// "@@ -start,count +start,count @@" header.
func parseHunkOldStart(header string) (int, error) {
	fields := strings.Fields(header)
	if len(fields) < 3 || !strings.HasPrefix(fields[1], "-") {
		return 0, fmt.Errorf("malformed hunk header %q", header)
	}
	spec := strings.TrimPrefix(fields[1], "-")
	if idx := strings.IndexByte(spec, ','); idx >= 0 {
		spec = spec[:idx]
	}
	start, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("malformed hunk header %q: %w", header, err)
	}
	if start > 0 {
		start--
	}
	return start, nil
}
