// Package diff computes line-based deltas between configuration snapshots.
package diff

import (
	"fmt"
	"strings"

	"github.com/udhos/difflib"

	"github.com/netbak/confbak/store"
)

// Op classifies one line of a diff result.
type Op int

// Line operations.
const (
	Unchanged Op = iota
	Added
	Removed
)

func (op Op) String() string {
	switch op {
	case Added:
		return "+"
	case Removed:
		return "-"
	}
	return " "
}

// Change is one line-level change record. Line numbers are 1-based; OldLine
// is zero for added lines, NewLine is zero for removed lines.
type Change struct {
	Op      Op
	OldLine int
	NewLine int
	Text    string
}

// Result is the ordered sequence of change records between two snapshots.
type Result []Change

// Changed reports whether the result contains any added or removed line.
func (r Result) Changed() bool {
	for _, c := range r {
		if c.Op != Unchanged {
			return true
		}
	}
	return false
}

func (r Result) String() string {
	var b strings.Builder
	for _, c := range r {
		fmt.Fprintf(&b, "%s %s\n", c.Op, c.Text)
	}
	return b.String()
}

// SplitLines breaks configuration text into lines for diffing. A trailing
// newline does not produce a final empty line.
func SplitLines(buf []byte) []string {
	text := strings.TrimSuffix(string(buf), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Diff aligns two snapshots line by line. It is a pure function: identical
// input pairs always produce identical output, and diffing a snapshot
// against itself yields only Unchanged records.
func Diff(old, new store.Snapshot) Result {
	return diffLines(SplitLines(old.Text), SplitLines(new.Text))
}

func diffLines(oldLines, newLines []string) Result {

	records := difflib.Diff(oldLines, newLines)

	result := make(Result, 0, len(records))

	var oldLine, newLine int

	for _, rec := range records {
		switch rec.Delta {
		case difflib.LeftOnly:
			oldLine++
			result = append(result, Change{Op: Removed, OldLine: oldLine, Text: rec.Payload})
		case difflib.RightOnly:
			newLine++
			result = append(result, Change{Op: Added, NewLine: newLine, Text: rec.Payload})
		case difflib.Common:
			oldLine++
			newLine++
			result = append(result, Change{Op: Unchanged, OldLine: oldLine, NewLine: newLine, Text: rec.Payload})
		}
	}

	return result
}
