package diff

import (
	"strings"
	"testing"

	"github.com/netbak/confbak/store"
)

func snap(text string) store.Snapshot {
	return store.Snapshot{Text: []byte(text)}
}

func TestDiffSelf(t *testing.T) {
	s := snap("hostname R1\ninterface Gi0/1\n ip address 10.0.0.1 255.255.255.0\n")

	result := Diff(s, s)

	if result.Changed() {
		t.Errorf("self diff reported changes: %s", result)
	}
	if len(result) != 3 {
		t.Errorf("self diff records: got=%d wanted=3", len(result))
	}
	for i, c := range result {
		if c.Op != Unchanged {
			t.Errorf("record %d: op got=%s wanted=unchanged", i, c.Op)
		}
		if c.OldLine != i+1 || c.NewLine != i+1 {
			t.Errorf("record %d: lines got=%d/%d wanted=%d/%d", i, c.OldLine, c.NewLine, i+1, i+1)
		}
	}
}

func TestDiffAddedLine(t *testing.T) {
	old := snap("hostname R1\n")
	cur := snap("hostname R1\ninterface Gi0/1\n")

	result := Diff(old, cur)

	if !result.Changed() {
		t.Fatalf("diff reported no changes")
	}
	if len(result) != 2 {
		t.Fatalf("records: got=%d wanted=2", len(result))
	}
	if result[0].Op != Unchanged || result[0].Text != "hostname R1" {
		t.Errorf("record 0: %+v", result[0])
	}
	if result[1].Op != Added || result[1].Text != "interface Gi0/1" {
		t.Errorf("record 1: %+v", result[1])
	}
	if result[1].NewLine != 2 || result[1].OldLine != 0 {
		t.Errorf("record 1 lines: old=%d new=%d", result[1].OldLine, result[1].NewLine)
	}

	if !strings.Contains(result.String(), "+ interface Gi0/1") {
		t.Errorf("string: %q", result.String())
	}
}

func TestDiffRemovedLine(t *testing.T) {
	old := snap("hostname R1\ninterface Gi0/1\n")
	cur := snap("hostname R1\n")

	result := Diff(old, cur)

	if len(result) != 2 {
		t.Fatalf("records: got=%d wanted=2", len(result))
	}
	if result[1].Op != Removed || result[1].Text != "interface Gi0/1" {
		t.Errorf("record 1: %+v", result[1])
	}
	if result[1].OldLine != 2 || result[1].NewLine != 0 {
		t.Errorf("record 1 lines: old=%d new=%d", result[1].OldLine, result[1].NewLine)
	}
}

func TestDiffReplacedLine(t *testing.T) {
	old := snap("hostname R1\nsnmp-server community old RO\n")
	cur := snap("hostname R1\nsnmp-server community new RO\n")

	result := Diff(old, cur)

	var added, removed, unchanged int
	for _, c := range result {
		switch c.Op {
		case Added:
			added++
		case Removed:
			removed++
		case Unchanged:
			unchanged++
		}
	}

	if added != 1 || removed != 1 || unchanged != 1 {
		t.Errorf("ops: added=%d removed=%d unchanged=%d wanted=1/1/1", added, removed, unchanged)
	}
}

func TestSplitLines(t *testing.T) {
	if lines := SplitLines([]byte("a\nb\n")); len(lines) != 2 {
		t.Errorf("trailing newline: got=%d wanted=2", len(lines))
	}
	if lines := SplitLines([]byte("a\nb")); len(lines) != 2 {
		t.Errorf("no trailing newline: got=%d wanted=2", len(lines))
	}
	if lines := SplitLines(nil); lines != nil {
		t.Errorf("empty: got=%v wanted=nil", lines)
	}
}
