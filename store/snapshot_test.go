package store

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/netbak/confbak/temp"
)

func newTestSnapshotStore(t *testing.T, repo string) *SnapshotStore {
	return NewSnapshotStore(repo, &testLogger{t}, SnapshotStoreOptions{
		DedupUnchanged:  true,
		NeverDeleteLast: true,
	})
}

func TestSnapshotPut(t *testing.T) {

	repo := temp.TempRepo("store")
	defer temp.CleanupTempRepo("store")

	snaps := newTestSnapshotStore(t, repo)

	s1, err1 := snaps.Put("lab1", []byte("hostname A\n"), time.Now())
	if err1 != nil {
		t.Fatalf("put 1: %v", err1)
	}
	if s1.Seq != 1 {
		t.Errorf("put 1: seq got=%d wanted=1", s1.Seq)
	}
	if s1.Hash != HashBytes([]byte("hostname A\n")) {
		t.Errorf("put 1: hash mismatch")
	}

	s2, err2 := snaps.Put("lab1", []byte("hostname B\n"), time.Now())
	if err2 != nil {
		t.Fatalf("put 2: %v", err2)
	}
	if s2.Seq != 2 {
		t.Errorf("put 2: seq got=%d wanted=2", s2.Seq)
	}

	// unchanged capture must not grow the history
	s3, err3 := snaps.Put("lab1", []byte("hostname B\n"), time.Now())
	if err3 != nil {
		t.Fatalf("put 3: %v", err3)
	}
	if s3.Seq != 2 {
		t.Errorf("put 3: dedup seq got=%d wanted=2", s3.Seq)
	}

	latest, latestErr := snaps.Latest("lab1")
	if latestErr != nil {
		t.Fatalf("latest: %v", latestErr)
	}
	if latest.Seq != 2 {
		t.Errorf("latest: seq got=%d wanted=2", latest.Seq)
	}

	got, getErr := snaps.Get("lab1", 1)
	if getErr != nil {
		t.Fatalf("get 1: %v", getErr)
	}
	if !bytes.Equal(got.Text, []byte("hostname A\n")) {
		t.Errorf("get 1: text got=[%s]", got.Text)
	}

	if _, missErr := snaps.Get("lab1", 99); !errors.Is(missErr, ErrSnapshotNotFound) {
		t.Errorf("get 99: error got=%v wanted=ErrSnapshotNotFound", missErr)
	}

	if _, missErr := snaps.Latest("ghost"); !errors.Is(missErr, ErrSnapshotNotFound) {
		t.Errorf("latest ghost: error got=%v wanted=ErrSnapshotNotFound", missErr)
	}
}

func TestSnapshotDelete(t *testing.T) {

	repo := temp.TempRepo("store")
	defer temp.CleanupTempRepo("store")

	snaps := newTestSnapshotStore(t, repo)

	if _, err := snaps.Put("lab1", []byte("a\n"), time.Now()); err != nil {
		t.Fatalf("put 1: %v", err)
	}

	// refuse to delete the only remaining snapshot
	if err := snaps.Delete("lab1", 1); !errors.Is(err, ErrPolicyViolation) {
		t.Errorf("delete last: error got=%v wanted=ErrPolicyViolation", err)
	}

	if _, err := snaps.Put("lab1", []byte("b\n"), time.Now()); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	if err := snaps.Delete("lab1", 1); err != nil {
		t.Fatalf("delete 1: %v", err)
	}

	if _, missErr := snaps.Get("lab1", 1); !errors.Is(missErr, ErrSnapshotNotFound) {
		t.Errorf("get deleted: error got=%v wanted=ErrSnapshotNotFound", missErr)
	}

	if err := snaps.Delete("lab1", 1); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("delete again: error got=%v wanted=ErrSnapshotNotFound", err)
	}
}

// deleting the newest snapshot must not cause sequence reuse
func TestSnapshotSequenceNeverReused(t *testing.T) {

	repo := temp.TempRepo("store")
	defer temp.CleanupTempRepo("store")

	snaps := newTestSnapshotStore(t, repo)

	if _, err := snaps.Put("lab1", []byte("a\n"), time.Now()); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if _, err := snaps.Put("lab1", []byte("b\n"), time.Now()); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	if err := snaps.Delete("lab1", 2); err != nil {
		t.Fatalf("delete 2: %v", err)
	}

	s, putErr := snaps.Put("lab1", []byte("c\n"), time.Now())
	if putErr != nil {
		t.Fatalf("put 3: %v", putErr)
	}
	if s.Seq != 3 {
		t.Errorf("put after delete: seq got=%d wanted=3", s.Seq)
	}
}

func TestSnapshotList(t *testing.T) {

	repo := temp.TempRepo("store")
	defer temp.CleanupTempRepo("store")

	snaps := newTestSnapshotStore(t, repo)

	base := time.Now().Add(-3 * time.Hour).Truncate(time.Second)

	for i, text := range []string{"a\n", "b\n", "c\n"} {
		if _, err := snaps.Put("lab1", []byte(text), base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("put %d: %v", i+1, err)
		}
	}

	all, allErr := snaps.List("lab1", time.Time{}, time.Time{})
	if allErr != nil {
		t.Fatalf("list all: %v", allErr)
	}
	if len(all) != 3 {
		t.Fatalf("list all: got=%d wanted=3", len(all))
	}
	for i, snap := range all {
		if snap.Seq != i+1 {
			t.Errorf("list all: entry %d seq got=%d wanted=%d", i, snap.Seq, i+1)
		}
	}

	// from is inclusive
	from, fromErr := snaps.List("lab1", base.Add(time.Hour), time.Time{})
	if fromErr != nil {
		t.Fatalf("list from: %v", fromErr)
	}
	if len(from) != 2 {
		t.Errorf("list from: got=%d wanted=2", len(from))
	}

	// to is exclusive
	window, windowErr := snaps.List("lab1", base.Add(time.Hour), base.Add(2*time.Hour))
	if windowErr != nil {
		t.Fatalf("list window: %v", windowErr)
	}
	if len(window) != 1 {
		t.Fatalf("list window: got=%d wanted=1", len(window))
	}
	if window[0].Seq != 2 {
		t.Errorf("list window: seq got=%d wanted=2", window[0].Seq)
	}

	// a device without history is not an error
	none, noneErr := snaps.List("ghost", time.Time{}, time.Time{})
	if noneErr != nil {
		t.Errorf("list ghost: %v", noneErr)
	}
	if len(none) != 0 {
		t.Errorf("list ghost: got=%d wanted=0", len(none))
	}
}
