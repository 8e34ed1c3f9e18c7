package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/netbak/confbak/temp"
)

// testLogger: wrap Printf interface around *testing.T
type testLogger struct {
	*testing.T
}

func (t *testLogger) Printf(format string, v ...interface{}) {
	t.Logf("store testLogger: "+format, v...)
}

func TestStore1(t *testing.T) {

	repo := temp.TempRepo("store")
	defer temp.CleanupTempRepo("store")

	region := os.Getenv("CONFBAK_S3_REGION")

	maxFiles := 2
	logger := &testLogger{t}
	Init(logger, region)

	prefix := filepath.Join(repo, "store-test.")
	storeBatch(t, prefix, maxFiles, logger)

	if region == "" {
		t.Logf("TestStore1: CONFBAK_S3_REGION undefined: skipping S3 tests")
		return
	}
	s3folder := os.Getenv("CONFBAK_S3_FOLDER")
	if s3folder == "" {
		t.Logf("TestStore1: CONFBAK_S3_FOLDER undefined: skipping S3 tests")
		return
	}

	prefix = fmt.Sprintf("arn:aws:s3:::%s/store-test.", s3folder)
	storeBatch(t, prefix, maxFiles, logger)
}

func storeBatch(t *testing.T, prefix string, maxFiles int, logger hasPrintf) {
	if err := storeWrite(t, prefix, "a", fmt.Sprintf("%s1", prefix), maxFiles, logger); err != nil {
		t.Errorf("TestStore1: %v", err)
	}

	if err := storeWrite(t, prefix, "b", fmt.Sprintf("%s2", prefix), maxFiles, logger); err != nil {
		t.Errorf("TestStore1: %v", err)
	}

	if err := storeWrite(t, prefix, "c", fmt.Sprintf("%s3", prefix), maxFiles, logger); err != nil {
		t.Errorf("TestStore1: %v", err)
	}

	if err := storeWrite(t, prefix, "d", fmt.Sprintf("%s4", prefix), maxFiles, logger); err != nil {
		t.Errorf("TestStore1: %v", err)
	}
}

func storeWrite(t *testing.T, prefix, content, expected string, maxFiles int, logger hasPrintf) error {

	c := []byte(content)

	writeFunc := func(w HasWrite) error {
		n, writeErr := w.Write(c)
		if writeErr != nil {
			return fmt.Errorf("writeFunc: error: %v", writeErr)
		}
		if n != len(c) {
			return fmt.Errorf("writeFunc: partial: wrote=%d size=%d", n, len(c))
		}
		return nil
	}

	path, writeErr := SaveNewEntry(prefix, maxFiles, logger, writeFunc, false)
	if writeErr != nil {
		return fmt.Errorf("storeWrite: error: %v", writeErr)
	}

	if path != expected {
		return fmt.Errorf("storeWrite: got=%s wanted=%s", path, expected)
	}

	found, findErr := FindLatest(prefix, logger)
	if findErr != nil {
		return fmt.Errorf("storeWrite: FindLatest: error: %v", findErr)
	}

	if found != expected {
		return fmt.Errorf("storeWrite: FindLatest: found=%s wanted=%s", found, expected)
	}

	return nil
}

func TestStoreChangesOnly(t *testing.T) {

	repo := temp.TempRepo("store")
	defer temp.CleanupTempRepo("store")

	logger := &testLogger{t}
	prefix := filepath.Join(repo, "dedup-test.")

	writeFunc := func(content string) func(HasWrite) error {
		return func(w HasWrite) error {
			_, err := w.Write([]byte(content))
			return err
		}
	}

	first, err1 := SaveNewEntry(prefix, 0, logger, writeFunc("a"), true)
	if err1 != nil {
		t.Fatalf("first save: %v", err1)
	}

	// identical content must not commit a new entry
	second, err2 := SaveNewEntry(prefix, 0, logger, writeFunc("a"), true)
	if err2 != nil {
		t.Fatalf("second save: %v", err2)
	}
	if second != first {
		t.Errorf("identical save: got=%s wanted=%s", second, first)
	}

	// changed content commits
	third, err3 := SaveNewEntry(prefix, 0, logger, writeFunc("b"), true)
	if err3 != nil {
		t.Fatalf("third save: %v", err3)
	}
	if third == first {
		t.Errorf("changed save reused entry: %s", third)
	}
	if third != fmt.Sprintf("%s2", prefix) {
		t.Errorf("changed save: got=%s wanted=%s2", third, prefix)
	}
}

func TestExtractSeq(t *testing.T) {
	seq, err := ExtractSeq("lab1.42")
	if err != nil {
		t.Fatalf("ExtractSeq: %v", err)
	}
	if seq != 42 {
		t.Errorf("ExtractSeq: got=%d wanted=42", seq)
	}

	if _, badErr := ExtractSeq("lab1.tmp"); badErr == nil {
		t.Errorf("ExtractSeq: expected error for non-numeric suffix")
	}
}
