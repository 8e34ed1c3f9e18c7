package conf

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/netbak/confbak/store"
	"github.com/netbak/confbak/temp"
)

// testLogger: wrap Printf interface around *testing.T
type testLogger struct {
	*testing.T
}

func (t *testLogger) Printf(format string, v ...interface{}) {
	t.Logf("conf testLogger: "+format, v...)
}

func TestConfRoundTrip(t *testing.T) {

	repo := temp.TempRepo("conf")
	defer temp.CleanupTempRepo("conf")

	logger := &testLogger{t}

	cfg := New()
	cfg.Options.MaxConcurrency = 7
	cfg.Options.RetentionDays = 30
	cfg.Options.MinKeep = 4
	cfg.Devices = append(cfg.Devices, DevConfig{
		Model:         "cisco-ios",
		ID:            "lab1",
		HostPort:      "10.0.0.1",
		LoginUser:     "backup",
		LoginPassword: "secret",
	})

	prefix := filepath.Join(repo, "conf-test.")

	writeFunc := func(w store.HasWrite) error {
		b, dumpErr := cfg.Dump()
		if dumpErr != nil {
			return dumpErr
		}
		n, wrErr := w.Write(b)
		if wrErr != nil {
			return wrErr
		}
		if n != len(b) {
			return fmt.Errorf("partial write: wrote=%d size=%d", n, len(b))
		}
		return nil
	}

	path, saveErr := store.SaveNewEntry(prefix, 2, logger, writeFunc, true)
	if saveErr != nil {
		t.Fatalf("save: %v", saveErr)
	}

	loaded, loadErr := Load(path, cfg.Options.MaxConfigLoadSize)
	if loadErr != nil {
		t.Fatalf("load: %v", loadErr)
	}

	if loaded.Options.MaxConcurrency != 7 {
		t.Errorf("maxConcurrency: got=%d wanted=7", loaded.Options.MaxConcurrency)
	}
	if loaded.Options.RetentionDays != 30 {
		t.Errorf("retentionDays: got=%d wanted=30", loaded.Options.RetentionDays)
	}
	if loaded.Options.MinKeep != 4 {
		t.Errorf("minKeep: got=%d wanted=4", loaded.Options.MinKeep)
	}
	if len(loaded.Devices) != 1 {
		t.Fatalf("devices: got=%d wanted=1", len(loaded.Devices))
	}
	d := loaded.Devices[0]
	if d.ID != "lab1" || d.Model != "cisco-ios" || d.HostPort != "10.0.0.1" {
		t.Errorf("device mismatch: %+v", d)
	}

	// unchanged config must not commit a new entry
	again, againErr := store.SaveNewEntry(prefix, 2, logger, writeFunc, true)
	if againErr != nil {
		t.Fatalf("save again: %v", againErr)
	}
	if again != path {
		t.Errorf("save again: got=%s wanted=%s", again, path)
	}
}

func TestOptionsCloneSemantics(t *testing.T) {

	options := NewOptions()

	first := New().Options
	first.MaxConcurrency = 3
	options.Set(&first)

	// mutating the source after Set must not leak into the store
	first.MaxConcurrency = 99

	got := options.Get()
	if got.MaxConcurrency != 3 {
		t.Errorf("set leaked: got=%d wanted=3", got.MaxConcurrency)
	}

	// mutating a Get result must not leak either
	got.MaxConcurrency = 55
	if options.Get().MaxConcurrency != 3 {
		t.Errorf("get leaked: got=%d wanted=3", options.Get().MaxConcurrency)
	}
}
