package dev

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netbak/confbak/conf"
	"github.com/netbak/confbak/store"
	"github.com/netbak/confbak/temp"
)

// testLogger: wrap Printf interface around *testing.T
type testLogger struct {
	*testing.T
}

func (t *testLogger) Printf(format string, v ...interface{}) {
	t.Logf("dev testLogger: "+format, v...)
}

func testOptions() *conf.AppConfig {
	opt := conf.New().Options
	opt.MaxConcurrency = 2
	opt.CaptureTimeout = 100 * time.Millisecond
	opt.Holdtime = 0
	return &opt
}

func testFleet(logger hasPrintf, ids ...string) (*DeviceTable, []*Device) {
	tab := NewDeviceTable()
	RegisterModels(logger, tab)
	for _, id := range ids {
		CreateDevice(tab, logger, "linux", id, id+":22", "backup", "secret", false)
	}
	return tab, tab.ListDevices()
}

func newTestSnapshotStore(t *testing.T, repo string) *store.SnapshotStore {
	return store.NewSnapshotStore(repo, &testLogger{t}, store.SnapshotStoreOptions{
		DedupUnchanged:  true,
		NeverDeleteLast: true,
	})
}

func TestScanFleet(t *testing.T) {

	repo := temp.TempRepo("dev")
	defer temp.CleanupTempRepo("dev")

	logger := &testLogger{t}
	tab, devices := testFleet(logger, "lab1", "lab2", "lab3")
	snaps := newTestSnapshotStore(t, repo)
	filters := NewFilterTable(logger)

	capture := func(ctx context.Context, d *Device) ([]byte, error) {
		if d.ID == "lab2" {
			// hang until the per-device deadline fires
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte("hostname " + d.ID + "\n"), nil
	}

	report := Scan(context.Background(), tab, devices, snaps, capture, filters, logger, testOptions())

	if report.Succeeded != 2 {
		t.Errorf("succeeded: got=%d wanted=2", report.Succeeded)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed: got=%d wanted=1", len(report.Failed))
	}
	if report.Failed[0].DevID != "lab2" {
		t.Errorf("failed dev: got=%s wanted=lab2", report.Failed[0].DevID)
	}
	if !strings.Contains(report.Failed[0].Reason, "timed out") {
		t.Errorf("failed reason: got=%s", report.Failed[0].Reason)
	}
	if len(report.Skipped) != 0 {
		t.Errorf("skipped: got=%d wanted=0", len(report.Skipped))
	}

	// one device failing never blocks the others from committing
	for _, id := range []string{"lab1", "lab3"} {
		latest, latestErr := snaps.Latest(id)
		if latestErr != nil {
			t.Fatalf("latest %s: %v", id, latestErr)
		}
		if latest.Seq != 1 {
			t.Errorf("latest %s: seq got=%d wanted=1", id, latest.Seq)
		}
	}

	good, _ := tab.GetDevice("lab1")
	if !good.LastStatus() {
		t.Errorf("lab1: lastStatus got=false wanted=true")
	}
	bad, _ := tab.GetDevice("lab2")
	if bad.LastStatus() {
		t.Errorf("lab2: lastStatus got=true wanted=false")
	}
}

func TestScanCancel(t *testing.T) {

	repo := temp.TempRepo("dev")
	defer temp.CleanupTempRepo("dev")

	logger := &testLogger{t}
	tab, devices := testFleet(logger, "lab1", "lab2", "lab3")
	snaps := newTestSnapshotStore(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // canceled before the run starts

	capture := func(ctx context.Context, d *Device) ([]byte, error) {
		t.Errorf("capture called for %s after cancellation", d.ID)
		return nil, nil
	}

	report := Scan(ctx, tab, devices, snaps, capture, nil, logger, testOptions())

	if report.Succeeded != 0 {
		t.Errorf("succeeded: got=%d wanted=0", report.Succeeded)
	}
	if len(report.Skipped) != 3 {
		t.Errorf("skipped: got=%d wanted=3", len(report.Skipped))
	}
}

func TestScanConcurrencyCap(t *testing.T) {

	repo := temp.TempRepo("dev")
	defer temp.CleanupTempRepo("dev")

	logger := &testLogger{t}
	tab, devices := testFleet(logger, "lab1", "lab2", "lab3", "lab4", "lab5")
	snaps := newTestSnapshotStore(t, repo)

	var mutex sync.Mutex
	var inFlight, peak int

	capture := func(ctx context.Context, d *Device) ([]byte, error) {
		mutex.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mutex.Unlock()

		time.Sleep(20 * time.Millisecond)

		mutex.Lock()
		inFlight--
		mutex.Unlock()

		return []byte("hostname " + d.ID + "\n"), nil
	}

	opt := testOptions()
	opt.MaxConcurrency = 2

	report := Scan(context.Background(), tab, devices, snaps, capture, nil, logger, opt)

	if report.Succeeded != 5 {
		t.Errorf("succeeded: got=%d wanted=5", report.Succeeded)
	}

	mutex.Lock()
	defer mutex.Unlock()
	if peak > 2 {
		t.Errorf("concurrency peak: got=%d wanted<=2", peak)
	}
}

func TestScanHoldtime(t *testing.T) {

	repo := temp.TempRepo("dev")
	defer temp.CleanupTempRepo("dev")

	logger := &testLogger{t}
	tab, devices := testFleet(logger, "lab1", "lab2")
	snaps := newTestSnapshotStore(t, repo)

	// lab1 backed up moments ago, still under holdtime
	fresh, _ := tab.GetDevice("lab1")
	updateDeviceStatus(tab, fresh.ID, true, time.Now(), logger)

	capture := func(ctx context.Context, d *Device) ([]byte, error) {
		return []byte("hostname " + d.ID + "\n"), nil
	}

	opt := testOptions()
	opt.Holdtime = time.Hour

	report := Scan(context.Background(), tab, devices, snaps, capture, nil, logger, opt)

	if report.Succeeded != 1 {
		t.Errorf("succeeded: got=%d wanted=1", report.Succeeded)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "lab1" {
		t.Errorf("skipped: got=%v wanted=[lab1]", report.Skipped)
	}
}
