package dev

import (
	"context"
	"fmt"
	"time"

	"github.com/netbak/confbak/conf"
	"github.com/netbak/confbak/store"
)

// Backup result codes.
const (
	backupErrNone      = 0
	backupErrTransport = 1
	backupErrTimeout   = 2
	backupErrSave      = 3
)

// CaptureFunc retrieves the raw configuration text of one device.
type CaptureFunc func(ctx context.Context, d *Device) ([]byte, error)

// BackupResult is the outcome of one per-device backup attempt.
type BackupResult struct {
	Model       string
	DevID       string
	DevHostPort string
	Msg         string // result error message
	Code        int    // result error code
	Seq         int    // committed snapshot sequence number
	Begin       time.Time
	End         time.Time
}

// Failure is one failed device of a fleet run.
type Failure struct {
	DevID  string
	Reason string
}

// Report aggregates one fleet backup run.
type Report struct {
	Succeeded int
	Failed    []Failure
	Skipped   []string
	Elapsed   time.Duration
}

// Scan drives one backup run over the fleet. Per-device captures run in
// parallel, capped at opt.MaxConcurrency; devices beyond the cap queue and
// are admitted as slots free. One device failing or timing out never aborts
// the others. Canceling the context stops admitting new devices and lets
// in-flight captures finish or hit their own deadline; the partial report is
// returned, cancellation is not an error.
func Scan(ctx context.Context, tab DeviceUpdater, devices []*Device, snaps *store.SnapshotStore, capture CaptureFunc, filters *FilterTable, logger hasPrintf, opt *conf.AppConfig) Report {

	begin := time.Now()
	deviceCount := len(devices)

	logger.Printf("Scan: starting devices=%d maxConcurrency=%d", deviceCount, opt.MaxConcurrency)

	var report Report
	if deviceCount < 1 {
		logger.Printf("Scan: empty fleet, aborting")
		return report
	}

	resultCh := make(chan BackupResult)

	wait := 0       // captures in flight
	nextDevice := 0 // device iterator
	elapMax := 0 * time.Second
	elapMin := 24 * time.Hour
	canceled := false

	for nextDevice < deviceCount || wait > 0 {

		// launch additional devices
		for ; nextDevice < deviceCount; nextDevice++ {

			if opt.MaxConcurrency > 0 && wait >= opt.MaxConcurrency {
				break // max concurrent limit reached
			}

			d := devices[nextDevice]

			if !canceled && ctx.Err() != nil {
				canceled = true
				logger.Printf("Scan: canceled, not admitting further devices")
			}
			if canceled {
				report.Skipped = append(report.Skipped, d.ID)
				continue
			}

			if h := d.Holdtime(time.Now(), opt.Holdtime); h > 0 {
				// do not handle device yet (holdtime not expired)
				logger.Printf("Scan: %s skipping due to holdtime=%s", d.ID, h)
				report.Skipped = append(report.Skipped, d.ID)
				continue
			}

			go backupDevice(d, snaps, capture, filters, opt.CaptureTimeout, resultCh, logger) // per-device goroutine
			wait++
			logger.Printf("Scan: launched: %s count=%d/%d wait=%d max=%d", d.ID, nextDevice, deviceCount, wait, opt.MaxConcurrency)
		}

		if wait < 1 {
			continue
		}

		// wait for one device to finish
		r := <-resultCh
		wait--
		end := time.Now()
		elap := end.Sub(r.Begin)
		logger.Printf("Scan: recv %s %s %s msg=[%s] code=%d seq=%d wait=%d remain=%d elap=%s", r.Model, r.DevID, r.DevHostPort, r.Msg, r.Code, r.Seq, wait, deviceCount-nextDevice, elap)

		good := r.Code == backupErrNone
		updateDeviceStatus(tab, r.DevID, good, end, logger)
		errlog(logger, r, snaps.DevicePathPrefix(r.DevID), errlogHistSize)

		if good {
			report.Succeeded++
		} else {
			report.Failed = append(report.Failed, Failure{DevID: r.DevID, Reason: r.Msg})
		}
		if elap < elapMin {
			elapMin = elap
		}
		if elap > elapMax {
			elapMax = elap
		}
	}

	report.Elapsed = time.Since(begin)
	average := report.Elapsed / time.Duration(deviceCount)

	logger.Printf("Scan: finished elapsed=%s devices=%d success=%d failed=%d skipped=%d average=%s min=%s max=%s",
		report.Elapsed, deviceCount, report.Succeeded, len(report.Failed), len(report.Skipped), average, elapMin, elapMax)

	return report
}

// backupDevice runs in a per-device goroutine: capture, filter, persist.
// The capture deadline is independent of run cancellation, an in-flight
// capture is allowed to finish after the run stops admitting devices.
func backupDevice(d *Device, snaps *store.SnapshotStore, capture CaptureFunc, filters *FilterTable, timeout time.Duration, resultCh chan BackupResult, logger hasPrintf) {

	result := BackupResult{
		Model:       d.ModelName(),
		DevID:       d.ID,
		DevHostPort: d.HostPort,
		Begin:       time.Now(),
	}

	if timeout < 1 {
		timeout = 24 * time.Hour
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type captureReply struct {
		text []byte
		err  error
	}
	done := make(chan captureReply, 1)
	go func() {
		text, err := capture(ctx, d)
		done <- captureReply{text: text, err: err}
	}()

	var text []byte

	select {
	case r := <-done:
		if r.err != nil {
			result.Code = backupErrTransport
			result.Msg = fmt.Sprintf("capture: %v", r.err)
			result.End = time.Now()
			resultCh <- result
			return
		}
		text = r.text
	case <-ctx.Done():
		result.Code = backupErrTimeout
		result.Msg = fmt.Sprintf("capture timed out: limit=%s", timeout)
		result.End = time.Now()
		resultCh <- result
		return
	}

	if filters != nil {
		text = filters.Apply(logger, d.Attr.LineFilter, text, d.Debug)
	}

	snap, putErr := snaps.Put(d.ID, text, time.Now())
	if putErr != nil {
		result.Code = backupErrSave
		result.Msg = fmt.Sprintf("save: %v", putErr)
		result.End = time.Now()
		resultCh <- result
		return
	}

	result.Seq = snap.Seq
	result.End = time.Now()
	resultCh <- result
}

func updateDeviceStatus(tab DeviceUpdater, devID string, good bool, last time.Time, logger hasPrintf) {
	d, getErr := tab.GetDevice(devID)
	if getErr != nil {
		logger.Printf("updateDeviceStatus: '%s' not found: %v", devID, getErr)
		return
	}

	d.lastTry = last
	d.lastStatus = good
	if d.lastStatus {
		d.lastSuccess = d.lastTry
	}

	tab.UpdateDevice(d)
}
