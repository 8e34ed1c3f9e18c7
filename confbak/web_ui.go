package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/icza/gowut/gwu"

	"github.com/netbak/confbak/dev"
	"github.com/netbak/confbak/diff"
	"github.com/netbak/confbak/store"
)

func newHeaderPanel() gwu.Panel {
	hp := gwu.NewHorizontalPanel()
	hp.Style().AddClass("header_panel")
	hp.Add(gwu.NewLabel(fmt.Sprintf("%s %s", appName, appVersion)))
	return hp
}

func newWin(cb *app, path, name string) gwu.Window {
	win := gwu.NewWindow(path, name)
	cssLink := fmt.Sprintf(`<link rel="stylesheet" type="text/css" href="%s">`, cb.cssPath)
	win.AddHeadHTML(cssLink)
	cb.logf("window=[%s] attached CSS=[%s]", path, cssLink)
	return win
}

func deviceWinName(id string) string {
	return "device-" + id
}

func timestampString(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.Format("2006-01-02 15:04:05")
}

func durationSecString(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func buildDeviceWindow(cb *app, e gwu.Event, devID string) string {
	winName := deviceWinName(devID)
	s := e.Session()
	win := s.WinByName(winName)
	if win != nil {
		return winName
	}
	winTitle := "Device: " + devID
	win = newWin(cb, winName, winTitle)
	win.Add(gwu.NewLabel(winTitle))

	refreshButton := gwu.NewButton("Refresh")
	win.Add(refreshButton)

	panel := gwu.NewTabPanel()

	snapsPanel := gwu.NewPanel()
	snapsMsg := gwu.NewLabel("No error")
	snapsTab := gwu.NewTable()
	snapsPanel.Add(snapsMsg)
	snapsPanel.Add(snapsTab)

	snapsTab.Style().AddClass("snapshot_table")

	showPanel := gwu.NewPanel()
	diffPanel := gwu.NewPanel()
	logPanel := gwu.NewPanel()

	panel.Add(gwu.NewLabel("Snapshots"), snapsPanel) // tab 0
	panel.Add(gwu.NewLabel("View"), showPanel)       // tab 1
	panel.Add(gwu.NewLabel("Diff"), diffPanel)       // tab 2
	panel.Add(gwu.NewLabel("Result Log"), logPanel)  // tab 3

	const tabShow = 1 // index
	const tabDiff = 2 // index

	loadLog := func(e gwu.Event) {

		logPath := dev.ErrlogPath(cb.snaps.DevicePathPrefix(devID), devID)
		logPanel.Clear()
		logPanel.Add(gwu.NewLabel("File: " + logPath))

		maxSize := int64(1000 * 100) // 1000 x 100-byte lines

		b, readErr := store.FileRead(logPath, maxSize)
		if readErr != nil {
			logPanel.Add(gwu.NewLabel(fmt.Sprintf("Could not read '%s': %v", logPath, readErr)))
		}

		logBox := gwu.NewTextBox("")
		logBox.SetRows(30)
		logBox.SetCols(100)
		logBox.SetText(string(b))
		logPanel.Add(logBox)
		e.MarkDirty(logPanel)
	}

	loadView := func(e gwu.Event, seq int) {
		showPanel.Clear()

		snap, getErr := cb.snaps.Get(devID, seq)
		if getErr != nil {
			showPanel.Add(gwu.NewLabel(fmt.Sprintf("Could not load snapshot seq %d: %v", seq, getErr)))
			e.MarkDirty(panel)
			return
		}

		showPanel.Add(gwu.NewLabel(fmt.Sprintf("Snapshot: seq=%d captured=%s hash=%s", snap.Seq, timestampString(snap.CapturedAt), shortHash(snap.Hash))))

		showBox := gwu.NewTextBox("")
		showBox.SetRows(40)
		showBox.SetCols(100)
		showBox.SetText(string(snap.Text))
		showPanel.Add(showBox)
		e.MarkDirty(panel)
	}

	loadDiff := func(e gwu.Event, seqFrom, seqTo int) {

		cb.logf("diff: dev=%s from=%d to=%d", devID, seqFrom, seqTo)

		diffPanel.Clear()

		from, errFrom := cb.snaps.Get(devID, seqFrom)
		if errFrom != nil {
			diffPanel.Add(gwu.NewLabel(fmt.Sprintf("Could not load snapshot seq %d: %v", seqFrom, errFrom)))
			e.MarkDirty(panel)
			return
		}
		to, errTo := cb.snaps.Get(devID, seqTo)
		if errTo != nil {
			diffPanel.Add(gwu.NewLabel(fmt.Sprintf("Could not load snapshot seq %d: %v", seqTo, errTo)))
			e.MarkDirty(panel)
			return
		}

		diffPanel.Add(gwu.NewLabel(fmt.Sprintf("From: seq=%d captured=%s", from.Seq, timestampString(from.CapturedAt))))
		diffPanel.Add(gwu.NewLabel(fmt.Sprintf("To: seq=%d captured=%s", to.Seq, timestampString(to.CapturedAt))))

		result := diff.Diff(from, to)
		if !result.Changed() {
			diffPanel.Add(gwu.NewLabel("Snapshots are identical."))
		}

		diffBox := gwu.NewTable()
		diffBox.Style().AddClass("diffbox")

		colLineNumFrom := 0
		colLineTextFrom := 1
		colLineTextTo := 2
		colLineNumTo := 3

		var f, t int

		for _, c := range result {

			switch c.Op {
			case diff.Removed:
				diffBox.Add(gwu.NewLabel(strconv.Itoa(c.OldLine)), f, colLineNumFrom)
				diffBox.CellFmt(f, colLineNumFrom).Style().AddClass("diffbox_linenum")
				lab := gwu.NewLabel(c.Text)
				diffBox.Add(lab, f, colLineTextFrom)
				diffBox.CellFmt(f, colLineTextFrom).Style().AddClass("diffbox_deleted")
				diffBox.CellFmt(f, colLineTextFrom).Style().AddClass("diffbox_text_cell")
				f++
			case diff.Added:
				diffBox.Add(gwu.NewLabel(strconv.Itoa(c.NewLine)), t, colLineNumTo)
				diffBox.CellFmt(t, colLineNumTo).Style().AddClass("diffbox_linenum")
				lab := gwu.NewLabel(c.Text)
				diffBox.Add(lab, t, colLineTextTo)
				diffBox.CellFmt(t, colLineTextTo).Style().AddClass("diffbox_added")
				diffBox.CellFmt(t, colLineTextTo).Style().AddClass("diffbox_text_cell")
				t++
			case diff.Unchanged:
				diffBox.Add(gwu.NewLabel(strconv.Itoa(c.OldLine)), f, colLineNumFrom)
				diffBox.CellFmt(f, colLineNumFrom).Style().AddClass("diffbox_linenum")
				diffBox.Add(gwu.NewLabel(strconv.Itoa(c.NewLine)), t, colLineNumTo)
				diffBox.CellFmt(t, colLineNumTo).Style().AddClass("diffbox_linenum")
				labF := gwu.NewLabel(c.Text)
				labT := gwu.NewLabel(c.Text)
				diffBox.Add(labF, f, colLineTextFrom)
				diffBox.Add(labT, t, colLineTextTo)
				diffBox.CellFmt(f, colLineTextFrom).Style().AddClass("diffbox_text_cell")
				diffBox.CellFmt(t, colLineTextTo).Style().AddClass("diffbox_text_cell")
				f++
				t++
			}
		}

		diffPanel.Add(diffBox)
		e.MarkDirty(panel)
	}

	win.Add(panel)

	snapshotList := func(e gwu.Event) {
		prefix := cb.snaps.DevicePathPrefix(devID)
		dirname, matches, listErr := store.ListEntriesSorted(prefix, true, cb.logger)
		if listErr != nil {
			snapsMsg.SetText(fmt.Sprintf("List snapshots error: %v", listErr))
			e.MarkDirty(snapsPanel)
			return
		}

		snapsMsg.SetText(fmt.Sprintf("%d snapshots", len(matches)))

		snapsTab.Clear()

		const COLS = 7

		row := 0

		// header
		snapsTab.Add(gwu.NewLabel("Download"), row, 0)
		snapsTab.Add(gwu.NewLabel("View"), row, 1)
		snapsTab.Add(gwu.NewLabel("Seq"), row, 2)
		snapsTab.Add(gwu.NewLabel("Size"), row, 3)
		snapsTab.Add(gwu.NewLabel("Captured"), row, 4)
		snapsTab.Add(gwu.NewLabel("Diff From"), row, 5)
		snapsTab.Add(gwu.NewLabel("Compare"), row, 6)

		row++

		for i, m := range matches {
			path := filepath.Join(dirname, m)
			timeStr := "unknown"

			modTime, size, infoErr := store.FileInfo(path)
			if infoErr == nil {
				timeStr = timestampString(modTime)
			} else {
				timeStr += fmt.Sprintf("(could not get file info: %v)", infoErr)
			}

			seq, seqErr := store.ExtractSeq(m)
			if seqErr != nil {
				cb.logf("snapshotList: bad entry name '%s': %v", m, seqErr)
				continue
			}

			var filePath string
			if store.S3Path(path) {
				filePath = store.S3URL(path)
			} else {
				filePath = fmt.Sprintf("%s/%s/%s", cb.repoPath, devID, m)
			}
			devLink := gwu.NewLink(m, filePath)

			buttonView := gwu.NewButton("Open")
			viewSeq := seq
			buttonView.AddEHandlerFunc(func(e gwu.Event) {
				loadView(e, viewSeq)
				panel.SetSelected(tabShow)
			}, gwu.ETypeClick)

			listDiffSrc := gwu.NewListBox(matches)
			buttonDiff := gwu.NewButton("Diff")

			var diffFrom int
			if i < len(matches)-1 {
				// default diff src is previous snapshot
				diffFrom = i + 1
			} else {
				// there is no previous snapshot
				diffFrom = i
			}
			listDiffSrc.SetSelectedIndices([]int{diffFrom})

			diffTo := seq
			buttonDiff.AddEHandlerFunc(func(e gwu.Event) {
				from := listDiffSrc.SelectedIdx()
				fromSeq, fromErr := store.ExtractSeq(matches[from])
				if fromErr != nil {
					cb.logf("snapshotList: bad entry name '%s': %v", matches[from], fromErr)
					return
				}
				loadDiff(e, fromSeq, diffTo)
				panel.SetSelected(tabDiff)
			}, gwu.ETypeClick)

			snapsTab.Add(devLink, row, 0)
			snapsTab.Add(buttonView, row, 1)
			snapsTab.Add(gwu.NewLabel(strconv.Itoa(seq)), row, 2)
			snapsTab.Add(gwu.NewLabel(strconv.FormatInt(size, 10)), row, 3)
			snapsTab.Add(gwu.NewLabel(timeStr), row, 4)
			snapsTab.Add(listDiffSrc, row, 5)
			snapsTab.Add(buttonDiff, row, 6)

			row++
		}

		for r := 0; r < row; r++ {
			for j := 0; j < COLS; j++ {
				snapsTab.CellFmt(r, j).Style().AddClass("snapshot_cell")
			}
		}
	}

	{
		// preload view and diff panels with the two newest snapshots
		_, matches, listErr := store.ListEntriesSorted(cb.snaps.DevicePathPrefix(devID), true, cb.logger)
		if listErr != nil {
			cb.logf("buildDeviceWindow: could not preload: %v", listErr)
		}
		if len(matches) > 0 {
			seqTo, toErr := store.ExtractSeq(matches[0])
			if toErr == nil {
				loadView(e, seqTo)
				f := matches[0]
				if len(matches) > 1 {
					f = matches[1] // previous snapshot
				}
				if seqFrom, fromErr := store.ExtractSeq(f); fromErr == nil {
					loadDiff(e, seqFrom, seqTo)
				}
			}
		}
	}

	refresh := func(e gwu.Event) {
		snapshotList(e)
		loadLog(e)
		e.MarkDirty(win)
	}

	refresh(e) // first run

	refreshButton.AddEHandlerFunc(refresh, gwu.ETypeClick)

	win.AddEHandlerFunc(refresh, gwu.ETypeWinLoad)

	s.AddWin(win)

	return winName
}

func buildDeviceTable(cb *app, s gwu.Session, t gwu.Table, tabSumm gwu.Panel) {
	const COLS = 8

	row := 0 // filter
	filterModel := gwu.NewTextBox(cb.filterModel)
	filterID := gwu.NewTextBox(cb.filterID)
	filterHost := gwu.NewTextBox(cb.filterHost)

	inputCols := 10
	filterModel.SetCols(inputCols)
	filterID.SetCols(inputCols)
	filterHost.SetCols(inputCols)

	filterModel.AddSyncOnETypes(gwu.ETypeKeyUp) // synchronize values during editing
	filterID.AddSyncOnETypes(gwu.ETypeKeyUp)    // synchronize values during editing
	filterHost.AddSyncOnETypes(gwu.ETypeKeyUp)  // synchronize values during editing

	filterModel.AddEHandlerFunc(func(e gwu.Event) {
		cb.filterModel = filterModel.Text()
		refreshDeviceTable(cb, t, tabSumm, e)
	}, gwu.ETypeChange)

	filterID.AddEHandlerFunc(func(e gwu.Event) {
		cb.filterID = filterID.Text()
		refreshDeviceTable(cb, t, tabSumm, e)
	}, gwu.ETypeChange)

	filterHost.AddEHandlerFunc(func(e gwu.Event) {
		cb.filterHost = filterHost.Text()
		refreshDeviceTable(cb, t, tabSumm, e)
	}, gwu.ETypeChange)

	t.Add(filterModel, row, 0)
	t.Add(filterID, row, 1)
	t.Add(filterHost, row, 2)
	for j := 3; j < COLS; j++ {
		t.Add(gwu.NewLabel(""), row, j)
	}

	hostPort := gwu.NewLabel("Host:Port")
	hostPort.SetAttr("title", "Part ':Port' is optional")

	row = 1 // header
	t.Add(gwu.NewLabel("Model"), row, 0)
	t.Add(gwu.NewLabel("Device"), row, 1)
	t.Add(hostPort, row, 2)
	t.Add(gwu.NewLabel("Last Status"), row, 3)
	t.Add(gwu.NewLabel("Last Try"), row, 4)
	t.Add(gwu.NewLabel("Last Success"), row, 5)
	t.Add(gwu.NewLabel("Holdtime"), row, 6)
	t.Add(gwu.NewLabel("Latest Snapshot"), row, 7)

	devList := cb.table.ListDevices()

	now := time.Now()

	options := cb.options.Get()

	row = 2
	for _, d := range devList {

		if !strings.Contains(d.ModelName(), filterModel.Text()) {
			continue
		}
		if !strings.Contains(d.ID, filterID.Text()) {
			continue
		}
		if !strings.Contains(d.HostPort, filterHost.Text()) {
			continue
		}

		labMod := gwu.NewLabel(d.ModelName())

		buttonID := gwu.NewButton(d.ID)

		devID := d.ID // get dev id for closure below
		buttonID.AddEHandlerFunc(func(e gwu.Event) {
			winName := buildDeviceWindow(cb, e, devID)
			e.ReloadWin(winName)
		}, gwu.ETypeClick)

		labHost := gwu.NewLabel(d.HostPort)

		var labLastStatus gwu.Label
		if d.LastStatus() {
			labLastStatus = gwu.NewLabel("ok")
			labLastStatus.Style().AddClass("device_status_ok")
		} else {
			labLastStatus = gwu.NewLabel("FAIL")
			labLastStatus.Style().AddClass("device_status_fail")
		}

		labLastTry := gwu.NewLabel(timestampString(d.LastTry()))
		labLastSuccess := gwu.NewLabel(timestampString(d.LastSuccess()))
		h := d.Holdtime(now, options.Holdtime)
		if h < 0 {
			h = 0
		}
		labHoldtime := gwu.NewLabel(durationSecString(h))

		latestStr := "none"
		if latest, latestErr := cb.snaps.Latest(d.ID); latestErr == nil {
			latestStr = fmt.Sprintf("seq=%d %s", latest.Seq, timestampString(latest.CapturedAt))
		}
		labLatest := gwu.NewLabel(latestStr)

		t.Add(labMod, row, 0)
		t.Add(buttonID, row, 1)
		t.Add(labHost, row, 2)
		t.Add(labLastStatus, row, 3)
		t.Add(labLastTry, row, 4)
		t.Add(labLastSuccess, row, 5)
		t.Add(labHoldtime, row, 6)
		t.Add(labLatest, row, 7)

		row++
	}

	for r := 0; r < row; r++ {
		for j := 0; j < COLS; j++ {
			t.CellFmt(r, j).Style().AddClass("device_table_cell")
		}
	}

	tabSumm.Clear()
	tabSumm.Add(gwu.NewLabel(fmt.Sprintf("Filter: %d selected from %d total devices", row-2, len(devList))))

	report := cb.lastReport
	tabSumm.Add(gwu.NewLabel(fmt.Sprintf("Last run: succeeded=%d failed=%d skipped=%d elapsed=%s",
		report.Succeeded, len(report.Failed), len(report.Skipped), report.Elapsed)))
}

func refreshDeviceTable(cb *app, t gwu.Table, tabSumm gwu.Panel, e gwu.Event) {
	t.Clear() // clear out table contents
	buildDeviceTable(cb, e.Session(), t, tabSumm)
	e.MarkDirty(t)
	e.MarkDirty(tabSumm)
}

func buildHomeWin(cb *app, s gwu.Session) {

	winName := fmt.Sprintf("%s home", appName)
	win := newWin(cb, "home", winName)

	win.Add(cb.apHome)

	l := gwu.NewLabel(winName)
	l.Style().SetFontWeight(gwu.FontWeightBold).SetFontSize("130%")
	win.Add(l)

	tableSumm := gwu.NewPanel()
	tableSumm.Add(gwu.NewLabel("table summary"))
	t := gwu.NewTable()
	t.Style().AddClass("device_table")

	refresh := func(e gwu.Event) {
		refreshDeviceTable(cb, t, tableSumm, e)
	}

	refreshButton := gwu.NewButton("Refresh")
	refreshButton.AddEHandlerFunc(refresh, gwu.ETypeClick)
	win.Add(refreshButton)

	win.AddEHandlerFunc(refresh, gwu.ETypeWinLoad)

	win.Add(gwu.NewLabel("Hint: fill in text boxes below to select matching subset of devices."))

	buildDeviceTable(cb, s, t, tableSumm)

	win.Add(tableSumm)
	win.Add(t)

	s.AddWin(win)

	cb.winHome = win
}

func buildPublicWins(cb *app, s gwu.Session) {

	if s.Private() {
		cb.logf("buildPublicWins: ignoring call within PRIVATE session")
		return
	}

	cb.apHome = newHeaderPanel()

	buildHomeWin(cb, s)
}
