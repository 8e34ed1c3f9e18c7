package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/icza/gowut/gwu"
	"github.com/udhos/lockfile"

	"github.com/netbak/confbak/conf"
	"github.com/netbak/confbak/dev"
	"github.com/netbak/confbak/diff"
	"github.com/netbak/confbak/retention"
	"github.com/netbak/confbak/store"
)

const appName = "confbak"
const appVersion = "0.1"

type app struct {
	configPathPrefix string
	repositoryPath   string
	logPathPrefix    string
	configLock       lockfile.Lockfile
	repositoryLock   lockfile.Lockfile
	logLock          lockfile.Lockfile

	table   *dev.DeviceTable
	options *conf.Options
	snaps   *store.SnapshotStore
	filters *dev.FilterTable
	access  dev.DeviceAccess

	lastReport dev.Report

	winHome    gwu.Window
	apHome     gwu.Panel
	cssPath    string
	repoPath   string // www
	staticPath string // www

	filterModel string
	filterID    string
	filterHost  string

	logger *log.Logger
}

func (a *app) logf(format string, v ...interface{}) {
	a.logger.Printf(format, v...)
}

func newApp() *app {
	return &app{
		table:      dev.NewDeviceTable(),
		options:    conf.NewOptions(),
		logger:     log.New(os.Stdout, "", log.LstdFlags),
		repoPath:   "repo",   // www
		staticPath: "static", // www
	}
}

func defaultHomeDir() string {
	home := os.Getenv("CONFBAK_HOME")
	if home == "" {
		home = "/var/confbak"
	}
	return home
}

func defaultRegionName() string {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "sa-east-1"
	}
	return region
}

func addTrailingDot(path string) string {
	if path[len(path)-1] != '.' {
		return path + "."
	}
	return path
}

func main() {

	cb := newApp()

	var runOnce bool
	var staticDir string
	var deviceImport bool
	var deviceDelete bool
	var deviceList bool
	var disableStdoutLog bool
	var logMaxFiles int
	var logMaxSize int64
	var logCheckInterval time.Duration
	var webListen string
	var s3region string
	var diffSpec string
	var rollbackSpec string

	defaultHome := defaultHomeDir()
	defaultConfigPrefix := filepath.Join(defaultHome, "etc", "confbak.conf.")
	defaultRepo := filepath.Join(defaultHome, "repo")
	defaultLogPrefix := filepath.Join(defaultHome, "log", "confbak.log.")
	defaultStaticDir := filepath.Join(defaultHome, "www")

	flag.StringVar(&cb.configPathPrefix, "configPathPrefix", defaultConfigPrefix, "configuration path prefix")
	flag.StringVar(&cb.repositoryPath, "repositoryPath", defaultRepo, "snapshot repository path")
	flag.StringVar(&cb.logPathPrefix, "logPathPrefix", defaultLogPrefix, "log path prefix")
	flag.StringVar(&staticDir, "wwwStaticPath", defaultStaticDir, "directory for static www content")
	flag.StringVar(&webListen, "webListen", ":8080", "address:port for web UI")
	flag.StringVar(&s3region, "s3region", defaultRegionName(), "AWS S3 region")
	flag.BoolVar(&runOnce, "runOnce", false, "exit after backing up all devices once")
	flag.BoolVar(&deviceDelete, "deviceDelete", false, "delete devices specified in stdin")
	flag.BoolVar(&deviceImport, "deviceImport", false, "import devices from stdin")
	flag.BoolVar(&deviceList, "deviceList", false, "list devices to stdout")
	flag.BoolVar(&disableStdoutLog, "disableStdoutLog", false, "disable logging to stdout")
	flag.IntVar(&logMaxFiles, "logMaxFiles", 20, "number of log files to keep")
	flag.Int64Var(&logMaxSize, "logMaxSize", 10000000, "size limit for log file")
	flag.DurationVar(&logCheckInterval, "logCheckInterval", time.Hour, "interval for checking log file size")
	flag.StringVar(&diffSpec, "diff", "", "print diff between two snapshots and exit: device:seqFrom:seqTo")
	flag.StringVar(&rollbackSpec, "rollback", "", "roll device back to a snapshot and exit: device:seq")
	flag.Parse()

	cb.logPathPrefix = addTrailingDot(cb.logPathPrefix)
	cb.configPathPrefix = addTrailingDot(cb.configPathPrefix)

	if store.S3Path(cb.logPathPrefix) {
		cb.logf("logging to Amazon S3 is not supported: %s", cb.logPathPrefix)
		return
	}

	if lockErr := exclusiveLock(cb); lockErr != nil {
		cb.logf("main: could not get exclusive lock: %v", lockErr)
		panic("main: refusing to run without exclusive lock")
	}
	defer exclusiveUnlock(cb)

	fileLogger := NewLogfile(cb.logPathPrefix, logMaxFiles, logMaxSize, logCheckInterval)

	// cb.logger currently is stdout
	if disableStdoutLog {
		cb.logger = log.New(fileLogger, "", log.LstdFlags)
	} else {
		cb.logger = log.New(io.MultiWriter(os.Stdout, fileLogger), "", log.LstdFlags)
	}

	cb.logf("%s %s starting", appName, appVersion)

	store.Init(cb.logger, s3region)

	cb.filters = dev.NewFilterTable(cb.logger)
	dev.RegisterModels(cb.logger, cb.table)

	cb.logf("config path prefix: %s", cb.configPathPrefix)
	cb.logf("repository path: %s", cb.repositoryPath)

	loadConfig(cb)

	opt := cb.options.Get()
	cb.logf("scan interval: %s", opt.ScanInterval)
	cb.logf("holdtime: %s", opt.Holdtime)
	cb.logf("capture timeout: %s", opt.CaptureTimeout)
	cb.logf("maximum concurrency: %d", opt.MaxConcurrency)
	cb.logf("retention: days=%d minKeep=%d maxDeletesPerRun=%d", opt.RetentionDays, opt.MinKeep, opt.MaxDeletesPerRun)

	cb.snaps = store.NewSnapshotStore(cb.repositoryPath, cb.logger, store.SnapshotStoreOptions{
		DedupUnchanged:  opt.DedupUnchanged,
		NeverDeleteLast: opt.NeverDeleteLast,
		MaxLoadSize:     opt.MaxConfigLoadSize,
	})

	cb.access = dev.NewSSHAccess(cb.logger, 10*time.Second)

	if exit := manageDeviceList(cb, deviceImport, deviceDelete, deviceList); exit != nil {
		cb.logf("main: %v", exit)
		return
	}

	if diffSpec != "" {
		if err := diffCmd(cb, diffSpec); err != nil {
			cb.logf("main: diff: %v", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rollbackSpec != "" {
		if err := rollbackCmd(cb, ctx, rollbackSpec); err != nil {
			cb.logf("main: rollback: %v", err)
			os.Exit(1)
		}
		return
	}

	if runOnce {
		scanOnce(cb, ctx)
		cb.logf("runOnce: exiting after single backup run")
		return
	}

	go scanLoop(cb, ctx)

	server := gwu.NewServer(appName, webListen)
	server.SetText(fmt.Sprintf("%s application", appName))

	staticPathFull := fmt.Sprintf("/%s/%s", appName, cb.staticPath)
	cb.logf("static dir: path=[%s] mapped to dir=[%s]", staticPathFull, staticDir)
	server.AddStaticDir(cb.staticPath, staticDir)

	cb.cssPath = fmt.Sprintf("%s/confbak.css", staticPathFull)

	if !store.S3Path(cb.repositoryPath) {
		repoPathFull := fmt.Sprintf("/%s/%s", appName, cb.repoPath)
		cb.logf("static dir: path=[%s] mapped to dir=[%s]", repoPathFull, cb.repositoryPath)
		server.AddStaticDir(cb.repoPath, cb.repositoryPath)
	}

	buildPublicWins(cb, server)

	server.SetLogger(cb.logger)
	if err := server.Start(); err != nil {
		cb.logf("main: could not start web UI server: %v", err)
		return
	}
}

func captureFunc(cb *app) dev.CaptureFunc {
	return func(ctx context.Context, d *dev.Device) ([]byte, error) {
		return cb.access.Fetch(ctx, d)
	}
}

func scanOnce(cb *app, ctx context.Context) dev.Report {
	opt := cb.options.Get()
	report := dev.Scan(ctx, cb.table, cb.table.ListDevices(), cb.snaps, captureFunc(cb), cb.filters, cb.logger, opt)
	cb.lastReport = report

	for _, f := range report.Failed {
		cb.logf("scan: failed: %s: %s", f.DevID, f.Reason)
	}
	cb.logf("scan: report: succeeded=%d failed=%d skipped=%d elapsed=%s",
		report.Succeeded, len(report.Failed), len(report.Skipped), report.Elapsed)

	retentionSweep(cb)

	return report
}

func scanLoop(cb *app, ctx context.Context) {
	for {
		cb.logf("scanLoop: starting")
		opt := cb.options.Get()
		begin := time.Now()
		scanOnce(cb, ctx)
		if ctx.Err() != nil {
			cb.logf("scanLoop: canceled, exiting")
			return
		}
		elap := time.Since(begin)
		sleep := opt.ScanInterval - elap
		if sleep < 0 {
			sleep = 0
		}
		cb.logf("scanLoop: sleeping for %s (target: scanInterval=%s)", sleep, opt.ScanInterval)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			cb.logf("scanLoop: canceled, exiting")
			return
		}
	}
}

// retentionSweep prunes old snapshots for every device, honoring the
// retention policy. Disabled while RetentionDays is zero.
func retentionSweep(cb *app) {
	opt := cb.options.Get()
	if opt.RetentionDays < 1 {
		return
	}

	policy := retention.Policy{
		RetentionDays:    opt.RetentionDays,
		MinKeep:          opt.MinKeep,
		MaxDeletesPerRun: opt.MaxDeletesPerRun,
	}

	now := time.Now()
	deleted := 0

	for _, d := range cb.table.ListDevices() {
		history, listErr := cb.snaps.List(d.ID, time.Time{}, time.Time{})
		if listErr != nil {
			cb.logf("retentionSweep: dev '%s': %v", d.ID, listErr)
			continue
		}

		decision := retention.Evaluate(history, now, policy)
		for _, seq := range decision.Delete {
			if err := cb.snaps.Delete(d.ID, seq); err != nil {
				cb.logf("retentionSweep: dev '%s' seq %d: %v", d.ID, seq, err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		cb.logf("retentionSweep: pruned %d snapshots", deleted)
	}
}

func loadConfig(cb *app) {

	var cfg *conf.Config

	lastConfig, configErr := store.FindLatest(cb.configPathPrefix, cb.logger)
	if configErr != nil {
		cb.logf("error reading config: '%s': %v", cb.configPathPrefix, configErr)
		cfg = conf.New()
	} else {
		cb.logf("last config: %s", lastConfig)
		var loadErr error
		cfg, loadErr = conf.Load(lastConfig, conf.New().Options.MaxConfigLoadSize)
		if loadErr != nil {
			cb.logf("could not load config: '%s': %v", lastConfig, loadErr)
			panic("main: could not load config")
		}
	}

	cb.options.Set(&cfg.Options)

	for _, c := range cfg.Devices {
		c := c
		d, newErr := dev.NewDeviceFromConf(cb.table, cb.logger, &c)
		if newErr != nil {
			cb.logf("loadConfig: failure creating device '%s': %v", c.ID, newErr)
			continue
		}
		if addErr := cb.table.SetDevice(d); addErr != nil {
			cb.logf("loadConfig: failure adding device '%s': %v", c.ID, addErr)
			continue
		}
		cb.logf("loadConfig: loaded device '%s'", c.ID)
	}
}

func saveConfig(cb *app, change conf.Change) {

	devices := cb.table.ListDevices()

	var cfg conf.Config
	cfg.Options = *cb.options.Get() // clone
	cfg.Options.LastChange = change // record change
	cb.options.Set(&cfg.Options)    // update

	cfg.Devices = make([]conf.DevConfig, len(devices))
	for i, d := range devices {
		cfg.Devices[i] = d.DevConfig
	}

	confWriteFunc := func(w store.HasWrite) error {
		b, err := cfg.Dump()
		if err != nil {
			return err
		}
		n, wrErr := w.Write(b)
		if wrErr != nil {
			return wrErr
		}
		if n != len(b) {
			return fmt.Errorf("saveConfig: partial write: wrote=%d size=%d", n, len(b))
		}
		return nil
	}

	_, saveErr := store.SaveNewEntry(cb.configPathPrefix, cfg.Options.MaxConfigFiles, cb.logger, confWriteFunc, true)
	if saveErr != nil {
		cb.logf("main: could not save config: %v", saveErr)
	}
}

func diffCmd(cb *app, spec string) error {

	f := strings.Split(spec, ":")
	if len(f) != 3 {
		return fmt.Errorf("diffCmd: bad spec [%s]: expecting device:seqFrom:seqTo", spec)
	}
	devID := f[0]
	seqFrom, errFrom := strconv.Atoi(f[1])
	if errFrom != nil {
		return fmt.Errorf("diffCmd: bad seqFrom [%s]: %v", f[1], errFrom)
	}
	seqTo, errTo := strconv.Atoi(f[2])
	if errTo != nil {
		return fmt.Errorf("diffCmd: bad seqTo [%s]: %v", f[2], errTo)
	}

	from, errGetFrom := cb.snaps.Get(devID, seqFrom)
	if errGetFrom != nil {
		return errGetFrom
	}
	to, errGetTo := cb.snaps.Get(devID, seqTo)
	if errGetTo != nil {
		return errGetTo
	}

	result := diff.Diff(from, to)

	fmt.Printf("diff %s: seq %d (%s) => seq %d (%s)\n", devID, from.Seq, from.CapturedAt.Format(time.RFC3339), to.Seq, to.CapturedAt.Format(time.RFC3339))
	fmt.Print(result.String())

	return nil
}

func rollbackCmd(cb *app, ctx context.Context, spec string) error {

	f := strings.Split(spec, ":")
	if len(f) != 2 {
		return fmt.Errorf("rollbackCmd: bad spec [%s]: expecting device:seq", spec)
	}
	devID := f[0]
	seq, seqErr := strconv.Atoi(f[1])
	if seqErr != nil {
		return fmt.Errorf("rollbackCmd: bad seq [%s]: %v", f[1], seqErr)
	}

	d, getErr := cb.table.GetDevice(devID)
	if getErr != nil {
		return getErr
	}

	var capture dev.CaptureFunc
	if cb.options.Get().RollbackVerify {
		capture = captureFunc(cb)
	}

	result, rbErr := dev.Rollback(ctx, d, seq, cb.snaps, capture, cb.access.Apply, cb.logger)
	if rbErr != nil {
		return rbErr
	}

	switch result.Status {
	case dev.RollbackNoop:
		cb.logf("rollback: %s already at seq %d", devID, seq)
	case dev.RollbackUnverified:
		cb.logf("rollback: %s seq %d applied but UNVERIFIED: post-rollback state differs from target", devID, seq)
	default:
		cb.logf("rollback: %s rolled back to seq %d", devID, seq)
	}

	return nil
}

func manageDeviceList(cb *app, imp, del, list bool) error {
	if imp && del {
		return fmt.Errorf("deviceImport and deviceDelete are mutually exclusive")
	}

	if del {
		cb.logf("main: reading device list from stdin")

		reader := bufio.NewReader(os.Stdin)
	LOOP_DEL:
		for {
			text, inErr := reader.ReadString('\n')
			switch inErr {
			case io.EOF:
				break LOOP_DEL
			case nil:
			default:
				return fmt.Errorf("stdin error: %v", inErr)
			}

			id := strings.TrimSpace(text)
			if id == "" {
				continue
			}
			if strings.HasPrefix(text, "#") {
				continue
			}

			cb.logf("deleting device [%s]", id)

			if _, getErr := cb.table.GetDevice(id); getErr != nil {
				cb.logf("deleting device [%s] - not found: %v", id, getErr)
				continue
			}

			cb.table.DeleteDevice(id)
		}

		saveConfig(cb, conf.Change{When: time.Now(), From: "stdin", By: "deviceDelete"})
	}

	if imp {
		cb.logf("main: reading device list from stdin")

		reader := bufio.NewReader(os.Stdin)
	LOOP_ADD:
		for {
			text, inErr := reader.ReadString('\n')
			switch inErr {
			case io.EOF:
				break LOOP_ADD
			case nil:
			default:
				return fmt.Errorf("stdin error: %v", inErr)
			}

			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "#") {
				continue
			}

			f := strings.Fields(text)
			if len(f) < 5 {
				return fmt.Errorf("missing fields from device line: [%s]", text)
			}
			debug := len(f) > 5

			dev.CreateDevice(cb.table, cb.logger, f[0], f[1], f[2], f[3], f[4], debug)
		}

		saveConfig(cb, conf.Change{When: time.Now(), From: "stdin", By: "deviceImport"})
	}

	if list {
		devices := cb.table.ListDevices()

		cb.logf("main: issuing device list to stdout: %d devices", len(devices))

		for _, d := range devices {
			fmt.Printf("%s %s %s %s %s\n", d.DevConfig.Model, d.ID, d.HostPort, d.LoginUser, d.LoginPassword)
		}
	}

	if del || imp || list {
		return fmt.Errorf("device list management done")
	}

	return nil
}

func exclusiveLock(cb *app) error {
	configLockPath := fmt.Sprintf("%slock", cb.configPathPrefix)
	if !store.S3Path(configLockPath) {
		var newErr error
		if cb.configLock, newErr = lockfile.New(configLockPath); newErr != nil {
			return fmt.Errorf("exclusiveLock: new failure: '%s': %v", configLockPath, newErr)
		}
		if err := cb.configLock.TryLock(); err != nil {
			return fmt.Errorf("exclusiveLock: lock failure: '%s': %v", configLockPath, err)
		}
	}

	repositoryLockPath := filepath.Join(cb.repositoryPath, "lock")
	if !store.S3Path(repositoryLockPath) {
		var newErr error
		if cb.repositoryLock, newErr = lockfile.New(repositoryLockPath); newErr != nil {
			cb.configLock.Unlock()
			return fmt.Errorf("exclusiveLock: new failure: '%s': %v", repositoryLockPath, newErr)
		}
		if err := cb.repositoryLock.TryLock(); err != nil {
			cb.configLock.Unlock()
			return fmt.Errorf("exclusiveLock: lock failure: '%s': %v", repositoryLockPath, err)
		}
	}

	logLockPath := fmt.Sprintf("%slock", cb.logPathPrefix)
	if !store.S3Path(logLockPath) {
		var newErr error
		if cb.logLock, newErr = lockfile.New(logLockPath); newErr != nil {
			cb.configLock.Unlock()
			cb.repositoryLock.Unlock()
			return fmt.Errorf("exclusiveLock: new failure: '%s': %v", logLockPath, newErr)
		}
		if err := cb.logLock.TryLock(); err != nil {
			cb.configLock.Unlock()
			cb.repositoryLock.Unlock()
			return fmt.Errorf("exclusiveLock: lock failure: '%s': %v", logLockPath, err)
		}
	}

	return nil
}

func exclusiveUnlock(cb *app) {
	configLockPath := fmt.Sprintf("%slock", cb.configPathPrefix)
	if !store.S3Path(configLockPath) {
		if err := cb.configLock.Unlock(); err != nil {
			cb.logf("exclusiveUnlock: '%s': %v", configLockPath, err)
		}
	}

	repositoryLockPath := filepath.Join(cb.repositoryPath, "lock")
	if !store.S3Path(repositoryLockPath) {
		if err := cb.repositoryLock.Unlock(); err != nil {
			cb.logf("exclusiveUnlock: '%s': %v", repositoryLockPath, err)
		}
	}

	logLockPath := fmt.Sprintf("%slock", cb.logPathPrefix)
	if !store.S3Path(logLockPath) {
		if err := cb.logLock.Unlock(); err != nil {
			cb.logf("exclusiveUnlock: '%s': %v", logLockPath, err)
		}
	}
}
