// Package dev drives configuration backup and rollback for network devices.
package dev

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/netbak/confbak/conf"
)

type hasPrintf interface {
	Printf(fmt string, v ...interface{})
}

// Model tags a device type and carries its default capture attributes. The
// model only selects how the transport collaborator talks to the device.
type Model struct {
	name        string
	defaultAttr conf.DevAttributes
}

// Device is a device identity record plus its last backup status.
type Device struct {
	conf.DevConfig

	logger      hasPrintf
	devModel    *Model
	lastStatus  bool // true=good false=bad
	lastTry     time.Time
	lastSuccess time.Time
}

// ModelName reports the device model label.
func (d *Device) ModelName() string {
	return d.devModel.name
}

// LastStatus reports whether the last backup attempt succeeded.
func (d *Device) LastStatus() bool {
	return d.lastStatus
}

// LastTry reports the time of the last backup attempt.
func (d *Device) LastTry() time.Time {
	return d.lastTry
}

// LastSuccess reports the time of the last successful backup.
func (d *Device) LastSuccess() time.Time {
	return d.lastSuccess
}

// Holdtime reports how long the device is still exempt from backup.
func (d *Device) Holdtime(now time.Time, holdtime time.Duration) time.Duration {
	return holdtime - now.Sub(d.lastSuccess)
}

// DeviceUpdater finds and updates devices.
type DeviceUpdater interface {
	GetDevice(id string) (*Device, error)
	UpdateDevice(d *Device) error
}

// DeviceTable is the in-memory registry of models and devices for one run.
type DeviceTable struct {
	models  map[string]*Model
	devices map[string]*Device
	lock    sync.RWMutex
}

// NewDeviceTable creates an empty device table.
func NewDeviceTable() *DeviceTable {
	return &DeviceTable{
		models:  map[string]*Model{},
		devices: map[string]*Device{},
	}
}

// GetModel finds a model by name.
func (t *DeviceTable) GetModel(name string) (*Model, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if m, found := t.models[name]; found {
		return m, nil
	}
	return nil, fmt.Errorf("GetModel: model not found: '%s'", name)
}

// SetModel adds a model, refusing duplicates.
func (t *DeviceTable) SetModel(m *Model) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, found := t.models[m.name]; found {
		return fmt.Errorf("SetModel: model already exists: '%s'", m.name)
	}
	t.models[m.name] = m
	return nil
}

// ListModels reports registered model names.
func (t *DeviceTable) ListModels() []string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	names := make([]string, 0, len(t.models))
	for name := range t.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDevice finds a device by id.
func (t *DeviceTable) GetDevice(id string) (*Device, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if d, found := t.devices[id]; found {
		return d, nil
	}
	return nil, fmt.Errorf("GetDevice: device not found: '%s'", id)
}

// SetDevice adds a device, refusing duplicate ids.
func (t *DeviceTable) SetDevice(d *Device) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, found := t.devices[d.ID]; found {
		return fmt.Errorf("SetDevice: device already exists: '%s'", d.ID)
	}
	t.devices[d.ID] = d
	return nil
}

// UpdateDevice stores the device back into the table.
func (t *DeviceTable) UpdateDevice(d *Device) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, found := t.devices[d.ID]; !found {
		return fmt.Errorf("UpdateDevice: device not found: '%s'", d.ID)
	}
	t.devices[d.ID] = d
	return nil
}

// DeleteDevice removes a device from the table. Stored snapshots survive.
func (t *DeviceTable) DeleteDevice(id string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.devices, id)
}

// ListDevices reports all devices, ordered by id.
func (t *DeviceTable) ListDevices() []*Device {
	t.lock.RLock()
	defer t.lock.RUnlock()
	list := make([]*Device, 0, len(t.devices))
	for _, d := range t.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// NewDevice creates a device from explicit fields.
func NewDevice(logger hasPrintf, mod *Model, id, hostPort, loginUser, loginPassword string, debug bool) *Device {
	d := &Device{
		logger:   logger,
		devModel: mod,
		DevConfig: conf.DevConfig{
			Model:         mod.name,
			ID:            id,
			HostPort:      hostPort,
			LoginUser:     loginUser,
			LoginPassword: loginPassword,
			Debug:         debug,
		},
	}
	d.Attr = mod.defaultAttr
	return d
}

// NewDeviceFromConf creates a device from a loaded configuration record.
func NewDeviceFromConf(tab *DeviceTable, logger hasPrintf, cfg *conf.DevConfig) (*Device, error) {
	mod, getErr := tab.GetModel(cfg.Model)
	if getErr != nil {
		return nil, fmt.Errorf("NewDeviceFromConf: '%s': %v", cfg.ID, getErr)
	}

	d := &Device{logger: logger, devModel: mod, DevConfig: *cfg}

	// unset attributes fall back to model defaults
	if d.Attr.FetchCommand == "" {
		d.Attr.FetchCommand = mod.defaultAttr.FetchCommand
	}
	if d.Attr.ApplyPrologue == "" {
		d.Attr.ApplyPrologue = mod.defaultAttr.ApplyPrologue
	}
	if d.Attr.ApplyEpilogue == "" {
		d.Attr.ApplyEpilogue = mod.defaultAttr.ApplyEpilogue
	}
	if d.Attr.LineFilter == "" {
		d.Attr.LineFilter = mod.defaultAttr.LineFilter
	}

	return d, nil
}

// CreateDevice builds a device and registers it into the table.
func CreateDevice(tab *DeviceTable, logger hasPrintf, modelName, id, hostPort, user, pass string, debug bool) {
	logger.Printf("CreateDevice: %s %s %s", modelName, id, hostPort)

	mod, getErr := tab.GetModel(modelName)
	if getErr != nil {
		logger.Printf("CreateDevice: could not find model '%s': %v", modelName, getErr)
		return
	}

	d := NewDevice(logger, mod, id, hostPort, user, pass, debug)

	if newDevErr := tab.SetDevice(d); newDevErr != nil {
		logger.Printf("CreateDevice: could not add device '%s': %v", id, newDevErr)
	}
}

// ClearDeviceStatus forgets about the last success (expires holdtime).
// Otherwise holdtime could prevent an immediate backup.
func ClearDeviceStatus(tab DeviceUpdater, devID string, logger hasPrintf) (*Device, error) {
	d, getErr := tab.GetDevice(devID)
	if getErr != nil {
		logger.Printf("ClearDeviceStatus: '%s' not found: %v", devID, getErr)
		return nil, getErr
	}

	d.lastSuccess = time.Time{} // expire holdtime
	tab.UpdateDevice(d)

	return d, nil
}
