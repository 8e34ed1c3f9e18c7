package dev

import (
	"github.com/netbak/confbak/conf"
)

// RegisterModels fills the table with the built-in device models.
func RegisterModels(logger hasPrintf, t *DeviceTable) {
	registerModelCiscoIOS(logger, t)
	registerModelCiscoIOSXR(logger, t)
	registerModelJunOS(logger, t)
	registerModelLinux(logger, t)
}

func registerModel(logger hasPrintf, t *DeviceTable, m *Model) {
	if err := t.SetModel(m); err != nil {
		logger.Printf("registerModel: '%s': %v", m.name, err)
		return
	}
	logger.Printf("registerModel: '%s'", m.name)
}

func registerModelCiscoIOS(logger hasPrintf, t *DeviceTable) {
	registerModel(logger, t, &Model{
		name: "cisco-ios",
		defaultAttr: conf.DevAttributes{
			FetchCommand:  "show running-config",
			ApplyPrologue: "configure terminal",
			ApplyEpilogue: "end\nwrite memory",
			LineFilter:    "cisco",
		},
	})
}

func registerModelCiscoIOSXR(logger hasPrintf, t *DeviceTable) {
	registerModel(logger, t, &Model{
		name: "cisco-iosxr",
		defaultAttr: conf.DevAttributes{
			FetchCommand:  "show running-config",
			ApplyPrologue: "configure",
			ApplyEpilogue: "commit\nend",
			LineFilter:    "iosxr",
		},
	})
}

func registerModelJunOS(logger hasPrintf, t *DeviceTable) {
	registerModel(logger, t, &Model{
		name: "junos",
		defaultAttr: conf.DevAttributes{
			FetchCommand:  "show configuration | display set",
			ApplyPrologue: "configure",
			ApplyEpilogue: "commit and-quit",
		},
	})
}

func registerModelLinux(logger hasPrintf, t *DeviceTable) {
	registerModel(logger, t, &Model{
		name: "linux",
		defaultAttr: conf.DevAttributes{
			FetchCommand: "cat /etc/network/interfaces",
		},
	})
}
