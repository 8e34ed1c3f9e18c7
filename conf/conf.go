// Package conf loads and saves confbak configuration.
package conf

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/netbak/confbak/store"
)

// DevAttributes selects how a device model is captured.
type DevAttributes struct {
	FetchCommand  string `yaml:"fetchcommand"`  // command retrieving the running configuration
	ApplyPrologue string `yaml:"applyprologue"` // command entering configuration mode
	ApplyEpilogue string `yaml:"applyepilogue"` // command leaving configuration mode and committing
	LineFilter    string `yaml:"linefilter"`    // volatile-line filter name, empty for none
}

// DevConfig is a device identity record. Devices are supplied to the backup
// run externally, there is no process-wide registry.
type DevConfig struct {
	Model         string        `yaml:"model"`
	ID            string        `yaml:"id"`
	HostPort      string        `yaml:"hostport"`
	LoginUser     string        `yaml:"user"`
	LoginPassword string        `yaml:"pass"`
	Debug         bool          `yaml:"debug,omitempty"`
	Attr          DevAttributes `yaml:"attributes,omitempty"`
}

// Change records the last configuration change.
type Change struct {
	When time.Time `yaml:"when"`
	From string    `yaml:"from,omitempty"`
	By   string    `yaml:"by,omitempty"`
}

// AppConfig is the application-wide option set.
type AppConfig struct {
	LastChange Change `yaml:"lastchange,omitempty"`

	MaxConcurrency int           `yaml:"maxconcurrency"` // cap on in-flight captures
	CaptureTimeout time.Duration `yaml:"capturetimeout"` // per-device capture deadline
	ScanInterval   time.Duration `yaml:"scaninterval"`   // pause between fleet scans
	Holdtime       time.Duration `yaml:"holdtime"`       // recently-saved devices are skipped

	MaxConfigFiles    int   `yaml:"maxconfigfiles"`    // kept versions of confbak's own config/log
	MaxConfigLoadSize int64 `yaml:"maxconfigloadsize"` // per-file load size cap

	DedupUnchanged  bool `yaml:"dedupunchanged"`  // skip snapshots identical to the previous one
	NeverDeleteLast bool `yaml:"neverdeletelast"` // refuse to delete a device's only snapshot

	RetentionDays    int  `yaml:"retentiondays"`    // snapshot age limit, 0 disables pruning
	MinKeep          int  `yaml:"minkeep"`          // snapshots always retained per device
	MaxDeletesPerRun int  `yaml:"maxdeletesperrun"` // pruning cap per scan, 0 = unlimited
	RollbackVerify   bool `yaml:"rollbackverify"`   // capture and compare after rollback apply
}

// Config is the full persisted configuration: options plus the fleet.
type Config struct {
	Options AppConfig   `yaml:"options"`
	Devices []DevConfig `yaml:"devices"`
}

// New creates a config with defaults.
func New() *Config {
	return &Config{
		Options: AppConfig{
			MaxConcurrency:    20,
			CaptureTimeout:    5 * time.Minute,
			ScanInterval:      10 * time.Minute,
			Holdtime:          12 * time.Hour,
			MaxConfigFiles:    120,
			MaxConfigLoadSize: 10000000, // 10M
			DedupUnchanged:    true,
			NeverDeleteLast:   true,
			MinKeep:           5,
			RollbackVerify:    true,
		},
	}
}

// Load reads a config file, up to maxSize bytes.
func Load(path string, maxSize int64) (*Config, error) {
	b, readErr := store.FileRead(path, maxSize)
	if readErr != nil {
		return nil, readErr
	}
	c := New()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("Load: '%s': %v", path, err)
	}
	return c, nil
}

// Dump serializes the config.
func (c *Config) Dump() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	return b, nil
}
