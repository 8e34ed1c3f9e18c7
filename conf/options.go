package conf

import (
	"sync"
)

// Options shares one AppConfig between the scan loop, the retention
// sweep, and the web UI.
type Options struct {
	lock    sync.RWMutex
	options AppConfig
}

// NewOptions creates an empty option holder.
func NewOptions() *Options {
	return &Options{}
}

// Get returns a private copy of the current options. Mutating the copy
// never affects other readers.
func (o *Options) Get() *AppConfig {
	o.lock.RLock()
	defer o.lock.RUnlock()
	clone := o.options
	return &clone
}

// Set replaces the current options with a copy of c.
func (o *Options) Set(c *AppConfig) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.options = *c
}
