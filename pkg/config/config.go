package config

import (
	"time"

	"github.com/multimetro/mip/pkg/meter"
)

// Config is the daemon configuration.
type Config interface {
	Serial() meter.Config
	AcquireTimeout() time.Duration
	MaxRetries() int
	Backoff() time.Duration
	AutosaveSchedule() string
	AutosaveDir() string
	AllowNonRootAccess() bool
	StrictCompare() bool

	SetSerial(meter.Config)
	SetAcquireTimeout(time.Duration)
	SetMaxRetries(int)
	SetBackoff(time.Duration)
	SetAutosaveSchedule(string)
	SetAllowNonRootAccess(bool)
	SetStrictCompare(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
