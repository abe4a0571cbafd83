package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/multimetro/mip/pkg/meter"
	"github.com/multimetro/mip/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Device:           ptr.To("/dev/ttyUSB0"),
		BaudRate:         ptr.To(9600),
		Parity:           ptr.To(string(meter.ParityNone)),
		DataBits:         ptr.To(8),
		StopBits:         ptr.To(1),
		AcquireTimeoutMS: ptr.To(2000),
		MaxRetries:       ptr.To(3),
		BackoffMS:        ptr.To(250),
		// Autosave is off until the user sets a schedule.
		AutosaveSchedule:   ptr.To(""),
		AutosaveDir:        ptr.To("/var/lib/mip/autosave"),
		AllowNonRootAccess: ptr.To(false),
		StrictCompare:      ptr.To(false),
	}
)

var _ Config = &File{}

// File is the JSON-file backed daemon configuration.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk shape. Absent fields take defaults so old
// config files keep working as options are added.
type RawFileConfig struct {
	Device           *string `json:"device,omitempty"`
	BaudRate         *int    `json:"baudRate,omitempty"`
	Parity           *string `json:"parity,omitempty"`
	DataBits         *int    `json:"dataBits,omitempty"`
	StopBits         *int    `json:"stopBits,omitempty"`
	AcquireTimeoutMS *int    `json:"acquireTimeoutMs,omitempty"`
	MaxRetries       *int    `json:"maxRetries,omitempty"`
	BackoffMS        *int    `json:"backoffMs,omitempty"`

	AutosaveSchedule   *string `json:"autosaveSchedule,omitempty"`
	AutosaveDir        *string `json:"autosaveDir,omitempty"`
	AllowNonRootAccess *bool   `json:"allowNonRootAccess,omitempty"`
	StrictCompare      *bool   `json:"strictCompare,omitempty"`
}

// NewRawFileConfigFromConfig snapshots c into its on-disk shape.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	serial := c.Serial()
	return &RawFileConfig{
		Device:             ptr.To(serial.Device),
		BaudRate:           ptr.To(serial.BaudRate),
		Parity:             ptr.To(string(serial.Parity)),
		DataBits:           ptr.To(serial.DataBits),
		StopBits:           ptr.To(serial.StopBits),
		AcquireTimeoutMS:   ptr.To(int(c.AcquireTimeout() / time.Millisecond)),
		MaxRetries:         ptr.To(c.MaxRetries()),
		BackoffMS:          ptr.To(int(c.Backoff() / time.Millisecond)),
		AutosaveSchedule:   ptr.To(c.AutosaveSchedule()),
		AutosaveDir:        ptr.To(c.AutosaveDir()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
		StrictCompare:      ptr.To(c.StrictCompare()),
	}, nil
}

func stringOr(v, def *string) string {
	if v != nil {
		return *v
	}
	return *def
}

func intOr(v, def *int) int {
	if v != nil {
		return *v
	}
	return *def
}

func boolOr(v, def *bool) bool {
	if v != nil {
		return *v
	}
	return *def
}

func (f *File) Serial() meter.Config {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return meter.Config{
		Device:   stringOr(f.c.Device, defaultFileConfig.Device),
		BaudRate: intOr(f.c.BaudRate, defaultFileConfig.BaudRate),
		Parity:   meter.Parity(stringOr(f.c.Parity, defaultFileConfig.Parity)),
		DataBits: intOr(f.c.DataBits, defaultFileConfig.DataBits),
		StopBits: intOr(f.c.StopBits, defaultFileConfig.StopBits),
	}
}

func (f *File) AcquireTimeout() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return time.Duration(intOr(f.c.AcquireTimeoutMS, defaultFileConfig.AcquireTimeoutMS)) * time.Millisecond
}

func (f *File) MaxRetries() int {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return intOr(f.c.MaxRetries, defaultFileConfig.MaxRetries)
}

func (f *File) Backoff() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return time.Duration(intOr(f.c.BackoffMS, defaultFileConfig.BackoffMS)) * time.Millisecond
}

func (f *File) AutosaveSchedule() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return stringOr(f.c.AutosaveSchedule, defaultFileConfig.AutosaveSchedule)
}

func (f *File) AutosaveDir() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return stringOr(f.c.AutosaveDir, defaultFileConfig.AutosaveDir)
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return boolOr(f.c.AllowNonRootAccess, defaultFileConfig.AllowNonRootAccess)
}

func (f *File) StrictCompare() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return boolOr(f.c.StrictCompare, defaultFileConfig.StrictCompare)
}

func (f *File) SetSerial(c meter.Config) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Device = ptr.To(c.Device)
	f.c.BaudRate = ptr.To(c.BaudRate)
	f.c.Parity = ptr.To(string(c.Parity))
	f.c.DataBits = ptr.To(c.DataBits)
	f.c.StopBits = ptr.To(c.StopBits)
}

func (f *File) SetAcquireTimeout(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}
	if d <= 0 {
		panic("acquire timeout must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AcquireTimeoutMS = ptr.To(int(d / time.Millisecond))
}

func (f *File) SetMaxRetries(n int) {
	if f.c == nil {
		panic("config is nil")
	}
	if n <= 0 {
		panic("max retries must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MaxRetries = ptr.To(n)
}

func (f *File) SetBackoff(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}
	if d < 0 {
		panic("backoff must not be negative")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.BackoffMS = ptr.To(int(d / time.Millisecond))
}

func (f *File) SetAutosaveSchedule(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AutosaveSchedule = ptr.To(expr)
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = ptr.To(b)
}

func (f *File) SetStrictCompare(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.StrictCompare = ptr.To(b)
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	serial := f.Serial()
	return logrus.Fields{
		"device":           serial.Device,
		"baudRate":         serial.BaudRate,
		"parity":           serial.Parity,
		"acquireTimeout":   f.AcquireTimeout(),
		"maxRetries":       f.MaxRetries(),
		"backoff":          f.Backoff(),
		"autosaveSchedule": f.AutosaveSchedule(),
		"strictCompare":    f.StrictCompare(),
	}
}
