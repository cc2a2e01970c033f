package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ghodss/yaml"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		UnitURL:                    ptr.To("http://127.0.0.1:8080"),
		UnitPollIntervalSeconds:    ptr.To(5),
		DeviceType:                 ptr.To(""),
		ReferencePort:              ptr.To("/dev/ttyUSB0"),
		ReferenceBaudRate:          ptr.To(9600),
		ReferenceChannel:           ptr.To("1"),
		StabilityIntervalMinutes:   ptr.To(15),
		TelemetryIntervalSeconds:   ptr.To(60),
		CompressorPollMilliseconds: ptr.To(1000),
		CycleCheckWindow:           ptr.To(6),
		CycleAdjustThreshold:       ptr.To(12),
		NATSURL:                    ptr.To(""),
		NATSSubject:                ptr.To("fridgecal"),
		MQTTBroker:                 ptr.To(""),
		MQTTTopic:                  ptr.To("fridgecal"),
		StatePath:                  ptr.To(""),
		LogFile:                    ptr.To(""),
		LogFileMaxBytes:            ptr.To(int64(500000)),
		Cron:                       ptr.To(""),
		AllowNonRootAccess:         ptr.To(false),
	}
)

var _ Config = &File{}

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
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields fall back to defaults.
// YAML files use the same keys as JSON.
type RawFileConfig struct {
	UnitURL                    *string `json:"unitURL,omitempty"`
	UnitPollIntervalSeconds    *int    `json:"unitPollIntervalSeconds,omitempty"`
	DeviceType                 *string `json:"deviceType,omitempty"`
	ReferencePort              *string `json:"referencePort,omitempty"`
	ReferenceBaudRate          *int    `json:"referenceBaudRate,omitempty"`
	ReferenceChannel           *string `json:"referenceChannel,omitempty"`
	StabilityIntervalMinutes   *int    `json:"stabilityIntervalMinutes,omitempty"`
	TelemetryIntervalSeconds   *int    `json:"telemetryIntervalSeconds,omitempty"`
	CompressorPollMilliseconds *int    `json:"compressorPollMilliseconds,omitempty"`
	CycleCheckWindow           *int    `json:"cycleCheckWindow,omitempty"`
	CycleAdjustThreshold       *int    `json:"cycleAdjustThreshold,omitempty"`
	NATSURL                    *string `json:"natsURL,omitempty"`
	NATSSubject                *string `json:"natsSubject,omitempty"`
	MQTTBroker                 *string `json:"mqttBroker,omitempty"`
	MQTTTopic                  *string `json:"mqttTopic,omitempty"`
	StatePath                  *string `json:"statePath,omitempty"`
	LogFile                    *string `json:"logFile,omitempty"`
	LogFileMaxBytes            *int64  `json:"logFileMaxBytes,omitempty"`
	Cron                       *string `json:"cron,omitempty"`
	AllowNonRootAccess         *bool   `json:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		UnitURL:                    ptr.To(c.UnitURL()),
		UnitPollIntervalSeconds:    ptr.To(int(c.UnitPollInterval() / time.Second)),
		DeviceType:                 ptr.To(c.DeviceType()),
		ReferencePort:              ptr.To(c.ReferencePort()),
		ReferenceBaudRate:          ptr.To(c.ReferenceBaudRate()),
		ReferenceChannel:           ptr.To(c.ReferenceChannel()),
		StabilityIntervalMinutes:   ptr.To(int(c.StabilityInterval() / time.Minute)),
		TelemetryIntervalSeconds:   ptr.To(int(c.TelemetryInterval() / time.Second)),
		CompressorPollMilliseconds: ptr.To(int(c.CompressorPollInterval() / time.Millisecond)),
		CycleCheckWindow:           ptr.To(c.CycleCheckWindow()),
		CycleAdjustThreshold:       ptr.To(c.CycleAdjustThreshold()),
		NATSURL:                    ptr.To(c.NATSURL()),
		NATSSubject:                ptr.To(c.NATSSubject()),
		MQTTBroker:                 ptr.To(c.MQTTBroker()),
		MQTTTopic:                  ptr.To(c.MQTTTopic()),
		StatePath:                  ptr.To(c.StatePath()),
		LogFile:                    ptr.To(c.LogFile()),
		LogFileMaxBytes:            ptr.To(c.LogFileMaxBytes()),
		Cron:                       ptr.To(c.Cron()),
		AllowNonRootAccess:         ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// read runs get on the raw config under the read lock.
func read[T any](f *File, get func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(get(f.c), *get(defaultFileConfig))
}

func (f *File) UnitURL() string {
	return strings.TrimSuffix(read(f, func(c *RawFileConfig) *string { return c.UnitURL }), "/")
}

func (f *File) UnitPollInterval() time.Duration {
	return positiveDuration(read(f, func(c *RawFileConfig) *int { return c.UnitPollIntervalSeconds }),
		*defaultFileConfig.UnitPollIntervalSeconds, time.Second)
}

func (f *File) DeviceType() string {
	return read(f, func(c *RawFileConfig) *string { return c.DeviceType })
}

func (f *File) ReferencePort() string {
	return read(f, func(c *RawFileConfig) *string { return c.ReferencePort })
}

func (f *File) ReferenceBaudRate() int {
	baud := read(f, func(c *RawFileConfig) *int { return c.ReferenceBaudRate })
	if baud <= 0 {
		return *defaultFileConfig.ReferenceBaudRate
	}
	return baud
}

func (f *File) ReferenceChannel() string {
	return read(f, func(c *RawFileConfig) *string { return c.ReferenceChannel })
}

func (f *File) StabilityInterval() time.Duration {
	return positiveDuration(read(f, func(c *RawFileConfig) *int { return c.StabilityIntervalMinutes }),
		*defaultFileConfig.StabilityIntervalMinutes, time.Minute)
}

func (f *File) TelemetryInterval() time.Duration {
	return positiveDuration(read(f, func(c *RawFileConfig) *int { return c.TelemetryIntervalSeconds }),
		*defaultFileConfig.TelemetryIntervalSeconds, time.Second)
}

func (f *File) CompressorPollInterval() time.Duration {
	return positiveDuration(read(f, func(c *RawFileConfig) *int { return c.CompressorPollMilliseconds }),
		*defaultFileConfig.CompressorPollMilliseconds, time.Millisecond)
}

func (f *File) CycleCheckWindow() int {
	n := read(f, func(c *RawFileConfig) *int { return c.CycleCheckWindow })
	if n <= 0 {
		return *defaultFileConfig.CycleCheckWindow
	}
	return n
}

func (f *File) CycleAdjustThreshold() int {
	n := read(f, func(c *RawFileConfig) *int { return c.CycleAdjustThreshold })
	if check := f.CycleCheckWindow(); n < check {
		return check
	}
	return n
}

func (f *File) NATSURL() string {
	return read(f, func(c *RawFileConfig) *string { return c.NATSURL })
}

func (f *File) NATSSubject() string {
	return read(f, func(c *RawFileConfig) *string { return c.NATSSubject })
}

func (f *File) MQTTBroker() string {
	return read(f, func(c *RawFileConfig) *string { return c.MQTTBroker })
}

func (f *File) MQTTTopic() string {
	return read(f, func(c *RawFileConfig) *string { return c.MQTTTopic })
}

func (f *File) StatePath() string {
	return read(f, func(c *RawFileConfig) *string { return c.StatePath })
}

func (f *File) LogFile() string {
	return read(f, func(c *RawFileConfig) *string { return c.LogFile })
}

func (f *File) LogFileMaxBytes() int64 {
	n := read(f, func(c *RawFileConfig) *int64 { return c.LogFileMaxBytes })
	if n <= 0 {
		return *defaultFileConfig.LogFileMaxBytes
	}
	return n
}

func (f *File) Cron() string {
	return strings.TrimSpace(read(f, func(c *RawFileConfig) *string { return c.Cron }))
}

func (f *File) AllowNonRootAccess() bool {
	return read(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetDeviceType(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DeviceType = &s
}

func (f *File) SetCron(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	s = strings.TrimSpace(s)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Cron = &s
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.filepath)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
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

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
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

	var (
		b   []byte
		err error
	)
	if f.isYAML() {
		b, err = yaml.Marshal(f.c)
	} else {
		b, err = json.MarshalIndent(f.c, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	err = os.WriteFile(f.filepath, b, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"unitURL":                f.UnitURL(),
		"unitPollInterval":       f.UnitPollInterval(),
		"deviceType":             f.DeviceType(),
		"referencePort":          f.ReferencePort(),
		"referenceBaudRate":      f.ReferenceBaudRate(),
		"referenceChannel":       f.ReferenceChannel(),
		"stabilityInterval":      f.StabilityInterval(),
		"telemetryInterval":      f.TelemetryInterval(),
		"compressorPollInterval": f.CompressorPollInterval(),
		"cycleCheckWindow":       f.CycleCheckWindow(),
		"cycleAdjustThreshold":   f.CycleAdjustThreshold(),
		"natsURL":                f.NATSURL(),
		"mqttBroker":             f.MQTTBroker(),
		"statePath":              f.StatePath(),
		"logFile":                f.LogFile(),
		"cron":                   f.Cron(),
		"allowNonRootAccess":     f.AllowNonRootAccess(),
	}
}

func positiveDuration(n, def int, unit time.Duration) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * unit
}
