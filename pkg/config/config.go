package config

import "time"

type Config interface {
	// UnitURL is the base URL of the unit-under-test HTTP API.
	UnitURL() string
	UnitPollInterval() time.Duration
	// DeviceType overrides the device type reported by the unit when set.
	DeviceType() string

	ReferencePort() string
	ReferenceBaudRate() int
	ReferenceChannel() string

	StabilityInterval() time.Duration
	TelemetryInterval() time.Duration
	CompressorPollInterval() time.Duration
	CycleCheckWindow() int
	// CycleAdjustThreshold is never below CycleCheckWindow.
	CycleAdjustThreshold() int

	NATSURL() string
	NATSSubject() string
	MQTTBroker() string
	MQTTTopic() string

	StatePath() string
	LogFile() string
	LogFileMaxBytes() int64
	Cron() string
	AllowNonRootAccess() bool

	SetDeviceType(string)
	SetCron(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
