package entities

import (
	"fmt"
	"time"
)

type NodeConfig struct {
	Node     NodeInfo                `yaml:"node"`
	Radio    RadioConfig             `yaml:"radio"`
	Schedule ScheduleSettings        `yaml:"schedule"`
	Timing   TimingConfig            `yaml:"timing"`
	Sensors  SensorConfig            `yaml:"sensors"`
	Storage  StorageConfig           `yaml:"storage"`
	Channels map[string]EncodingRule `yaml:"channels"`
	Modes    []ModeLayout            `yaml:"modes"`
	Log      LogConfig               `yaml:"log"`
}

type NodeInfo struct {
	ID              string `yaml:"id"`
	FirmwareVersion uint16 `yaml:"firmwareVersion"`
}

type RadioConfig struct {
	Activation     string `yaml:"activation"`
	DevEUI         string `yaml:"devEui"`
	AppEUI         string `yaml:"appEui"`
	AppKey         string `yaml:"appKey"`
	URL            string `yaml:"url"`
	JoinTimeoutSec int    `yaml:"joinTimeoutSec"`
	SendTimeoutSec int    `yaml:"sendTimeoutSec"`
}

// ScheduleSettings is the provisioning form of ScheduleConfig, expressed in
// spreading factors like the radio settings people actually write down.
type ScheduleSettings struct {
	SFLow            uint8  `yaml:"sfLow"`
	SFHigh           uint8  `yaml:"sfHigh"`
	FractionHigh     uint16 `yaml:"fractionHigh"`
	GPSPeriod        uint16 `yaml:"gpsPeriod"`
	GPSTriggerOffset uint16 `yaml:"gpsTriggerOffset"`
}

type TimingConfig struct {
	IntervalSec int `yaml:"intervalSec"`
	MarginMs    int `yaml:"marginMs"`
	WarmUpSec   int `yaml:"warmUpSec"`
	MaxAwakeSec int `yaml:"maxAwakeSec"`
	DisplaySec  int `yaml:"displaySec"`
}

type SensorConfig struct {
	TimeoutMs int                `yaml:"timeoutMs"`
	Retries   int                `yaml:"retries"`
	Samples   int                `yaml:"samples"`
	Mandatory []string           `yaml:"mandatory"`
	Simulated map[string]float64 `yaml:"simulated"`
}

type StorageConfig struct {
	DurablePath  string `yaml:"durablePath"`
	RetainedPath string `yaml:"retainedPath"`
}

// ModeLayout is the configured channel order of one mode.
type ModeLayout struct {
	Mode     string   `yaml:"mode"`
	Channels []string `yaml:"channels"`
	MaxBytes int      `yaml:"maxBytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type GatewayConfig struct {
	URL                        string                  `yaml:"url"`
	Listen                     string                  `yaml:"listen"`
	FilterCapacity             uint                    `yaml:"filterCapacity"`
	DuplicationProbability     float64                 `yaml:"duplicationProbability"`
	ResetFilterUsagePercentage float32                 `yaml:"resetFilterUsagePercentage"`
	Channels                   map[string]EncodingRule `yaml:"channels"`
	Modes                      []ModeLayout            `yaml:"modes"`
	Log                        LogConfig               `yaml:"log"`
}

// DefaultNodeConfig mirrors the factory provisioning values.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Node: NodeInfo{ID: "node-01", FirmwareVersion: 264},
		Radio: RadioConfig{
			Activation:     "otaa",
			JoinTimeoutSec: 60,
			SendTimeoutSec: 10,
		},
		Schedule: ScheduleSettings{
			SFLow:            10,
			SFHigh:           12,
			FractionHigh:     3,
			GPSPeriod:        144,
			GPSTriggerOffset: 1,
		},
		Timing: TimingConfig{
			IntervalSec: 600,
			MarginMs:    2800,
			WarmUpSec:   25,
			MaxAwakeSec: 180,
			DisplaySec:  8,
		},
		Sensors: SensorConfig{
			TimeoutMs: 5000,
			Retries:   2,
			Samples:   1,
			Mandatory: []string{ChannelBattery.String()},
		},
		Storage: StorageConfig{
			DurablePath:  "nvs.yaml",
			RetainedPath: "retained.bin",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultGatewayConfig mirrors the node defaults for the receiving side.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Listen:                     ":3100",
		FilterCapacity:             1000000,
		DuplicationProbability:     0.01,
		ResetFilterUsagePercentage: 75,
		Log:                        LogConfig{Level: "info", Format: "text"},
	}
}

func (c NodeConfig) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node id is required")
	}
	s := c.Schedule
	if s.SFLow < 7 || s.SFLow > 12 || s.SFHigh < 7 || s.SFHigh > 12 {
		return fmt.Errorf("spreading factors must be within 7..12")
	}
	if s.GPSPeriod != 0 && s.GPSTriggerOffset >= s.GPSPeriod {
		return fmt.Errorf("gps trigger offset %d must be below gps period %d", s.GPSTriggerOffset, s.GPSPeriod)
	}
	if c.Timing.IntervalSec <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Timing.MaxAwakeSec <= 0 || c.Timing.MaxAwakeSec > c.Timing.IntervalSec {
		return fmt.Errorf("max awake time must be within the interval")
	}
	if c.Sensors.TimeoutMs <= 0 {
		return fmt.Errorf("sensor timeout must be positive")
	}
	if c.Sensors.Retries < 0 || c.Sensors.Samples < 1 {
		return fmt.Errorf("invalid sensor retries or samples")
	}
	for _, name := range c.Sensors.Mandatory {
		if _, err := ParseChannel(name); err != nil {
			return err
		}
	}
	for name := range c.Channels {
		if _, err := ParseChannel(name); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleConfig converts the provisioning settings.
func (c NodeConfig) ScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		LowDataRate:      DataRateForSF(c.Schedule.SFLow),
		HighDataRate:     DataRateForSF(c.Schedule.SFHigh),
		FractionHigh:     c.Schedule.FractionHigh,
		GPSPeriod:        c.Schedule.GPSPeriod,
		GPSTriggerOffset: c.Schedule.GPSTriggerOffset,
	}
}

func (t TimingConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSec) * time.Second
}

func (t TimingConfig) Margin() time.Duration {
	return time.Duration(t.MarginMs) * time.Millisecond
}

func (t TimingConfig) WarmUp() time.Duration {
	return time.Duration(t.WarmUpSec) * time.Second
}

func (t TimingConfig) MaxAwake() time.Duration {
	return time.Duration(t.MaxAwakeSec) * time.Second
}

func (t TimingConfig) Display() time.Duration {
	return time.Duration(t.DisplaySec) * time.Second
}

func (r RadioConfig) JoinTimeout() time.Duration {
	return time.Duration(r.JoinTimeoutSec) * time.Second
}

func (r RadioConfig) SendTimeout() time.Duration {
	return time.Duration(r.SendTimeoutSec) * time.Second
}

func (s SensorConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// MandatoryChannels returns the parsed mandatory channel set. Unknown names
// are rejected by Validate.
func (s SensorConfig) MandatoryChannels() map[Channel]bool {
	out := make(map[Channel]bool, len(s.Mandatory))
	for _, name := range s.Mandatory {
		if c, err := ParseChannel(name); err == nil {
			out[c] = true
		}
	}
	return out
}
