package entities

import "fmt"

// Mode is the leading selector byte of a frame. It doubles as the radio port
// so the receiver can pick the decode schema.
type Mode uint8

const (
	ModeMinimal    Mode = 1
	ModeRich       Mode = 2
	ModeGPS        Mode = 3
	ModeDiagnostic Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeMinimal:
		return "minimal"
	case ModeRich:
		return "rich"
	case ModeGPS:
		return "gps"
	case ModeDiagnostic:
		return "diagnostic"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode maps a configuration name to its Mode.
func ParseMode(name string) (Mode, error) {
	for _, m := range []Mode{ModeMinimal, ModeRich, ModeGPS, ModeDiagnostic} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

// DataRate is the LoRaWAN data rate index (EU868: DR = 12 - SF).
type DataRate uint8

const maxSpreadingFactor = 12

// DataRateForSF converts a spreading factor to its data rate.
func DataRateForSF(sf uint8) DataRate {
	if sf > maxSpreadingFactor {
		return 0
	}
	return DataRate(maxSpreadingFactor - sf)
}

// SpreadingFactor is the inverse of DataRateForSF.
func (dr DataRate) SpreadingFactor() uint8 {
	return maxSpreadingFactor - uint8(dr)
}

// WakeCause tells why the node is awake.
type WakeCause uint8

const (
	WakePowerOn WakeCause = iota
	WakeTimer
	WakeButtonPress
	WakeReset
)

func (w WakeCause) String() string {
	switch w {
	case WakePowerOn:
		return "power-on"
	case WakeTimer:
		return "timer"
	case WakeButtonPress:
		return "button"
	case WakeReset:
		return "reset"
	}
	return fmt.Sprintf("wake(%d)", uint8(w))
}

// WakeSource is something armed before suspending that can end the suspend.
type WakeSource uint8

const (
	WakeSourceTimer WakeSource = iota
	WakeSourceButton
)

// Session is the opaque radio session kept in retained memory.
type Session struct {
	Valid bool
	Blob  []byte
}

// ScheduleConfig holds the adaptive data-rate parameters stored at provisioning.
type ScheduleConfig struct {
	LowDataRate      DataRate
	HighDataRate     DataRate
	FractionHigh     uint16
	GPSPeriod        uint16
	GPSTriggerOffset uint16
}

// PersistentContext is the state carried between wake episodes.
// Session survives suspend only; everything else survives a full reboot.
type PersistentContext struct {
	FrameCounter    uint32
	ErrorRegister   uint8
	LastFault       FailureKind
	FirmwareVersion uint16
	Schedule        ScheduleConfig
	Session         Session
}

// Healthy reports whether no fault is pending.
func (c PersistentContext) Healthy() bool {
	return c.ErrorRegister == 0
}

// Frame is the positional binary payload of one uplink.
type Frame []byte

// Mode returns the selector byte, or 0 for an empty frame.
func (f Frame) Mode() Mode {
	if len(f) == 0 {
		return 0
	}
	return Mode(f[0])
}
