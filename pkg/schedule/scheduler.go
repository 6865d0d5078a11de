package schedule

import (
	"time"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
)

// Select picks the channel-set mode and data rate of the next uplink.
// It depends on nothing but its arguments, so a frame resent after a crash
// before commit goes out with the same parameters.
//
// Priority: button press, GPS slot, periodic rich anchor, minimal.
// A zero period disables the corresponding rule.
func Select(frameCounter uint32, cause entities.WakeCause, conf entities.ScheduleConfig) (entities.Mode, entities.DataRate) {
	if cause == entities.WakeButtonPress {
		return entities.ModeRich, conf.HighDataRate
	}
	if conf.GPSPeriod != 0 && frameCounter%uint32(conf.GPSPeriod) == uint32(conf.GPSTriggerOffset) {
		return entities.ModeGPS, conf.HighDataRate
	}
	if conf.FractionHigh != 0 && frameCounter%uint32(conf.FractionHigh) == 0 {
		return entities.ModeRich, conf.HighDataRate
	}
	return entities.ModeMinimal, conf.LowDataRate
}

// SleepFor returns how long to suspend so that wake-to-wake spacing matches
// target. It is never negative.
func SleepFor(target, elapsed, margin time.Duration) time.Duration {
	remaining := target - elapsed - margin
	if remaining < 0 {
		return 0
	}
	return remaining
}
