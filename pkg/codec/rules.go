package codec

import (
	"fmt"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
)

// RuleTable holds one encoding rule per channel, indexed by channel.
type RuleTable [entities.ChannelCount]entities.EncodingRule

// MaxPayload is the LoRaWAN EU868 application payload ceiling at SF12.
const MaxPayload = 51

// DefaultRules returns the factory encoding table.
func DefaultRules() RuleTable {
	return RuleTable{
		entities.ChannelBattery:         {Bytes: 2, Precision: 0.001},
		entities.ChannelTemperature:     {Bytes: 2, Precision: 0.1},
		entities.ChannelPressure:        {Bytes: 2, Precision: 0.1},
		entities.ChannelHumidity:        {Bytes: 1, Precision: 0.5},
		entities.ChannelVolume:          {Bytes: 1, Precision: 0.5},
		entities.ChannelLight:           {Bytes: 2, Precision: 1},
		entities.ChannelUV:              {Bytes: 2, Precision: 1},
		entities.ChannelVOC:             {Bytes: 3, Precision: 1},
		entities.ChannelCO2:             {Bytes: 2, Precision: 1},
		entities.ChannelPM25:            {Bytes: 2, Precision: 0.1},
		entities.ChannelPM10:            {Bytes: 2, Precision: 0.1},
		entities.ChannelLatitude:        {Bytes: 4, Precision: 0.0000001, Offset: 90},
		entities.ChannelLongitude:       {Bytes: 4, Precision: 0.0000001, Offset: 180},
		entities.ChannelAltitude:        {Bytes: 2, Precision: 0.1, Offset: 100},
		entities.ChannelFirmwareVersion: {Bytes: 2, Precision: 1},
		entities.ChannelErrorCode:       {Bytes: 1, Precision: 1},
	}
}

var minimalChannels = []entities.Channel{
	entities.ChannelBattery,
	entities.ChannelTemperature,
	entities.ChannelPressure,
	entities.ChannelHumidity,
	entities.ChannelVolume,
	entities.ChannelLight,
	entities.ChannelUV,
	entities.ChannelVOC,
}

// DefaultLayouts returns the channel order of every transmit mode.
func DefaultLayouts() []Layout {
	rich := append(append([]entities.Channel{}, minimalChannels...),
		entities.ChannelCO2, entities.ChannelPM25, entities.ChannelPM10)
	gps := append(append([]entities.Channel{}, minimalChannels...),
		entities.ChannelLatitude, entities.ChannelLongitude, entities.ChannelAltitude, entities.ChannelFirmwareVersion)

	return []Layout{
		{Mode: entities.ModeMinimal, Channels: append([]entities.Channel{}, minimalChannels...), MaxBytes: MaxPayload},
		{Mode: entities.ModeRich, Channels: rich, MaxBytes: MaxPayload},
		{Mode: entities.ModeGPS, Channels: gps, MaxBytes: MaxPayload},
	}
}

// RulesFromConfig applies configured overrides on top of the defaults.
func RulesFromConfig(overrides map[string]entities.EncodingRule) (RuleTable, error) {
	rules := DefaultRules()
	for name, rule := range overrides {
		c, err := entities.ParseChannel(name)
		if err != nil {
			return rules, err
		}
		rules[c] = rule
	}
	return rules, nil
}

// LayoutsFromConfig replaces default layouts by mode; modes not configured
// keep their default order.
func LayoutsFromConfig(modes []entities.ModeLayout) ([]Layout, error) {
	layouts := DefaultLayouts()
	for _, m := range modes {
		mode, err := entities.ParseMode(m.Mode)
		if err != nil {
			return nil, err
		}
		layout := Layout{Mode: mode, MaxBytes: m.MaxBytes}
		if layout.MaxBytes == 0 {
			layout.MaxBytes = MaxPayload
		}
		for _, name := range m.Channels {
			c, err := entities.ParseChannel(name)
			if err != nil {
				return nil, fmt.Errorf("mode %s: %w", m.Mode, err)
			}
			layout.Channels = append(layout.Channels, c)
		}
		replaced := false
		for i := range layouts {
			if layouts[i].Mode == mode {
				layouts[i] = layout
				replaced = true
			}
		}
		if !replaced {
			layouts = append(layouts, layout)
		}
	}
	return layouts, nil
}

func validateRule(c entities.Channel, rule entities.EncodingRule) error {
	if rule.Bytes < 1 || rule.Bytes > 4 {
		return fmt.Errorf("channel %s: byte width %d outside 1..4", c, rule.Bytes)
	}
	if rule.Precision <= 0 {
		return fmt.Errorf("channel %s: precision must be positive", c)
	}
	return nil
}
