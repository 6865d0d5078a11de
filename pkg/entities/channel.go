package entities

import (
	"fmt"
	"math"
)

// Channel identifies a measurement slot in a telemetry frame.
type Channel uint8

const (
	ChannelBattery Channel = iota
	ChannelTemperature
	ChannelPressure
	ChannelHumidity
	ChannelVolume
	ChannelLight
	ChannelUV
	ChannelVOC
	ChannelCO2
	ChannelPM25
	ChannelPM10
	ChannelLatitude
	ChannelLongitude
	ChannelAltitude
	ChannelFirmwareVersion
	ChannelErrorCode

	// ChannelCount must stay last.
	ChannelCount
)

type channelInfo struct {
	name  string
	label string
	unit  string
}

var channels = [ChannelCount]channelInfo{
	ChannelBattery:         {"battery", "Battery", "V"},
	ChannelTemperature:     {"temperature", "Temp", "C"},
	ChannelPressure:        {"pressure", "Pressure", "hPa"},
	ChannelHumidity:        {"humidity", "Humidity", "%"},
	ChannelVolume:          {"volume", "Volume", "dB"},
	ChannelLight:           {"light", "Light", "lx"},
	ChannelUV:              {"uv", "UV", ""},
	ChannelVOC:             {"voc", "VOC", "Ohm"},
	ChannelCO2:             {"co2", "CO2", "ppm"},
	ChannelPM25:            {"pm25", "PM2.5", "ug/m3"},
	ChannelPM10:            {"pm10", "PM10", "ug/m3"},
	ChannelLatitude:        {"latitude", "Lat", "deg"},
	ChannelLongitude:       {"longitude", "Long", "deg"},
	ChannelAltitude:        {"altitude", "Alt", "m"},
	ChannelFirmwareVersion: {"firmware_version", "FW", ""},
	ChannelErrorCode:       {"error_code", "Error", ""},
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c < ChannelCount
}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
	return channels[c].name
}

// Label is the short text used on the status display.
func (c Channel) Label() string {
	if !c.Valid() {
		return c.String()
	}
	return channels[c].label
}

// Unit is the physical unit of the channel value.
func (c Channel) Unit() string {
	if !c.Valid() {
		return ""
	}
	return channels[c].unit
}

// ParseChannel maps a configuration name back to its Channel.
func ParseChannel(name string) (Channel, error) {
	for c := Channel(0); c < ChannelCount; c++ {
		if channels[c].name == name {
			return c, nil
		}
	}
	return ChannelCount, fmt.Errorf("unknown channel %q", name)
}

// EncodingRule describes how one channel is packed into a frame.
type EncodingRule struct {
	Bytes     int     `yaml:"bytes"`
	Precision float64 `yaml:"precision"`
	Offset    float64 `yaml:"offset"`
	Signed    bool    `yaml:"signed"`
}

// Missing is the sentinel value of an optional channel whose read timed out.
var Missing = math.NaN()

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Reading is a single channel value.
type Reading struct {
	Channel Channel `json:"channel"`
	Value   float64 `json:"value"`
}

// ReadingSet is ordered; the frame carries no tags so order defines the layout.
type ReadingSet []Reading

// Channels returns the channels of the set in order.
func (rs ReadingSet) Channels() []Channel {
	out := make([]Channel, len(rs))
	for i, r := range rs {
		out[i] = r.Channel
	}
	return out
}

// Value returns the value recorded for c.
func (rs ReadingSet) Value(c Channel) (float64, bool) {
	for _, r := range rs {
		if r.Channel == c {
			return r.Value, true
		}
	}
	return 0, false
}
