package codec

import (
	"fmt"
	"math"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/pkg/errors"
)

var (
	ErrFrameSizeExceeded = errors.New("frame size exceeded")
	ErrLayoutMismatch    = errors.New("reading set does not match mode layout")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrShortFrame        = errors.New("frame shorter than mode layout")
)

// Layout is the fixed channel order and payload ceiling of one mode.
type Layout struct {
	Mode     entities.Mode
	Channels []entities.Channel
	MaxBytes int
}

// Size is the encoded length of a frame in this layout, mode byte included.
func (l Layout) Size(rules *RuleTable) int {
	size := 1
	for _, c := range l.Channels {
		size += rules[c].Bytes
	}
	return size
}

// Codec packs reading sets into positional frames and back.
type Codec struct {
	rules   RuleTable
	layouts map[entities.Mode]Layout
}

// New validates the rules used by the layouts. Oversized layouts are accepted
// here and rejected by Encode, so a bad configuration fails the episode that
// uses it instead of the whole node.
func New(rules RuleTable, layouts []Layout) (*Codec, error) {
	c := &Codec{rules: rules, layouts: make(map[entities.Mode]Layout, len(layouts))}
	for _, l := range layouts {
		if l.Mode == entities.ModeDiagnostic {
			return nil, fmt.Errorf("mode %s is reserved", l.Mode)
		}
		for _, ch := range l.Channels {
			if !ch.Valid() {
				return nil, fmt.Errorf("mode %s: invalid channel %d", l.Mode, ch)
			}
			if err := validateRule(ch, rules[ch]); err != nil {
				return nil, err
			}
		}
		c.layouts[l.Mode] = l
	}
	return c, nil
}

// Layout returns the configured layout of mode.
func (c *Codec) Layout(mode entities.Mode) (Layout, error) {
	l, ok := c.layouts[mode]
	if !ok {
		return Layout{}, errors.Wrapf(ErrUnknownMode, "mode %d", uint8(mode))
	}
	return l, nil
}

// Rule returns the encoding rule of channel.
func (c *Codec) Rule(channel entities.Channel) entities.EncodingRule {
	return c.rules[channel]
}

// Encode builds the frame of readings for mode. It never truncates: a frame
// over the mode ceiling is ErrFrameSizeExceeded.
func (c *Codec) Encode(mode entities.Mode, readings entities.ReadingSet) (entities.Frame, error) {
	layout, err := c.Layout(mode)
	if err != nil {
		return nil, err
	}
	if size := layout.Size(&c.rules); size > layout.MaxBytes {
		return nil, errors.Wrapf(ErrFrameSizeExceeded, "mode %s needs %d bytes, limit %d", mode, size, layout.MaxBytes)
	}
	enc := &frameEncoder{frame: make(entities.Frame, 1, layout.Size(&c.rules))}
	enc.frame[0] = byte(mode)
	if err := c.Walk(mode, readings, enc); err != nil {
		return nil, err
	}
	return enc.frame, nil
}

// Decode is the inverse of Encode for frames of a known mode.
func (c *Codec) Decode(frame entities.Frame) (entities.Mode, entities.ReadingSet, error) {
	if len(frame) == 0 {
		return 0, nil, ErrShortFrame
	}
	mode := frame.Mode()
	if mode == entities.ModeDiagnostic {
		return c.decodeDiagnostic(frame)
	}
	layout, err := c.Layout(mode)
	if err != nil {
		return mode, nil, err
	}
	if len(frame) != layout.Size(&c.rules) {
		return mode, nil, errors.Wrapf(ErrShortFrame, "mode %s: got %d bytes, want %d", mode, len(frame), layout.Size(&c.rules))
	}
	readings := make(entities.ReadingSet, 0, len(layout.Channels))
	pos := 1
	for _, ch := range layout.Channels {
		rule := c.rules[ch]
		readings = append(readings, entities.Reading{Channel: ch, Value: DecodeField(rule, frame[pos:pos+rule.Bytes])})
		pos += rule.Bytes
	}
	return mode, readings, nil
}

// EncodeDiagnostic builds the error report sent when the node gives up:
// mode byte, firmware version and failure kind.
func EncodeDiagnostic(firmware uint16, kind entities.FailureKind) entities.Frame {
	return entities.Frame{byte(entities.ModeDiagnostic), byte(firmware >> 8), byte(firmware), byte(kind)}
}

func (c *Codec) decodeDiagnostic(frame entities.Frame) (entities.Mode, entities.ReadingSet, error) {
	if len(frame) != 4 {
		return entities.ModeDiagnostic, nil, errors.Wrapf(ErrShortFrame, "diagnostic frame has %d bytes", len(frame))
	}
	return entities.ModeDiagnostic, entities.ReadingSet{
		{Channel: entities.ChannelFirmwareVersion, Value: float64(uint16(frame[1])<<8 | uint16(frame[2]))},
		{Channel: entities.ChannelErrorCode, Value: float64(frame[3])},
	}, nil
}

// FieldVisitor receives every field of a reading set in layout order.
type FieldVisitor interface {
	VisitField(channel entities.Channel, rule entities.EncodingRule, value float64) error
}

// Walk checks readings against the mode layout and hands each field to v.
func (c *Codec) Walk(mode entities.Mode, readings entities.ReadingSet, v FieldVisitor) error {
	layout, err := c.Layout(mode)
	if err != nil {
		return err
	}
	if len(readings) != len(layout.Channels) {
		return errors.Wrapf(ErrLayoutMismatch, "mode %s expects %d channels, got %d", mode, len(layout.Channels), len(readings))
	}
	for i, r := range readings {
		if r.Channel != layout.Channels[i] {
			return errors.Wrapf(ErrLayoutMismatch, "position %d: expected %s, got %s", i, layout.Channels[i], r.Channel)
		}
		if err := v.VisitField(r.Channel, c.rules[r.Channel], r.Value); err != nil {
			return err
		}
	}
	return nil
}

type frameEncoder struct {
	frame entities.Frame
}

func (e *frameEncoder) VisitField(_ entities.Channel, rule entities.EncodingRule, value float64) error {
	e.frame = append(e.frame, EncodeField(rule, value)...)
	return nil
}

// Raw scales value to the integer carried on the wire, saturating at the
// range of the rule instead of wrapping. Missing values map to the reserved
// code of the rule.
func Raw(rule entities.EncodingRule, value float64) int64 {
	if entities.IsMissing(value) {
		return missingRaw(rule.Signed, uint(8*rule.Bytes))
	}
	lo, hi := rawRange(rule)
	scaled := math.Round((value + rule.Offset) / rule.Precision)
	if scaled <= float64(lo) {
		return lo
	}
	if scaled >= float64(hi) {
		return hi
	}
	return int64(scaled)
}

// EncodeField serializes one value big endian in rule.Bytes bytes.
func EncodeField(rule entities.EncodingRule, value float64) []byte {
	raw := uint64(Raw(rule, value))
	out := make([]byte, rule.Bytes)
	for i := rule.Bytes - 1; i >= 0; i-- {
		out[i] = byte(raw)
		raw >>= 8
	}
	return out
}

// DecodeField reverses EncodeField. The reserved code decodes to
// entities.Missing.
func DecodeField(rule entities.EncodingRule, field []byte) float64 {
	var raw uint64
	for _, b := range field {
		raw = raw<<8 | uint64(b)
	}
	bits := uint(8 * len(field))
	value := int64(raw)
	if rule.Signed && raw&(1<<(bits-1)) != 0 {
		value = int64(raw) - int64(1)<<bits
	}
	if value == missingRaw(rule.Signed, bits) {
		return entities.Missing
	}
	return float64(value)*rule.Precision - rule.Offset
}

// rawRange is the span of codes a measured value may take. It excludes the
// missing code: all ones when unsigned, the most negative code when signed.
func rawRange(rule entities.EncodingRule) (int64, int64) {
	bits := uint(8 * rule.Bytes)
	if rule.Signed {
		return -(int64(1) << (bits - 1)) + 1, int64(1)<<(bits-1) - 1
	}
	return 0, int64(1)<<bits - 2
}

func missingRaw(signed bool, bits uint) int64 {
	if signed {
		return -(int64(1) << (bits - 1))
	}
	return int64(1)<<bits - 1
}
