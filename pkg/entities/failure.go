package entities

import (
	"fmt"

	"github.com/pkg/errors"
)

// FailureKind classifies an episode failure for the escalation ladder.
type FailureKind uint8

const (
	FailureNone FailureKind = iota
	FailureSensorTimeout
	FailureRadioJoinTimeout
	FailureRadioSendFailure
	FailurePersistentStoreCorruption
	FailureFrameSizeExceeded
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureSensorTimeout:
		return "SensorTimeout"
	case FailureRadioJoinTimeout:
		return "RadioJoinTimeout"
	case FailureRadioSendFailure:
		return "RadioSendFailure"
	case FailurePersistentStoreCorruption:
		return "PersistentStoreCorruption"
	case FailureFrameSizeExceeded:
		return "FrameSizeExceeded"
	}
	return fmt.Sprintf("failure(%d)", uint8(k))
}

// Failure is an episode-fatal error tagged with its classification.
type Failure struct {
	Kind    FailureKind
	Channel Channel
	Err     error
}

// NewFailure wraps err with its classification.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Channel: ChannelCount, Err: err}
}

// NewSensorFailure records which mandatory channel could not be read.
func NewSensorFailure(channel Channel, err error) *Failure {
	return &Failure{Kind: FailureSensorTimeout, Channel: channel, Err: err}
}

func (f *Failure) Error() string {
	prefix := f.Kind.String()
	if f.Channel.Valid() {
		prefix = fmt.Sprintf("%s(%s)", prefix, f.Channel)
	}
	if f.Err == nil {
		return prefix
	}
	return prefix + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts the *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
