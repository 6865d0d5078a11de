package storage

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrStoreCorrupted marks durable state that cannot be trusted.
var ErrStoreCorrupted = errors.New("persistent store corrupted")

// DurableStore survives a full power loss. Set must be durable when it returns.
type DurableStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
}

// RetainedMemory survives suspend but not power loss.
type RetainedMemory interface {
	ReadRetained() ([]byte, error)
	WriteRetained(data []byte) error
	Clear() error
}

const (
	keyFrameCounter     = "fcnt"
	keyErrorRegister    = "error"
	keyLastFault        = "fault"
	keyFirmwareVersion  = "fwversion"
	keyLowDataRate      = "dr_l"
	keyHighDataRate     = "dr_h"
	keyFractionHigh     = "adr"
	keyGPSPeriod        = "gps_period"
	keyGPSTriggerOffset = "gps_offset"
)

// MemoryStore is a DurableStore kept in RAM, for simulation and tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// MemoryRetained is a RetainedMemory kept in RAM.
type MemoryRetained struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemoryRetained) ReadRetained() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryRetained) WriteRetained(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

// Clear simulates a power loss.
func (m *MemoryRetained) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
