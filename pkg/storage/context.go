package storage

import (
	"encoding/binary"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ContextStore owns the persistent context of the node. There is exactly one
// writer, the running episode, so it does no locking of its own.
type ContextStore struct {
	durable  DurableStore
	retained RetainedMemory
	log      *logrus.Entry
}

func NewContextStore(durable DurableStore, retained RetainedMemory, log *logrus.Entry) *ContextStore {
	return &ContextStore{durable: durable, retained: retained, log: log}
}

// Boot drops the retained region when the node came up from a power loss.
// On the host the region is a file, so it outlives the process unless
// cleared here.
func (s *ContextStore) Boot(cause entities.WakeCause) error {
	if cause != entities.WakePowerOn {
		return nil
	}
	s.log.Debug("power-on, clearing retained memory")
	return errors.Wrap(s.retained.Clear(), "clear retained memory")
}

// Provision writes the factory schedule when the store has never been
// provisioned. The firmware version is refreshed on every power-on.
func (s *ContextStore) Provision(firmware uint16, schedule entities.ScheduleConfig) error {
	if _, ok := s.durable.Get(keyFractionHigh); !ok {
		s.log.Info("provisioning persistent store with factory schedule")
		writes := []struct {
			key   string
			value []byte
		}{
			{keyLowDataRate, []byte{byte(schedule.LowDataRate)}},
			{keyHighDataRate, []byte{byte(schedule.HighDataRate)}},
			{keyFractionHigh, u16(schedule.FractionHigh)},
			{keyGPSPeriod, u16(schedule.GPSPeriod)},
			{keyGPSTriggerOffset, u16(schedule.GPSTriggerOffset)},
		}
		for _, w := range writes {
			if err := s.durable.Set(w.key, w.value); err != nil {
				return errors.Wrapf(err, "provision %s", w.key)
			}
		}
	}
	current, ok := s.durable.Get(keyFirmwareVersion)
	if ok && len(current) == 2 && binary.BigEndian.Uint16(current) == firmware {
		return nil
	}
	return errors.Wrap(s.durable.Set(keyFirmwareVersion, u16(firmware)), "provision firmware version")
}

// Restore loads the context. Absent keys take their zero defaults; malformed
// durable values are ErrStoreCorrupted. A bad retained record only means the
// session is gone.
func (s *ContextStore) Restore() (entities.PersistentContext, error) {
	var c entities.PersistentContext
	var err error

	if c.FrameCounter, err = s.readU32(keyFrameCounter); err != nil {
		return c, err
	}
	if c.ErrorRegister, err = s.readU8(keyErrorRegister); err != nil {
		return c, err
	}
	fault, err := s.readU8(keyLastFault)
	if err != nil {
		return c, err
	}
	c.LastFault = entities.FailureKind(fault)
	if c.FirmwareVersion, err = s.readU16(keyFirmwareVersion); err != nil {
		return c, err
	}

	low, err := s.readU8(keyLowDataRate)
	if err != nil {
		return c, err
	}
	high, err := s.readU8(keyHighDataRate)
	if err != nil {
		return c, err
	}
	c.Schedule.LowDataRate = entities.DataRate(low)
	c.Schedule.HighDataRate = entities.DataRate(high)
	if c.Schedule.FractionHigh, err = s.readU16(keyFractionHigh); err != nil {
		return c, err
	}
	if c.Schedule.GPSPeriod, err = s.readU16(keyGPSPeriod); err != nil {
		return c, err
	}
	if c.Schedule.GPSTriggerOffset, err = s.readU16(keyGPSTriggerOffset); err != nil {
		return c, err
	}

	c.Session = s.restoreSession()
	return c, nil
}

func (s *ContextStore) restoreSession() entities.Session {
	data, err := s.retained.ReadRetained()
	if err != nil {
		s.log.WithError(err).Warn("retained memory unreadable, session dropped")
		return entities.Session{}
	}
	session, err := decodeRetained(data)
	if errors.Is(err, errRetainedEmpty) {
		s.log.Debug("no retained session")
		return entities.Session{}
	}
	if err != nil {
		s.log.WithError(err).Warn("retained session discarded")
		return entities.Session{}
	}
	return session
}

// Commit is the only way the frame counter advances. Call it strictly after
// a confirmed send. On success c reflects what was written.
//
// A power cut between the send and this write leaves the old counter in
// place, so the same counter may be sent twice.
func (s *ContextStore) Commit(c *entities.PersistentContext, session entities.Session) error {
	next := c.FrameCounter + 1
	if next < c.FrameCounter {
		return errors.New("frame counter exhausted")
	}
	if err := s.durable.Set(keyFrameCounter, u32(next)); err != nil {
		return errors.Wrap(err, "commit frame counter")
	}
	c.FrameCounter = next

	if c.ErrorRegister != 0 || c.LastFault != entities.FailureNone {
		if err := s.durable.Set(keyErrorRegister, []byte{0}); err != nil {
			return errors.Wrap(err, "clear error register")
		}
		if err := s.durable.Set(keyLastFault, []byte{byte(entities.FailureNone)}); err != nil {
			return errors.Wrap(err, "clear last fault")
		}
		c.ErrorRegister = 0
		c.LastFault = entities.FailureNone
	}

	if err := s.SaveSession(session); err != nil {
		return err
	}
	c.Session = session
	return nil
}

// SaveSession refreshes the suspend-tier session without touching the counter.
func (s *ContextStore) SaveSession(session entities.Session) error {
	record, err := encodeRetained(session)
	if err != nil {
		return err
	}
	return errors.Wrap(s.retained.WriteRetained(record), "save session")
}

// MarkFault records that the node is about to restart to clear kind.
func (s *ContextStore) MarkFault(register uint8, kind entities.FailureKind) error {
	if err := s.durable.Set(keyErrorRegister, []byte{register}); err != nil {
		return errors.Wrap(err, "persist error register")
	}
	return errors.Wrap(s.durable.Set(keyLastFault, []byte{byte(kind)}), "persist last fault")
}

func (s *ContextStore) read(key string, size int) ([]byte, error) {
	value, ok := s.durable.Get(key)
	if !ok {
		return make([]byte, size), nil
	}
	if len(value) != size {
		return nil, errors.Wrapf(ErrStoreCorrupted, "key %q holds %d bytes, want %d", key, len(value), size)
	}
	return value, nil
}

func (s *ContextStore) readU8(key string) (uint8, error) {
	v, err := s.read(key, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (s *ContextStore) readU16(key string) (uint16, error) {
	v, err := s.read(key, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

func (s *ContextStore) readU32(key string) (uint32, error) {
	v, err := s.read(key, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

func u16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
