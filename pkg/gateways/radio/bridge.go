package radio

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// bridge session blob: devAddr (4) | uplink counter (4) | devEUI
const sessionHeaderSize = 8

type bridgeSession struct {
	devEUI  string
	devAddr uint32
	fCnt    uint32
}

func (s bridgeSession) encode() []byte {
	blob := make([]byte, sessionHeaderSize, sessionHeaderSize+len(s.devEUI))
	binary.BigEndian.PutUint32(blob[0:4], s.devAddr)
	binary.BigEndian.PutUint32(blob[4:8], s.fCnt)
	return append(blob, s.devEUI...)
}

func decodeBridgeSession(blob []byte) (bridgeSession, error) {
	if len(blob) <= sessionHeaderSize {
		return bridgeSession{}, errors.Errorf("session blob of %d bytes is too short", len(blob))
	}
	return bridgeSession{
		devAddr: binary.BigEndian.Uint32(blob[0:4]),
		fCnt:    binary.BigEndian.Uint32(blob[4:8]),
		devEUI:  string(blob[sessionHeaderSize:]),
	}, nil
}

// Bridge is a Radio that forwards uplinks to the broker instead of the air.
type Bridge struct {
	messaging network.Messaging
	publisher network.Publisher
	log       *logrus.Entry
	session   *bridgeSession
	now       func() time.Time
}

func NewBridge(messaging network.Messaging, publisher network.Publisher, log *logrus.Entry) *Bridge {
	return &Bridge{messaging: messaging, publisher: publisher, log: log, now: time.Now}
}

func (b *Bridge) RestoreSession(session entities.Session) error {
	if !session.Valid {
		return ErrNoSession
	}
	s, err := decodeBridgeSession(session.Blob)
	if err != nil {
		return err
	}
	b.session = &s
	return nil
}

func (b *Bridge) Join(ctx context.Context, auth Auth, dr entities.DataRate) (entities.Session, error) {
	if err := validateAuth(auth); err != nil {
		return entities.Session{}, err
	}
	if err := b.messaging.Start(ctx); err != nil {
		return entities.Session{}, err
	}
	var addr [4]byte
	if _, err := rand.Read(addr[:]); err != nil {
		return entities.Session{}, errors.Wrap(err, "generate device address")
	}
	s := bridgeSession{devEUI: strings.ToUpper(auth.DevEUI), devAddr: binary.BigEndian.Uint32(addr[:])}
	b.session = &s
	b.log.WithFields(logrus.Fields{"devAddr": s.addr(), "sf": dr.SpreadingFactor()}).Debug("join accepted")
	return entities.Session{Valid: true, Blob: s.encode()}, nil
}

// Send publishes the frame; the uplink counter only advances once the broker
// has taken the message.
func (b *Bridge) Send(ctx context.Context, frame entities.Frame, dr entities.DataRate, port uint8) error {
	if b.session == nil {
		return ErrNotJoined
	}
	if err := b.messaging.Start(ctx); err != nil {
		return err
	}
	msg := network.UplinkMessage{
		DevEUI:   b.session.devEUI,
		DevAddr:  b.session.addr(),
		FPort:    port,
		FCnt:     b.session.fCnt,
		DataRate: uint8(dr),
		Payload:  append([]byte(nil), frame...),
		SentAt:   b.now().UTC(),
	}
	if err := b.publisher.PublishUplink(ctx, msg); err != nil {
		return err
	}
	b.session.fCnt++
	return nil
}

func (b *Bridge) SaveSession() (entities.Session, error) {
	if b.session == nil {
		return entities.Session{}, ErrNotJoined
	}
	return entities.Session{Valid: true, Blob: b.session.encode()}, nil
}

func (s bridgeSession) addr() string {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], s.devAddr)
	return hex.EncodeToString(a[:])
}

func validateAuth(auth Auth) error {
	switch auth.Activation {
	case ActivationOTAA:
		if auth.DevEUI == "" || auth.AppKey == "" {
			return errors.Wrap(ErrJoinRejected, "otaa needs devEui and appKey")
		}
	case ActivationABP:
		if auth.DevEUI == "" {
			return errors.Wrap(ErrJoinRejected, "abp needs devEui")
		}
	default:
		return errors.Wrapf(ErrJoinRejected, "unknown activation %q", auth.Activation)
	}
	return nil
}
