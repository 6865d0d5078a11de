package radio

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrInjected = errors.New("injected radio failure")

// Simulated is an in-process Radio that logs every uplink. Failures can be
// injected to exercise the error paths of the node.
type Simulated struct {
	mu        sync.Mutex
	log       *logrus.Entry
	joined    bool
	fCnt      uint32
	failJoins int
	failSends int
	Sent      []entities.Frame
	SentPorts []uint8
	JoinCalls int
	SendCalls int
}

func NewSimulated(log *logrus.Entry) *Simulated {
	return &Simulated{log: log}
}

// FailJoins makes the next n join attempts fail.
func (s *Simulated) FailJoins(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failJoins = n
}

// FailSends makes the next n sends fail.
func (s *Simulated) FailSends(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSends = n
}

func (s *Simulated) RestoreSession(session entities.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !session.Valid || len(session.Blob) != 4 {
		return ErrNoSession
	}
	s.fCnt = uint32(session.Blob[0])<<24 | uint32(session.Blob[1])<<16 | uint32(session.Blob[2])<<8 | uint32(session.Blob[3])
	s.joined = true
	return nil
}

func (s *Simulated) Join(ctx context.Context, auth Auth, dr entities.DataRate) (entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.JoinCalls++
	if err := ctx.Err(); err != nil {
		return entities.Session{}, err
	}
	if s.failJoins > 0 {
		s.failJoins--
		return entities.Session{}, ErrInjected
	}
	s.joined = true
	s.fCnt = 0
	return s.session(), nil
}

func (s *Simulated) Send(ctx context.Context, frame entities.Frame, dr entities.DataRate, port uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendCalls++
	if !s.joined {
		return ErrNotJoined
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failSends > 0 {
		s.failSends--
		return ErrInjected
	}
	s.Sent = append(s.Sent, append(entities.Frame(nil), frame...))
	s.SentPorts = append(s.SentPorts, port)
	s.log.WithFields(logrus.Fields{"port": port, "fCnt": s.fCnt, "dr": dr}).Infof("uplink %s", hex.EncodeToString(frame))
	s.fCnt++
	return nil
}

func (s *Simulated) SaveSession() (entities.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return entities.Session{}, ErrNotJoined
	}
	return s.session(), nil
}

func (s *Simulated) session() entities.Session {
	return entities.Session{Valid: true, Blob: []byte{byte(s.fCnt >> 24), byte(s.fCnt >> 16), byte(s.fCnt >> 8), byte(s.fCnt)}}
}
