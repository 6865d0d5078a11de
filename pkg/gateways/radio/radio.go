package radio

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	ActivationOTAA = "otaa"
	ActivationABP  = "abp"
)

var (
	ErrNotJoined    = errors.New("radio has no active session")
	ErrNoSession    = errors.New("no session to restore")
	ErrJoinRejected = errors.New("join rejected")
)

// Auth carries the activation credentials of the node.
type Auth struct {
	Activation string
	DevEUI     string
	AppEUI     string
	AppKey     string
}

func AuthFromConfig(conf entities.RadioConfig) Auth {
	return Auth{Activation: conf.Activation, DevEUI: conf.DevEUI, AppEUI: conf.AppEUI, AppKey: conf.AppKey}
}

// Radio is the LoRaWAN modem. Sessions are opaque to the caller.
type Radio interface {
	RestoreSession(session entities.Session) error
	Join(ctx context.Context, auth Auth, dr entities.DataRate) (entities.Session, error)
	Send(ctx context.Context, frame entities.Frame, dr entities.DataRate, port uint8) error
	SaveSession() (entities.Session, error)
}

// Link bounds every radio operation in time.
type Link struct {
	radio       Radio
	auth        Auth
	joinTimeout time.Duration
	sendTimeout time.Duration
	log         *logrus.Entry
	joined      bool

	initialInterval time.Duration
}

func NewLink(radio Radio, auth Auth, joinTimeout, sendTimeout time.Duration, log *logrus.Entry) *Link {
	return &Link{
		radio:           radio,
		auth:            auth,
		joinTimeout:     joinTimeout,
		sendTimeout:     sendTimeout,
		log:             log,
		initialInterval: 2 * time.Second,
	}
}

// Connect reuses the saved session when the radio accepts it, and joins
// otherwise. Joining retries with exponential backoff for at most the join
// timeout.
func (l *Link) Connect(ctx context.Context, session entities.Session, dr entities.DataRate) (entities.Session, error) {
	l.joined = false
	if session.Valid {
		err := l.radio.RestoreSession(session)
		if err == nil {
			l.joined = true
			l.log.Debug("radio session restored")
			return session, nil
		}
		l.log.WithError(err).Info("saved session rejected, joining")
	}

	ctx, cancel := context.WithTimeout(ctx, l.joinTimeout)
	defer cancel()

	joinBackOff := backoff.NewExponentialBackOff()
	joinBackOff.InitialInterval = l.initialInterval
	joinBackOff.MaxElapsedTime = l.joinTimeout

	var joined entities.Session
	attempt := 0
	join := func() error {
		attempt++
		var err error
		joined, err = l.radio.Join(ctx, l.auth, dr)
		if errors.Is(err, ErrJoinRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		l.log.WithError(err).WithField("attempt", attempt).Warnf("join failed, retrying in %s", next)
	}
	if err := backoff.RetryNotify(join, backoff.WithContext(joinBackOff, ctx), notify); err != nil {
		return entities.Session{}, errors.Wrapf(err, "join not accepted after %d attempts", attempt)
	}
	l.joined = true
	l.log.WithField("attempts", attempt).Info("joined network")
	return joined, nil
}

// Transmit sends frame once on the port named by its mode byte.
func (l *Link) Transmit(ctx context.Context, frame entities.Frame, dr entities.DataRate) error {
	if !l.joined {
		return ErrNotJoined
	}
	ctx, cancel := context.WithTimeout(ctx, l.sendTimeout)
	defer cancel()
	port := uint8(frame.Mode())
	if err := l.radio.Send(ctx, frame, dr, port); err != nil {
		return errors.Wrapf(err, "send %d bytes on port %d", len(frame), port)
	}
	l.log.WithFields(logrus.Fields{"port": port, "bytes": len(frame), "sf": dr.SpreadingFactor()}).Info("frame sent")
	return nil
}

// Joined reports whether Connect succeeded since the last Reset.
func (l *Link) Joined() bool {
	return l.joined
}

// Reset forgets the joined state at the start of a wake. The next send needs
// Connect to restore or rebuild the session first.
func (l *Link) Reset() {
	l.joined = false
}

// Session reads back the radio session after a send.
func (l *Link) Session() (entities.Session, error) {
	if !l.joined {
		return entities.Session{}, ErrNotJoined
	}
	return l.radio.SaveSession()
}
