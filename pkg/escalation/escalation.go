package escalation

import (
	"context"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/codec"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/sirupsen/logrus"
)

// Level is the escalation level held in the durable error register.
type Level uint8

const (
	Healthy   Level = 0
	SoftError Level = 1
	HardError Level = 2
)

func (l Level) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case SoftError:
		return "soft"
	case HardError:
		return "hard"
	}
	return "unknown"
}

// Action is what the node does after a failed episode.
type Action uint8

const (
	// Restart reboots the node for another attempt.
	Restart Action = iota
	// Alert gives up: no further automatic reboot, only the fault indicator.
	Alert
)

func (a Action) String() string {
	if a == Restart {
		return "restart"
	}
	return "alert"
}

type Decision struct {
	Action         Action
	Level          Level
	Failure        entities.FailureKind
	DiagnosticSent bool
}

// FaultMarker persists the error register.
type FaultMarker interface {
	MarkFault(register uint8, kind entities.FailureKind) error
}

// Transmitter is the radio link used for the diagnostic frame.
type Transmitter interface {
	Joined() bool
	Connect(ctx context.Context, session entities.Session, dr entities.DataRate) (entities.Session, error)
	Transmit(ctx context.Context, frame entities.Frame, dr entities.DataRate) error
}

type Manager struct {
	store       FaultMarker
	transmitter Transmitter
	log         *logrus.Entry
}

func NewManager(store FaultMarker, transmitter Transmitter, log *logrus.Entry) *Manager {
	return &Manager{store: store, transmitter: transmitter, log: log}
}

// Escalate decides the reaction to failure given the register of the
// episode. The first failure after a healthy run earns one restart; any
// failure while the register is already set, a corrupted store, or a
// register that cannot be written ends in Alert.
func (m *Manager) Escalate(ctx context.Context, pctx entities.PersistentContext, failure *entities.Failure) Decision {
	log := m.log.WithFields(logrus.Fields{"failure": failure.Kind, "register": pctx.ErrorRegister})

	if failure.Kind != entities.FailurePersistentStoreCorruption && pctx.ErrorRegister == uint8(Healthy) {
		err := m.store.MarkFault(uint8(SoftError), failure.Kind)
		if err == nil {
			log.WithError(failure).Warn("soft error, restarting")
			return Decision{Action: Restart, Level: SoftError, Failure: failure.Kind}
		}
		log.WithError(err).Error("error register not persisted")
	}

	decision := Decision{Action: Alert, Level: HardError, Failure: failure.Kind}
	if err := m.sendDiagnostic(ctx, pctx, failure.Kind); err != nil {
		log.WithError(err).Warn("diagnostic frame not sent")
	} else {
		decision.DiagnosticSent = true
	}
	log.WithError(failure).Error("hard error, giving up")
	return decision
}

// sendDiagnostic reports kind at the high data rate, restoring the saved
// session or joining first when the failure came before the link was up.
func (m *Manager) sendDiagnostic(ctx context.Context, pctx entities.PersistentContext, kind entities.FailureKind) error {
	dr := pctx.Schedule.HighDataRate
	if !m.transmitter.Joined() {
		if _, err := m.transmitter.Connect(ctx, pctx.Session, dr); err != nil {
			return err
		}
	}
	return m.transmitter.Transmit(ctx, codec.EncodeDiagnostic(pctx.FirmwareVersion, kind), dr)
}
