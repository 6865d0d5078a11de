package escalation

import (
	"context"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/stretchr/testify/mock"
)

type FaultMarkerMock struct {
	mock.Mock
}

func (m *FaultMarkerMock) MarkFault(register uint8, kind entities.FailureKind) error {
	args := m.Called(register, kind)
	return args.Error(0)
}

type TransmitterMock struct {
	mock.Mock
}

func (m *TransmitterMock) Transmit(ctx context.Context, frame entities.Frame, dr entities.DataRate) error {
	args := m.Called(ctx, frame, dr)
	return args.Error(0)
}

func (m *TransmitterMock) Joined() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *TransmitterMock) Connect(ctx context.Context, session entities.Session, dr entities.DataRate) (entities.Session, error) {
	args := m.Called(ctx, session, dr)
	return args.Get(0).(entities.Session), args.Error(1)
}
