package sensor

import (
	"context"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/stretchr/testify/mock"
)

type SensorMock struct {
	mock.Mock
}

func (m *SensorMock) Read(ctx context.Context, channel entities.Channel) (float64, error) {
	args := m.Called(ctx, channel)
	return args.Get(0).(float64), args.Error(1)
}
