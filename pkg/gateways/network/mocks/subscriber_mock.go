package mocks

import (
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/stretchr/testify/mock"
)

type SubscriberMock struct {
	mock.Mock
}

func (s *SubscriberMock) SubscribeToUplinks(msgChan chan network.InMsg) error {
	args := s.Called(msgChan)
	return args.Error(0)
}
