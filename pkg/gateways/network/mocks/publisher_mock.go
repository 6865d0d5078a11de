package mocks

import (
	"context"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (p *PublisherMock) PublishUplink(ctx context.Context, msg network.UplinkMessage) error {
	args := p.Called(ctx, msg)
	return args.Error(0)
}
