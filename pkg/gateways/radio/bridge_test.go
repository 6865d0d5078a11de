package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestBridge() (*Bridge, *network.AmqpMock, *mocks.PublisherMock) {
	amqpMock := new(network.AmqpMock)
	publisherMock := new(mocks.PublisherMock)
	amqpMock.On("Start", mock.Anything).Return(nil)
	bridge := NewBridge(amqpMock, publisherMock, quietLog())
	bridge.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return bridge, amqpMock, publisherMock
}

func TestBridgeJoinThenSendPublishesUplink(t *testing.T) {
	bridge, amqpMock, publisherMock := newTestBridge()
	session, err := bridge.Join(context.Background(), testAuth, 2)
	require.NoError(t, err)
	require.True(t, session.Valid)

	publisherMock.On("PublishUplink", mock.Anything, mock.MatchedBy(func(msg network.UplinkMessage) bool {
		return msg.DevEUI == "70B3D57ED0000001" && msg.FCnt == 0 && msg.FPort == 1 && msg.DataRate == 2 && len(msg.DevAddr) == 8
	})).Return(nil).Once()

	err = bridge.Send(context.Background(), entities.Frame{1, 0x0F}, 2, 1)

	require.NoError(t, err)
	publisherMock.AssertExpectations(t)
	amqpMock.AssertExpectations(t)
	saved, err := bridge.SaveSession()
	require.NoError(t, err)
	restored, err := decodeBridgeSession(saved.Blob)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), restored.fCnt)
}

func TestBridgeFailedPublishKeepsCounter(t *testing.T) {
	bridge, _, publisherMock := newTestBridge()
	_, err := bridge.Join(context.Background(), testAuth, 2)
	require.NoError(t, err)
	publisherMock.On("PublishUplink", mock.Anything, mock.Anything).Return(errors.New("channel closed"))

	err = bridge.Send(context.Background(), entities.Frame{1}, 2, 1)

	assert.Error(t, err)
	assert.Equal(t, uint32(0), bridge.session.fCnt)
}

func TestBridgeRestoreSessionResumesCounter(t *testing.T) {
	bridge, _, publisherMock := newTestBridge()
	blob := bridgeSession{devEUI: "70B3D57ED0000001", devAddr: 0x26011BDA, fCnt: 41}.encode()
	require.NoError(t, bridge.RestoreSession(entities.Session{Valid: true, Blob: blob}))

	publisherMock.On("PublishUplink", mock.Anything, mock.MatchedBy(func(msg network.UplinkMessage) bool {
		return msg.DevAddr == "26011bda" && msg.FCnt == 41
	})).Return(nil)

	require.NoError(t, bridge.Send(context.Background(), entities.Frame{2}, 0, 2))
	publisherMock.AssertExpectations(t)
}

func TestBridgeRejectsUnusableSessions(t *testing.T) {
	bridge, _, _ := newTestBridge()

	assert.ErrorIs(t, bridge.RestoreSession(entities.Session{}), ErrNoSession)
	assert.Error(t, bridge.RestoreSession(entities.Session{Valid: true, Blob: []byte{1, 2}}))
	assert.ErrorIs(t, bridge.Send(context.Background(), entities.Frame{1}, 0, 1), ErrNotJoined)
}

func TestBridgeJoinWhenBrokerUnreachableThenError(t *testing.T) {
	amqpMock := new(network.AmqpMock)
	amqpMock.On("Start", mock.Anything).Return(errors.New("dial tcp: connection refused"))
	bridge := NewBridge(amqpMock, new(mocks.PublisherMock), quietLog())

	_, err := bridge.Join(context.Background(), testAuth, 0)

	assert.Error(t, err)
	assert.Nil(t, bridge.session)
}
