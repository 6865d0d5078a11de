package network

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeToUplinks(t *testing.T) {
	amqpMock := new(AmqpMock)
	msgChan := make(chan InMsg)
	amqpMock.On("OnMessage", msgChan, uplinkQueueName, ExchangeUplink, ExchangeTypeFanout, "").Return(nil)

	subscriber := NewMsgSubscriber(amqpMock)
	err := subscriber.SubscribeToUplinks(msgChan)
	assert.Nil(t, err)
	amqpMock.AssertExpectations(t)
}

func TestSubscribeToUplinksWhenBindFailsReturnError(t *testing.T) {
	amqpMock := new(AmqpMock)
	msgChan := make(chan InMsg)
	amqpMock.On("OnMessage", msgChan, uplinkQueueName, ExchangeUplink, ExchangeTypeFanout, "").Return(errors.New("access refused"))

	subscriber := NewMsgSubscriber(amqpMock)
	err := subscriber.SubscribeToUplinks(msgChan)
	assert.NotNil(t, err)
	amqpMock.AssertExpectations(t)
}
