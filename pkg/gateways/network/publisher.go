package network

import (
	"context"
	"fmt"
)

const (
	ExchangeUplink        = "uplink"
	defaultExpirationTime = "86400000"
)

type Publisher interface {
	PublishUplink(ctx context.Context, msg UplinkMessage) error
}

type msgPublisher struct {
	amqp Messaging
}

func NewMsgPublisher(amqp Messaging) Publisher {
	return &msgPublisher{amqp}
}

func (mp *msgPublisher) PublishUplink(ctx context.Context, msg UplinkMessage) error {
	options := MessageOptions{
		CorrelationID: correlationID(msg),
		Expiration:    defaultExpirationTime,
	}
	return mp.amqp.PublishPersistentMessage(ctx, ExchangeUplink, ExchangeTypeFanout, "", msg, &options)
}

func correlationID(msg UplinkMessage) string {
	return fmt.Sprintf("%s-%d", msg.DevAddr, msg.FCnt)
}
