package network

const uplinkQueueName = "uplink-receiver"

type Subscriber interface {
	SubscribeToUplinks(msgChan chan InMsg) error
}

type msgSubscriber struct {
	amqp Messaging
}

func NewMsgSubscriber(amqp Messaging) Subscriber {
	return &msgSubscriber{amqp}
}

func (ms *msgSubscriber) SubscribeToUplinks(msgChan chan InMsg) error {
	return ms.amqp.OnMessage(msgChan, uplinkQueueName, ExchangeUplink, ExchangeTypeFanout, "")
}
