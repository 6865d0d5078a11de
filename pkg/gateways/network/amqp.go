package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	ExchangeTypeDirect = "direct"
	ExchangeTypeFanout = "fanout"

	durable          = true
	deleteWhenUnused = false
	exclusive        = false
	noWait           = false
	internal         = false
	noAck            = true
	noLocal          = false
	consumerTag      = ""
)

var ErrNotConnected = errors.New("amqp connection not established")

// Messaging is the broker surface used by publishers and subscribers.
type Messaging interface {
	Start(ctx context.Context) error
	Stop()
	OnMessage(msgChan chan InMsg, queueName, exchangeName, exchangeType, key string) error
	PublishPersistentMessage(ctx context.Context, exchange, exchangeType, key string, data interface{}, options *MessageOptions) error
}

type AMQP struct {
	url               string
	log               *logrus.Entry
	mu                sync.Mutex
	conn              *amqp.Connection
	channel           *amqp.Channel
	stopped           bool
	exchangeLock      sync.Mutex
	declaredExchanges map[string]struct{}
	subscriptions     []subscription
}

type subscription struct {
	msgChan      chan InMsg
	queueName    string
	exchangeName string
	exchangeType string
	key          string
}

type InMsg struct {
	Exchange      string
	RoutingKey    string
	ReplyTo       string
	CorrelationID string
	Headers       map[string]interface{}
	Body          []byte
}

// MessageOptions represents the message publishing options
type MessageOptions struct {
	CorrelationID string
	ReplyTo       string
	Expiration    string
}

func NewAMQP(url string, log *logrus.Entry) *AMQP {
	return &AMQP{url: url, log: log, declaredExchanges: make(map[string]struct{})}
}

// Start dials the broker, retrying with exponential backoff until ctx ends.
// It is a no-op on a live connection.
func (a *AMQP) Start(ctx context.Context) error {
	if a.connected() {
		return nil
	}
	notify := func(err error, next time.Duration) {
		a.log.WithError(err).Warnf("broker unreachable, retrying in %s", next)
	}
	err := backoff.RetryNotify(a.connect, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), notify)
	if err != nil {
		return errors.Wrap(err, "connect to broker")
	}
	a.log.Info("connected to broker")
	go a.notifyWhenClosed()
	return nil
}

func (a *AMQP) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.channel != nil {
		a.channel.Close()
	}
	if a.conn != nil && !a.conn.IsClosed() {
		a.conn.Close()
	}
}

// OnMessage binds queueName to the exchange and forwards its deliveries to
// msgChan. The binding is restored after a reconnection.
func (a *AMQP) OnMessage(msgChan chan InMsg, queueName, exchangeName, exchangeType, key string) error {
	if err := a.consume(msgChan, queueName, exchangeName, exchangeType, key); err != nil {
		return err
	}
	a.mu.Lock()
	a.subscriptions = append(a.subscriptions, subscription{msgChan, queueName, exchangeName, exchangeType, key})
	a.mu.Unlock()
	return nil
}

func (a *AMQP) consume(msgChan chan InMsg, queueName, exchangeName, exchangeType, key string) error {
	channel, err := a.currentChannel()
	if err != nil {
		return err
	}
	if err = a.declareExchange(channel, exchangeName, exchangeType); err != nil {
		return errors.Wrapf(err, "declare exchange %s", exchangeName)
	}

	_, err = channel.QueueDeclare(
		queueName,
		durable,
		deleteWhenUnused,
		exclusive,
		noWait,
		nil, // arguments
	)
	if err != nil {
		return errors.Wrapf(err, "declare queue %s", queueName)
	}

	err = channel.QueueBind(
		queueName,
		key,
		exchangeName,
		noWait,
		nil, // arguments
	)
	if err != nil {
		return errors.Wrapf(err, "bind queue %s", queueName)
	}

	deliveries, err := channel.Consume(
		queueName,
		consumerTag,
		noAck,
		exclusive,
		noLocal,
		noWait,
		nil, // arguments
	)
	if err != nil {
		return errors.Wrapf(err, "consume queue %s", queueName)
	}

	go convertDeliveryToInMsg(deliveries, msgChan)

	return nil
}

func (a *AMQP) PublishPersistentMessage(ctx context.Context, exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	var corrID, expTime, replyTo string
	if options != nil {
		corrID = options.CorrelationID
		replyTo = options.ReplyTo
		expTime = options.Expiration
	}

	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	channel, err := a.currentChannel()
	if err != nil {
		return err
	}

	// declaring is a broker round trip, do it once per exchange
	if !a.exchangeAlreadyDeclared(exchange) {
		if err = a.declareExchange(channel, exchange, exchangeType); err != nil {
			return errors.Wrapf(err, "declare exchange %s", exchange)
		}
		a.exchangeLock.Lock()
		a.declaredExchanges[exchange] = struct{}{}
		a.exchangeLock.Unlock()
	}

	err = channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: corrID,
			ReplyTo:       replyTo,
			Body:          body,
			Expiration:    expTime,
			Timestamp:     time.Now(),
		},
	)
	return errors.Wrapf(err, "publish to %s", exchange)
}

func (a *AMQP) exchangeAlreadyDeclared(exchangeName string) bool {
	a.exchangeLock.Lock()
	defer a.exchangeLock.Unlock()
	_, ok := a.declaredExchanges[exchangeName]
	return ok
}

// Healthy reports ErrNotConnected while the broker link is down.
func (a *AMQP) Healthy() error {
	if !a.connected() {
		return ErrNotConnected
	}
	return nil
}

func (a *AMQP) connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil && !a.conn.IsClosed() && a.channel != nil
}

func (a *AMQP) currentChannel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil || a.conn == nil || a.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return a.channel, nil
}

func (a *AMQP) notifyWhenClosed() {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	errReason := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if errReason == nil {
		// closed by Stop
		return
	}
	a.log.WithError(errReason).Warn("broker connection lost")

	reconnectionBackOff := backoff.NewExponentialBackOff()
	reconnectionBackOff.InitialInterval = 30 * time.Second
	reconnectionBackOff.MaxInterval = 5 * time.Minute
	reconnectionBackOff.Multiplier = 1.7
	reconnectionBackOff.MaxElapsedTime = 0

	reconnection := func() error {
		a.mu.Lock()
		stopped := a.stopped
		a.mu.Unlock()
		if stopped {
			return nil
		}
		if err := a.connect(); err != nil {
			a.log.WithError(err).Errorf("reconnection failed, next attempt in %s", reconnectionBackOff.NextBackOff())
			return err
		}
		a.log.Info("reconnection to broker was successful")
		return nil
	}

	if err := backoff.Retry(reconnection, reconnectionBackOff); err != nil {
		return
	}
	a.exchangeLock.Lock()
	a.declaredExchanges = make(map[string]struct{})
	a.exchangeLock.Unlock()

	a.mu.Lock()
	subscriptions := append([]subscription(nil), a.subscriptions...)
	a.mu.Unlock()
	for _, sub := range subscriptions {
		if err := a.consume(sub.msgChan, sub.queueName, sub.exchangeName, sub.exchangeType, sub.key); err != nil {
			a.log.WithError(err).WithField("queue", sub.queueName).Error("subscription not restored")
		}
	}
	go a.notifyWhenClosed()
}

func (a *AMQP) connect() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.channel = channel
	a.mu.Unlock()
	return nil
}

func (a *AMQP) declareExchange(channel *amqp.Channel, name, exchangeType string) error {
	return channel.ExchangeDeclare(
		name,
		exchangeType,
		durable,
		deleteWhenUnused,
		internal,
		noWait,
		nil, // arguments
	)
}

func convertDeliveryToInMsg(deliveries <-chan amqp.Delivery, outMsg chan InMsg) {
	for d := range deliveries {
		outMsg <- InMsg{d.Exchange, d.RoutingKey, d.ReplyTo, d.CorrelationId, d.Headers, d.Body}
	}
}
