package sensor

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrTimeout     = errors.New("sensor read timed out")
	ErrInvalidData = errors.New("sensor returned an invalid value")
)

const retryInterval = 100 * time.Millisecond

// Sensor reads one channel. Implementations must return when ctx expires.
type Sensor interface {
	Read(ctx context.Context, channel entities.Channel) (float64, error)
}

// Collector acquires a reading set with every read bounded in time.
type Collector struct {
	sensor    Sensor
	timeout   time.Duration
	retries   uint64
	samples   int
	mandatory map[entities.Channel]bool
	log       *logrus.Entry
}

func NewCollector(sensor Sensor, conf entities.SensorConfig, log *logrus.Entry) *Collector {
	samples := conf.Samples
	if samples < 1 {
		samples = 1
	}
	retries := conf.Retries
	if retries < 0 {
		retries = 0
	}
	return &Collector{
		sensor:    sensor,
		timeout:   conf.Timeout(),
		retries:   uint64(retries),
		samples:   samples,
		mandatory: conf.MandatoryChannels(),
		log:       log,
	}
}

// Collect reads channels in order. An optional channel that cannot be read
// holds entities.Missing; a mandatory one aborts with a sensor failure.
func (c *Collector) Collect(ctx context.Context, channels []entities.Channel) (entities.ReadingSet, error) {
	readings := make(entities.ReadingSet, 0, len(channels))
	for _, ch := range channels {
		value, err := c.readChannel(ctx, ch)
		if err != nil {
			if c.mandatory[ch] || ctx.Err() != nil {
				return nil, entities.NewSensorFailure(ch, err)
			}
			c.log.WithError(err).WithField("channel", ch).Warn("optional channel unavailable")
			value = entities.Missing
		}
		readings = append(readings, entities.Reading{Channel: ch, Value: value})
	}
	return readings, nil
}

func (c *Collector) readChannel(ctx context.Context, ch entities.Channel) (float64, error) {
	sum := 0.0
	for i := 0; i < c.samples; i++ {
		v, err := c.readWithRetry(ctx, ch)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(c.samples), nil
}

func (c *Collector) readWithRetry(ctx context.Context, ch entities.Channel) (float64, error) {
	var value float64
	read := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		v, err := c.sensor.Read(attemptCtx, ch)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = ErrInvalidData
		}
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil) {
			err = ErrTimeout
		}
		if err != nil {
			return err
		}
		value = v
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.WithError(err).WithField("channel", ch).Debugf("read failed, retrying in %s", next)
	}
	if err := backoff.RetryNotify(read, backoff.WithContext(c.retryPolicy(), ctx), notify); err != nil {
		return 0, errors.Wrapf(err, "read %s", ch)
	}
	return value, nil
}

// retryPolicy allows 1 + retries attempts. WithMaxRetries treats 0 as
// unlimited, so no retries maps to StopBackOff.
func (c *Collector) retryPolicy() backoff.BackOff {
	if c.retries == 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), c.retries)
}
