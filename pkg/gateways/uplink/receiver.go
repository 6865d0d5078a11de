package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	bloomFilter "github.com/bits-and-blooms/bloom/v3"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/codec"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrUnknownNode = errors.New("no uplink received from node")

// Measurement is the latest decoded uplink of a node.
type Measurement struct {
	DevEUI     string             `json:"devEui"`
	DevAddr    string             `json:"devAddr"`
	FCnt       uint32             `json:"fCnt"`
	Mode       string             `json:"mode"`
	DataRate   uint8              `json:"dataRate"`
	ReceivedAt time.Time          `json:"receivedAt"`
	SentAt     time.Time          `json:"sentAt"`
	Values     map[string]float64 `json:"values"`
	Missing    []string           `json:"missing,omitempty"`
}

// Receiver decodes uplinks and drops retransmitted frame counters. The node
// commits its counter only after a confirmed send, so the same counter can
// reach the broker twice.
type Receiver struct {
	codec                        *codec.Codec
	log                          *logrus.Entry
	mu                           sync.Mutex
	filters                      map[string]*bloomFilter.BloomFilter
	latest                       map[string]Measurement
	filterCapacity               uint
	duplicationProbability       float64
	maximumPercentageFilterUsage float32
	received                     uint64
	duplicates                   uint64
	now                          func() time.Time
}

func NewReceiver(c *codec.Codec, conf entities.GatewayConfig, log *logrus.Entry) *Receiver {
	return &Receiver{
		codec:                        c,
		log:                          log,
		filters:                      make(map[string]*bloomFilter.BloomFilter),
		latest:                       make(map[string]Measurement),
		filterCapacity:               conf.FilterCapacity,
		duplicationProbability:       conf.DuplicationProbability,
		maximumPercentageFilterUsage: conf.ResetFilterUsagePercentage,
		now:                          time.Now,
	}
}

// Listen subscribes to the uplink exchange and handles messages until ctx
// ends.
func (r *Receiver) Listen(ctx context.Context, subscriber network.Subscriber) error {
	msgChan := make(chan network.InMsg)
	if err := subscriber.SubscribeToUplinks(msgChan); err != nil {
		return errors.Wrap(err, "subscribe to uplinks")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgChan:
				if err := r.Handle(msg); err != nil {
					r.log.WithError(err).Warn("uplink dropped")
				}
			}
		}
	}()
	return nil
}

// Handle processes one broker message. A duplicate is not an error.
func (r *Receiver) Handle(msg network.InMsg) error {
	var up network.UplinkMessage
	if err := json.Unmarshal(msg.Body, &up); err != nil {
		return errors.Wrap(err, "decode uplink message")
	}
	if up.DevEUI == "" {
		return errors.New("uplink without devEui")
	}
	mode, readings, err := r.codec.Decode(up.Payload)
	if err != nil {
		return errors.Wrapf(err, "decode payload from %s", up.DevEUI)
	}
	if uint8(mode) != up.FPort {
		return errors.Errorf("mode %d does not match port %d", mode, up.FPort)
	}

	node := strings.ToUpper(up.DevEUI)
	key := fmt.Sprintf("%s_%d", up.DevAddr, up.FCnt)
	log := r.log.WithFields(logrus.Fields{"devEui": node, "fCnt": up.FCnt, "mode": mode})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	if r.isMeasurementDuplicated(node, key) {
		r.duplicates++
		log.Info("retransmission dropped")
		return nil
	}
	r.updateDuplicationFilter(node, key)

	m := Measurement{
		DevEUI:     node,
		DevAddr:    up.DevAddr,
		FCnt:       up.FCnt,
		Mode:       mode.String(),
		DataRate:   up.DataRate,
		ReceivedAt: r.now().UTC(),
		SentAt:     up.SentAt,
	}
	m.Values, m.Missing = values(readings)
	r.latest[node] = m
	log.Debug("uplink stored")
	return nil
}

// Latest returns the most recent measurement of the node with devEUI.
func (r *Receiver) Latest(devEUI string) (Measurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.latest[strings.ToUpper(devEUI)]
	if !ok {
		return Measurement{}, errors.Wrap(ErrUnknownNode, devEUI)
	}
	return m, nil
}

// Stats returns the number of handled and dropped uplinks.
func (r *Receiver) Stats() (received, duplicates uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.duplicates
}

func (r *Receiver) isMeasurementDuplicated(node, key string) bool {
	filter, ok := r.filters[node]
	if !ok {
		return false
	}
	return filter.TestString(key)
}

func (r *Receiver) updateDuplicationFilter(node, key string) {
	filter, ok := r.filters[node]
	if !ok {
		filter = bloomFilter.NewWithEstimates(r.filterCapacity, r.duplicationProbability)
		r.filters[node] = filter
	}
	r.resetDuplicationFilter(node, filter)
	filter.AddString(key)
}

// resetDuplicationFilter clears a filter once it holds enough keys for the
// false positive rate to degrade.
func (r *Receiver) resetDuplicationFilter(node string, filter *bloomFilter.BloomFilter) {
	usage := float32(filter.ApproximatedSize()) / float32(r.filterCapacity) * 100
	if usage >= r.maximumPercentageFilterUsage {
		r.log.WithField("devEui", node).Infof("duplication filter at %.0f%%, clearing", usage)
		filter.ClearAll()
	}
}

// values splits readings into measured values and the names of channels
// the node reported as missing.
func values(readings entities.ReadingSet) (map[string]float64, []string) {
	out := make(map[string]float64, len(readings))
	var missing []string
	for _, rd := range readings {
		if entities.IsMissing(rd.Value) {
			missing = append(missing, rd.Channel.String())
			continue
		}
		out[rd.Channel.String()] = rd.Value
	}
	return out, missing
}
