package controller

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/codec"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/escalation"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/radio"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/sensor"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type fakePlatform struct {
	mu        sync.Mutex
	cause     entities.WakeCause
	wokeAt    time.Time
	elapsed   time.Duration
	slept     []time.Duration
	suspends  []time.Duration
	restarts  int
	alerts    int
	onSuspend func()
}

func newFakePlatform(cause entities.WakeCause) *fakePlatform {
	return &fakePlatform{cause: cause, wokeAt: time.Now(), elapsed: 45 * time.Second}
}

func (p *fakePlatform) WakeCause() entities.WakeCause { return p.cause }
func (p *fakePlatform) WokeAt() time.Time             { return p.wokeAt }
func (p *fakePlatform) Now() time.Time                { return p.wokeAt.Add(p.elapsed) }

func (p *fakePlatform) Sleep(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slept = append(p.slept, d)
	return ctx.Err()
}

func (p *fakePlatform) Suspend(ctx context.Context, d time.Duration, sources []entities.WakeSource) error {
	p.suspends = append(p.suspends, d)
	p.cause = entities.WakeTimer
	p.wokeAt = time.Now()
	if p.onSuspend != nil {
		p.onSuspend()
	}
	return ctx.Err()
}

func (p *fakePlatform) Restart(ctx context.Context) {
	p.restarts++
	p.cause = entities.WakeReset
	p.wokeAt = time.Now()
}

func (p *fakePlatform) Alert(ctx context.Context) {
	p.alerts++
}

type recordingSink struct {
	shown [][]entities.Line
}

func (s *recordingSink) Show(lines []entities.Line) {
	s.shown = append(s.shown, lines)
}

func (s *recordingSink) texts() []string {
	var out []string
	for _, page := range s.shown {
		for _, l := range page {
			out = append(out, l.Text)
		}
	}
	return out
}

var allSensors = map[string]float64{
	"battery":     3.92,
	"temperature": 23.4,
	"pressure":    1013.2,
	"humidity":    48,
	"volume":      41.5,
	"light":       320,
	"uv":          2,
	"voc":         120000,
	"co2":         612,
	"pm25":        4.1,
	"pm10":        7.9,
	"latitude":    51.0543,
	"longitude":   3.7174,
	"altitude":    11.2,
}

type ControllerSuite struct {
	suite.Suite
	log      *logrus.Entry
	durable  *storage.MemoryStore
	retained *storage.MemoryRetained
	store    *storage.ContextStore
	radio    *radio.Simulated
	platform *fakePlatform
	sink     *recordingSink
	sensors  map[string]float64
}

func (s *ControllerSuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)
	s.log = logrus.NewEntry(log)
	s.durable = storage.NewMemoryStore()
	s.retained = new(storage.MemoryRetained)
	s.store = storage.NewContextStore(s.durable, s.retained, s.log)
	s.Require().NoError(s.store.Provision(264, entities.DefaultNodeConfig().ScheduleConfig()))
	s.radio = radio.NewSimulated(s.log)
	s.platform = newFakePlatform(entities.WakePowerOn)
	s.sink = new(recordingSink)
	s.sensors = allSensors
}

func (s *ControllerSuite) newController() *Controller {
	c, err := codec.New(codec.DefaultRules(), codec.DefaultLayouts())
	s.Require().NoError(err)
	sensorConf := entities.SensorConfig{TimeoutMs: 20, Retries: 0, Samples: 1, Mandatory: []string{"battery"}}
	collector := sensor.NewCollector(sensor.NewSimulated(s.sensors, 0, 1), sensorConf, s.log)
	link := radio.NewLink(s.radio, radio.Auth{Activation: radio.ActivationOTAA}, time.Second, time.Second, s.log)
	timing := Timing{
		Interval: 600 * time.Second,
		Margin:   2800 * time.Millisecond,
		WarmUp:   25 * time.Second,
		MaxAwake: 180 * time.Second,
		Display:  8 * time.Second,
	}
	return New("node-01", timing, Dependencies{
		Store:     s.store,
		Codec:     c,
		Collector: collector,
		Link:      link,
		Escalator: escalation.NewManager(s.store, link, s.log),
		Platform:  s.platform,
		Status:    s.sink,
	}, s.log)
}

func (s *ControllerSuite) restore() entities.PersistentContext {
	pctx, err := s.store.Restore()
	s.Require().NoError(err)
	return pctx
}

func (s *ControllerSuite) TestGivenHealthyEpisodeThenCommitAndSuspend() {
	out := s.newController().RunEpisode(context.Background())

	s.Equal(OutcomeSuspend, out.Kind)
	s.Nil(out.Failure)
	s.Equal(600*time.Second-45*time.Second-2800*time.Millisecond, out.Sleep)
	s.Equal(uint32(1), s.restore().FrameCounter)
	s.Len(s.radio.Sent, 1)
	s.True(s.restore().Session.Valid)
}

func (s *ControllerSuite) TestGivenSuccessiveEpisodesThenScheduleRotatesModes() {
	c := s.newController()
	s.platform.cause = entities.WakeTimer

	var modes []entities.Mode
	for i := 0; i < 3; i++ {
		out := c.RunEpisode(context.Background())
		s.Require().Equal(OutcomeSuspend, out.Kind)
		modes = append(modes, out.Mode)
	}

	s.Equal([]entities.Mode{entities.ModeRich, entities.ModeGPS, entities.ModeMinimal}, modes)
	s.Equal([]uint8{2, 3, 1}, s.radio.SentPorts)
	s.Equal(uint32(3), s.restore().FrameCounter)
	s.Equal(1, s.radio.JoinCalls, "later episodes reuse the retained session")
}

func (s *ControllerSuite) TestGivenRichModeThenSensorsWarmUp() {
	s.newController().RunEpisode(context.Background())

	s.Require().NotEmpty(s.platform.slept)
	s.Equal(25*time.Second, s.platform.slept[0])
}

func (s *ControllerSuite) TestGivenButtonPressThenRichFrameAtHighRate() {
	for i := 0; i < 2; i++ {
		s.newController().RunEpisode(context.Background())
	}
	s.platform.cause = entities.WakeButtonPress

	out := s.newController().RunEpisode(context.Background())

	s.Equal(entities.ModeRich, out.Mode)
	s.Equal(entities.Frame(s.radio.Sent[2]), out.Frame)
}

func (s *ControllerSuite) TestGivenGPSFrameThenFirmwareFromContext() {
	c := s.newController()
	c.RunEpisode(context.Background())

	out := c.RunEpisode(context.Background())

	s.Require().Equal(entities.ModeGPS, out.Mode)
	n := len(out.Frame)
	s.Equal([]byte{0x01, 0x08}, []byte(out.Frame[n-2:]))
}

func (s *ControllerSuite) TestGivenMandatoryChannelMissingThenNoTransmission() {
	s.sensors = map[string]float64{"temperature": 20}

	out := s.newController().RunEpisode(context.Background())

	s.Equal(OutcomeRestart, out.Kind)
	s.Require().NotNil(out.Failure)
	s.Equal(entities.FailureSensorTimeout, out.Failure.Kind)
	s.Equal(entities.ChannelBattery, out.Failure.Channel)
	s.Zero(s.radio.JoinCalls)
	s.Zero(s.radio.SendCalls)
	s.Equal(uint8(1), s.restore().ErrorRegister)
	s.Equal(uint32(0), s.restore().FrameCounter)
}

func (s *ControllerSuite) TestGivenMandatoryChannelMissingTwiceThenDiagnosticJoinsAndSends() {
	s.sensors = map[string]float64{"temperature": 20}
	c := s.newController()

	first := c.RunEpisode(context.Background())
	s.Require().Equal(OutcomeRestart, first.Kind)
	s.Zero(s.radio.JoinCalls)

	s.platform.cause = entities.WakeReset
	second := c.RunEpisode(context.Background())

	s.Equal(OutcomeHalt, second.Kind)
	s.Equal(1, s.radio.JoinCalls)
	s.Require().Len(s.radio.Sent, 1)
	s.Equal(entities.Frame{4, 0x01, 0x08, byte(entities.FailureSensorTimeout)}, s.radio.Sent[0])
	s.Equal([]uint8{4}, s.radio.SentPorts)
}

func (s *ControllerSuite) TestGivenJoinedEarlierThenNextEpisodeStartsUnjoined() {
	c := s.newController()
	s.Require().Equal(OutcomeSuspend, c.RunEpisode(context.Background()).Kind)
	s.Require().NoError(s.durable.Set("fcnt", []byte{1}))

	out := c.RunEpisode(context.Background())

	s.Equal(OutcomeHalt, out.Kind)
	s.Equal(2, s.radio.JoinCalls, "diagnostic does not ride the previous episode's link")
	s.Require().Len(s.radio.Sent, 2)
	s.Equal(byte(entities.ModeDiagnostic), s.radio.Sent[1][0])
}

func (s *ControllerSuite) TestGivenOptionalChannelMissingThenFrameStillSent() {
	s.sensors = map[string]float64{"battery": 3.9, "temperature": 21}
	s.platform.cause = entities.WakeTimer
	c := s.newController()
	c.RunEpisode(context.Background())
	c.RunEpisode(context.Background())

	out := c.RunEpisode(context.Background())

	s.Equal(OutcomeSuspend, out.Kind)
	s.Equal(entities.ModeMinimal, out.Mode)
	s.Equal(entities.Frame{0x01, 0x0F, 0x3C, 0x00, 0xD2}, out.Frame[:5])
	for _, b := range out.Frame[5:] {
		s.Equal(byte(0xFF), b)
	}
}

func (s *ControllerSuite) TestEscalationLadder() {
	s.radio.FailSends(2)
	c := s.newController()

	first := c.RunEpisode(context.Background())
	s.Equal(OutcomeRestart, first.Kind)
	s.Equal(entities.FailureRadioSendFailure, first.Failure.Kind)
	s.Equal(uint8(1), s.restore().ErrorRegister)

	s.platform.cause = entities.WakeReset
	second := c.RunEpisode(context.Background())
	s.Equal(OutcomeHalt, second.Kind)
	s.Require().Len(s.radio.Sent, 1)
	s.Equal(entities.Frame{4, 0x01, 0x08, byte(entities.FailureRadioSendFailure)}, s.radio.Sent[0])
	s.Equal(uint8(1), s.restore().ErrorRegister)
	s.Contains(s.sink.texts(), "no connection")

	third := c.RunEpisode(context.Background())
	s.Equal(OutcomeSuspend, third.Kind)
	s.Equal(uint8(0), s.restore().ErrorRegister)
	s.Equal(entities.FailureNone, s.restore().LastFault)
}

func (s *ControllerSuite) TestGivenJoinRefusedThenJoinTimeoutFailure() {
	s.radio.FailJoins(1 << 20)

	out := s.newController().RunEpisode(context.Background())

	s.Equal(OutcomeRestart, out.Kind)
	s.Equal(entities.FailureRadioJoinTimeout, out.Failure.Kind)
	s.Zero(s.radio.SendCalls)
}

func (s *ControllerSuite) TestGivenCorruptedStoreThenHalt() {
	s.Require().NoError(s.durable.Set("fcnt", []byte{1}))

	out := s.newController().RunEpisode(context.Background())

	s.Equal(OutcomeHalt, out.Kind)
	s.Equal(entities.FailurePersistentStoreCorruption, out.Failure.Kind)
}

func (s *ControllerSuite) TestDisplayShowsBannerAndReadings() {
	s.newController().RunEpisode(context.Background())

	texts := s.sink.texts()
	s.Require().NotEmpty(texts)
	s.Equal("node-01", texts[0])
	s.Contains(texts, "FW 264")
	s.Contains(texts, "Temp 23.4 C")
	s.Contains(texts, "Battery 3.920 V")
}

func (s *ControllerSuite) TestGivenRichReadingsThenEveryPageHeldForDisplayTime() {
	s.newController().RunEpisode(context.Background())

	s.Equal([]time.Duration{25 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, s.platform.slept)
	s.Len(s.sink.shown, 4)
}

func (s *ControllerSuite) TestRunSuspendsUntilCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	s.platform.onSuspend = func() {
		if len(s.platform.suspends) == 2 {
			cancel()
		}
	}

	err := s.newController().Run(ctx)

	s.ErrorIs(err, context.Canceled)
	s.Len(s.platform.suspends, 2)
	s.Equal(uint32(2), s.restore().FrameCounter)
}

func (s *ControllerSuite) TestRunRestartsThenHaltsWithAlert() {
	s.radio.FailSends(1 << 20)

	err := s.newController().Run(context.Background())

	failure, ok := entities.AsFailure(err)
	s.Require().True(ok)
	s.Equal(entities.FailureRadioSendFailure, failure.Kind)
	s.Equal(1, s.platform.restarts)
	s.Equal(1, s.platform.alerts)
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

type deadlineCollector struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineCollector) Collect(ctx context.Context, channels []entities.Channel) (entities.ReadingSet, error) {
	d.deadline, d.ok = ctx.Deadline()
	return nil, entities.NewSensorFailure(entities.ChannelBattery, sensor.ErrTimeout)
}

type noopEscalator struct{}

func (noopEscalator) Escalate(context.Context, entities.PersistentContext, *entities.Failure) escalation.Decision {
	return escalation.Decision{Action: escalation.Alert}
}

func TestEpisodeIsBoundedByMaxAwake(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)
	store := storage.NewContextStore(storage.NewMemoryStore(), new(storage.MemoryRetained), entry)
	c, err := codec.New(codec.DefaultRules(), codec.DefaultLayouts())
	assert.NoError(t, err)
	platform := newFakePlatform(entities.WakeTimer)
	collector := &deadlineCollector{}

	link := radio.NewLink(radio.NewSimulated(entry), radio.Auth{Activation: radio.ActivationOTAA}, time.Second, time.Second, entry)

	ctrl := New("node-01", Timing{Interval: time.Minute, MaxAwake: 30 * time.Second}, Dependencies{
		Store:     store,
		Codec:     c,
		Collector: collector,
		Link:      link,
		Escalator: noopEscalator{},
		Platform:  platform,
	}, entry)
	out := ctrl.RunEpisode(context.Background())

	assert.Equal(t, OutcomeHalt, out.Kind)
	assert.True(t, collector.ok)
	assert.Equal(t, platform.wokeAt.Add(30*time.Second), collector.deadline)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "transmitting", StateTransmitting.String())
	assert.Equal(t, "error-handling", StateErrorHandling.String())
	assert.Equal(t, "halt", OutcomeHalt.String())
}
