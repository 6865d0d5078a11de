package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/mux"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/codec"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const devEUI = "70B3D57ED0000001"

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestReceiver(t *testing.T) (*Receiver, *codec.Codec) {
	c, err := codec.New(codec.DefaultRules(), codec.DefaultLayouts())
	require.NoError(t, err)
	conf := entities.DefaultGatewayConfig()
	conf.FilterCapacity = 1000
	r := NewReceiver(c, conf, quietLog())
	r.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return r, c
}

func minimalFrame(t *testing.T, c *codec.Codec, temperature float64) entities.Frame {
	readings := entities.ReadingSet{
		{Channel: entities.ChannelBattery, Value: 3.9},
		{Channel: entities.ChannelTemperature, Value: temperature},
		{Channel: entities.ChannelPressure, Value: 1013.2},
		{Channel: entities.ChannelHumidity, Value: 48},
		{Channel: entities.ChannelVolume, Value: 41.5},
		{Channel: entities.ChannelLight, Value: 320},
		{Channel: entities.ChannelUV, Value: 2},
		{Channel: entities.ChannelVOC, Value: 120000},
	}
	frame, err := c.Encode(entities.ModeMinimal, readings)
	require.NoError(t, err)
	return frame
}

func uplinkMsg(t *testing.T, frame entities.Frame, fCnt uint32) network.InMsg {
	body, err := json.Marshal(network.UplinkMessage{
		DevEUI:   devEUI,
		DevAddr:  "26011bda",
		FPort:    uint8(frame.Mode()),
		FCnt:     fCnt,
		DataRate: 2,
		Payload:  frame,
	})
	require.NoError(t, err)
	return network.InMsg{Exchange: network.ExchangeUplink, Body: body}
}

func TestGivenUplinkThenLatestMeasurementDecoded(t *testing.T) {
	r, c := newTestReceiver(t)

	require.NoError(t, r.Handle(uplinkMsg(t, minimalFrame(t, c, 23.4), 0)))

	m, err := r.Latest(strings.ToLower(devEUI))
	require.NoError(t, err)
	assert.Equal(t, "minimal", m.Mode)
	assert.InDelta(t, 23.4, m.Values["temperature"], 1e-9)
	assert.InDelta(t, 3.9, m.Values["battery"], 1e-9)
}

func TestGivenRetransmittedCounterThenDropped(t *testing.T) {
	r, c := newTestReceiver(t)

	require.NoError(t, r.Handle(uplinkMsg(t, minimalFrame(t, c, 20), 5)))
	require.NoError(t, r.Handle(uplinkMsg(t, minimalFrame(t, c, 30), 5)))

	m, err := r.Latest(devEUI)
	require.NoError(t, err)
	assert.InDelta(t, 20, m.Values["temperature"], 1e-9)
	received, duplicates := r.Stats()
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(1), duplicates)
}

func TestGivenNextCounterThenLatestReplaced(t *testing.T) {
	r, c := newTestReceiver(t)

	require.NoError(t, r.Handle(uplinkMsg(t, minimalFrame(t, c, 20), 5)))
	require.NoError(t, r.Handle(uplinkMsg(t, minimalFrame(t, c, 21), 6)))

	m, err := r.Latest(devEUI)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), m.FCnt)
	assert.InDelta(t, 21, m.Values["temperature"], 1e-9)
}

func TestGivenDiagnosticUplinkThenStored(t *testing.T) {
	r, _ := newTestReceiver(t)

	require.NoError(t, r.Handle(uplinkMsg(t, codec.EncodeDiagnostic(264, entities.FailureRadioSendFailure), 9)))

	m, err := r.Latest(devEUI)
	require.NoError(t, err)
	assert.Equal(t, "diagnostic", m.Mode)
	assert.Equal(t, 264.0, m.Values["firmware_version"])
	assert.Equal(t, float64(entities.FailureRadioSendFailure), m.Values["error_code"])
}

func TestGivenBadUplinksThenRejected(t *testing.T) {
	r, c := newTestReceiver(t)

	assert.Error(t, r.Handle(network.InMsg{Body: []byte("{")}))
	assert.Error(t, r.Handle(uplinkMsg(t, entities.Frame{1, 2, 3}, 1)))

	msg := uplinkMsg(t, minimalFrame(t, c, 20), 1)
	var up network.UplinkMessage
	require.NoError(t, json.Unmarshal(msg.Body, &up))
	up.FPort = 3
	msg.Body, _ = json.Marshal(up)
	assert.Error(t, r.Handle(msg))

	_, err := r.Latest(devEUI)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestGivenFilterFullThenCleared(t *testing.T) {
	r, c := newTestReceiver(t)
	r.filterCapacity = 10
	r.maximumPercentageFilterUsage = 50
	frame := minimalFrame(t, c, 20)

	for fCnt := uint32(0); fCnt < 20; fCnt++ {
		require.NoError(t, r.Handle(uplinkMsg(t, frame, fCnt)))
	}

	assert.Less(t, r.filters[devEUI].ApproximatedSize(), uint32(10))
}

func TestListenHandlesSubscribedMessages(t *testing.T) {
	r, c := newTestReceiver(t)
	subscriber := new(mocks.SubscriberMock)
	var msgChan chan network.InMsg
	subscriber.On("SubscribeToUplinks", mock.Anything).Run(func(args mock.Arguments) {
		msgChan = args.Get(0).(chan network.InMsg)
	}).Return(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Listen(ctx, subscriber))
	msgChan <- uplinkMsg(t, minimalFrame(t, c, 22), 1)

	assert.Eventually(t, func() bool {
		_, err := r.Latest(devEUI)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	subscriber.AssertExpectations(t)
}

func TestListenWhenSubscribeFailsThenError(t *testing.T) {
	r, _ := newTestReceiver(t)
	subscriber := new(mocks.SubscriberMock)
	subscriber.On("SubscribeToUplinks", mock.Anything).Return(errors.New("access refused"))

	assert.Error(t, r.Listen(context.Background(), subscriber))
}

func serve(t *testing.T, store MeasurementStore, broker HealthFunc, path string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	InitializeRouter(router, store, broker, quietLog())
	r, err := http.NewRequest("GET", path, strings.NewReader(""))
	require.NoError(t, err)
	r.Header.Add("Accept", "application/json")
	rec := httptest.NewRecorder()
	rw := negroni.NewResponseWriter(rec)
	router.ServeHTTP(rw, r)
	return rec
}

func TestHealthCheckOK(t *testing.T) {
	r, _ := newTestReceiver(t)

	rec := serve(t, r, func() error { return nil }, "/healthcheck")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","received":0,"duplicates":0}`, rec.Body.String())
}

func TestHealthCheckBrokerDown(t *testing.T) {
	r, _ := newTestReceiver(t)

	rec := serve(t, r, func() error { return network.ErrNotConnected }, "/healthcheck")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestLatestMeasurementRoute(t *testing.T) {
	r, c := newTestReceiver(t)
	require.NoError(t, r.Handle(uplinkMsg(t, minimalFrame(t, c, 23.4), 3)))

	rec := serve(t, r, nil, "/nodes/"+devEUI+"/latest")

	require.Equal(t, http.StatusOK, rec.Code)
	var m Measurement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, uint32(3), m.FCnt)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestGivenMissingChannelThenReportedAndServed(t *testing.T) {
	r, c := newTestReceiver(t)
	readings := entities.ReadingSet{
		{Channel: entities.ChannelBattery, Value: 3.9},
		{Channel: entities.ChannelTemperature, Value: 21},
		{Channel: entities.ChannelPressure, Value: 1013.2},
		{Channel: entities.ChannelHumidity, Value: 48},
		{Channel: entities.ChannelVolume, Value: 41.5},
		{Channel: entities.ChannelLight, Value: entities.Missing},
		{Channel: entities.ChannelUV, Value: 0},
		{Channel: entities.ChannelVOC, Value: 120000},
	}
	frame, err := c.Encode(entities.ModeMinimal, readings)
	require.NoError(t, err)
	require.NoError(t, r.Handle(uplinkMsg(t, frame, 4)))

	rec := serve(t, r, nil, "/nodes/"+devEUI+"/latest")

	require.Equal(t, http.StatusOK, rec.Code)
	var m Measurement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, []string{"light"}, m.Missing)
	assert.NotContains(t, m.Values, "light")
	assert.Equal(t, 0.0, m.Values["uv"])
}

func TestLatestMeasurementUnknownNode(t *testing.T) {
	r, _ := newTestReceiver(t)

	rec := serve(t, r, nil, "/nodes/0000000000000000/latest")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
